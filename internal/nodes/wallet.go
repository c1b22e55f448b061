package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/httpprobe"
)

// runWalletSuite implements spec.md §4.12's wallet sub-suite, gated on the
// chain profile's class_wallet flag.
func (c *Composer) runWalletSuite(ctx context.Context, rec *findings.Recorder, base string) {
	if c.chain.TestAccount != "" {
		c.assertAccountsNonEmpty(ctx, rec, base, fmt.Sprintf(`{"accounts":["%s"]}`, c.chain.TestAccount), "get_accounts_by_authorizers (accounts)")
	}
	if c.chain.TestPublicKey != "" {
		c.assertAccountsNonEmpty(ctx, rec, base, fmt.Sprintf(`{"keys":["%s"]}`, c.chain.TestPublicKey), "get_accounts_by_authorizers (keys)")
	}
}

func (c *Composer) assertAccountsNonEmpty(ctx context.Context, rec *findings.Recorder, base, body, label string) {
	resp := c.prober.Do(ctx, httpprobe.Request{
		Method: "POST", URL: base + "/v1/chain/get_accounts_by_authorizers", Body: []byte(body),
	}, httpprobe.Options{RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL}, rec)
	if !resp.Success() {
		rec.Add(findings.Err, "wallet "+label+" sub-test failed", findings.ClassWallet, map[string]interface{}{"url": base, "code": resp.Code})
		return
	}
	var out struct {
		Accounts []interface{} `json:"accounts"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || len(out.Accounts) == 0 {
		rec.Add(findings.Err, "wallet "+label+" returned no accounts", findings.ClassWallet, map[string]interface{}{"url": base})
		return
	}
	rec.Add(findings.OK, "wallet "+label+" sub-test passed", findings.ClassWallet, nil)
}
