package nodes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/httpprobe"
)

// hyperionRequireOn/hyperionRequireOff are the feature-flag checks spec.md
// §4.12's hyperion v2 sub-suite names for /v2/health.
var (
	hyperionRequireOn  = []string{"tables/proposals", "tables/accounts", "tables/voters", "index_deltas", "index_transfer_memo", "index_all_deltas"}
	hyperionRequireOff = []string{"failed_trx", "deferred_trx", "resource_limits", "resource_usage"}
)

type hyperionHealthBody struct {
	Version     string          `json:"version"`
	Host        string          `json:"host"`
	QueryTimeMs float64         `json:"query_time_ms"`
	Features    map[string]bool `json:"features"`
	Health   []struct {
		Service string                 `json:"service"`
		Status  string                 `json:"status"`
		Data    map[string]interface{} `json:"data"`
	} `json:"health"`
}

// runHyperionSuite implements spec.md §4.12's hyperion v2 sub-suite,
// gated on the chain profile's class_hyperion flag.
func (c *Composer) runHyperionSuite(ctx context.Context, rec *findings.Recorder, base string) {
	resp := c.prober.Do(ctx, httpprobe.Request{Method: "GET", URL: base + "/v2/health"}, httpprobe.Options{
		RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL,
	}, rec)
	if !resp.Success() {
		rec.Add(findings.Err, "hyperion /v2/health sub-test failed", findings.ClassHyperion, map[string]interface{}{"url": base, "code": resp.Code})
	} else {
		c.checkHyperionHealth(rec, base, resp)
	}

	c.assertHyperion2xx(ctx, rec, base, "/v2/history/get_transaction?id="+c.chain.TestTransaction, "history/get_transaction")

	c.runHyperionGetActions(ctx, rec, base)

	if c.chain.TestPublicKey != "" {
		sresp := c.prober.Do(ctx, httpprobe.Request{
			Method: "POST", URL: base + "/v2/state/get_key_accounts",
			Body: []byte(`{"public_key":"` + c.chain.TestPublicKey + `"}`),
		}, httpprobe.Options{RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL}, rec)
		var body struct {
			AccountNames []string `json:"account_names"`
		}
		if !sresp.Success() || json.Unmarshal(sresp.Body, &body) != nil || len(body.AccountNames) == 0 {
			rec.Add(findings.Err, "hyperion state/get_key_accounts sub-test failed", findings.ClassHyperion, map[string]interface{}{"url": base})
			return
		}
		rec.Add(findings.OK, "hyperion state/get_key_accounts sub-test passed", findings.ClassHyperion, nil)
	}
}

func (c *Composer) checkHyperionHealth(rec *findings.Recorder, base string, resp httpprobe.Response) {
	var body hyperionHealthBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		rec.Add(findings.Err, "hyperion /v2/health response is not valid JSON", findings.ClassHyperion, map[string]interface{}{"url": base})
		return
	}

	ok := true
	if body.Version == "" {
		rec.Add(findings.Err, "hyperion /v2/health missing version", findings.ClassHyperion, nil)
		ok = false
	}
	if body.Host == "" || !strings.Contains(base, body.Host) {
		rec.Add(findings.Warn, "hyperion /v2/health host does not match the endpoint URL", findings.ClassHyperion, map[string]interface{}{"host": body.Host})
	}
	if body.QueryTimeMs >= 400 {
		rec.Add(findings.Err, "hyperion /v2/health query_time_ms is too high", findings.ClassHyperion, map[string]interface{}{"query_time_ms": body.QueryTimeMs})
		ok = false
	}

	for _, feature := range hyperionRequireOn {
		if !body.Features[feature] {
			rec.Add(findings.Err, "hyperion feature should be enabled but is not", findings.ClassHyperion, map[string]interface{}{"feature": feature})
			ok = false
		}
	}
	for _, feature := range hyperionRequireOff {
		if body.Features[feature] {
			rec.Add(findings.Err, "hyperion feature should be disabled but is not", findings.ClassHyperion, map[string]interface{}{"feature": feature})
			ok = false
		}
	}

	for _, svc := range body.Health {
		if svc.Status != "OK" {
			rec.Add(findings.Err, "hyperion health service is not OK", findings.ClassHyperion, map[string]interface{}{"service": svc.Service, "status": svc.Status})
			ok = false
			continue
		}
		switch svc.Service {
		case "Elasticsearch":
			if shards, _ := svc.Data["active_shards"].(string); shards != "100.0%" {
				rec.Add(findings.Err, "hyperion elasticsearch active_shards is not 100.0%", findings.ClassHyperion, map[string]interface{}{"active_shards": shards})
				ok = false
			}
			last, _ := svc.Data["last_indexed_block"].(float64)
			total, _ := svc.Data["total_indexed_blocks"].(float64)
			if last != total {
				rec.Add(findings.Err, "hyperion elasticsearch is not fully indexed", findings.ClassHyperion, map[string]interface{}{"last_indexed_block": last, "total_indexed_blocks": total})
				ok = false
			}
		case "NodeosRPC":
			offset, _ := svc.Data["time_offset"].(float64)
			if offset < -500 || offset > 2000 {
				rec.Add(findings.Err, "hyperion nodeos time_offset is out of range", findings.ClassHyperion, map[string]interface{}{"time_offset": offset})
				ok = false
			}
		}
	}

	if ok {
		rec.Add(findings.OK, "hyperion /v2/health sub-test passed", findings.ClassHyperion, nil)
	}
}

func (c *Composer) assertHyperion2xx(ctx context.Context, rec *findings.Recorder, base, path, label string) {
	resp := c.prober.Do(ctx, httpprobe.Request{Method: "GET", URL: base + path}, httpprobe.Options{
		RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL,
	}, rec)
	if !resp.Success() {
		rec.Add(findings.Err, "hyperion "+label+" sub-test failed", findings.ClassHyperion, map[string]interface{}{"url": base + path, "code": resp.Code})
		return
	}
	rec.Add(findings.OK, "hyperion "+label+" sub-test passed", findings.ClassHyperion, nil)
}

func (c *Composer) runHyperionGetActions(ctx context.Context, rec *findings.Recorder, base string) {
	resp := c.prober.Do(ctx, httpprobe.Request{Method: "GET", URL: base + "/v2/history/get_actions?limit=1"}, httpprobe.Options{
		RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL,
	}, rec)
	if !resp.Success() {
		rec.Add(findings.Err, "hyperion history/get_actions sub-test failed", findings.ClassHyperion, map[string]interface{}{"url": base, "code": resp.Code})
		return
	}

	var body struct {
		Actions []map[string]interface{} `json:"actions"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || len(body.Actions) == 0 {
		rec.Add(findings.Err, "hyperion history/get_actions returned no actions", findings.ClassHyperion, map[string]interface{}{"url": base})
		return
	}

	ts, _ := body.Actions[0]["@timestamp"].(string)
	t, err := time.Parse(time.RFC3339, normalizeBlockTime(ts))
	if err != nil || absDuration(time.Since(t)) > 5*time.Minute {
		rec.Add(findings.Err, "hyperion history/get_actions timestamp is stale", findings.ClassHyperion, map[string]interface{}{"timestamp": ts})
		return
	}
	rec.Add(findings.OK, "hyperion history/get_actions sub-test passed", findings.ClassHyperion, nil)
}
