package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/httpprobe"
	"github.com/poplexity/bpvalidate/internal/urlvalidator"
)

const (
	subTestTimeout = 10 * time.Second
	subTestCacheTTL = 300 * time.Second
)

// getInfoResult carries the parsed /v1/chain/get_info body out of the
// extra-check hook so later sub-tests (none currently need it, but the
// shape mirrors how a real nodeos client threads chain_id through) can
// see what the gate observed.
type getInfoResult struct {
	ChainID       string
	ServerVersion string
	Status        string // unknown | out-of-date | ok
}

type getInfoBody struct {
	ChainID             string `json:"chain_id"`
	HeadBlockTime       string `json:"head_block_time"`
	ServerVersionString string `json:"server_version_string"`
}

// getInfoCheck builds the ExtraCheck that gates every other sub-test
// (spec.md §4.12): chain_id must match, head_block_time must be within
// 10s of the response clock, and server_version_string is normalized and
// looked up in the version catalog.
func (c *Composer) getInfoCheck(out *getInfoResult) urlvalidator.ExtraCheck {
	return func(rec *findings.Recorder, class findings.Class, body []byte, resp httpprobe.Response) (map[string]interface{}, bool) {
		var gi getInfoBody
		if err := json.Unmarshal(body, &gi); err != nil {
			rec.Add(findings.Crit, "get_info body is not valid JSON", class, nil)
			return nil, false
		}

		ok := true

		if gi.ChainID != "" && gi.ChainID != c.chain.ChainID {
			rec.Add(findings.Crit, "get_info chain_id does not match the chain profile", class, map[string]interface{}{
				"expected": c.chain.ChainID, "actual": gi.ChainID,
			})
			ok = false
		}

		if gi.HeadBlockTime != "" {
			t, err := time.Parse(time.RFC3339, normalizeBlockTime(gi.HeadBlockTime))
			if err != nil {
				rec.Add(findings.Crit, "get_info head_block_time is not parseable", class, map[string]interface{}{"head_block_time": gi.HeadBlockTime})
				ok = false
			} else if delta := responseClock(resp).Sub(t); delta > 10*time.Second {
				rec.Add(findings.Crit, "last block is not up-to-date", class, map[string]interface{}{
					"head_block_time": gi.HeadBlockTime, "delta_time": delta.Seconds(),
				})
				ok = false
			}
		}

		out.ChainID = gi.ChainID
		out.ServerVersion = normalizeServerVersion(gi.ServerVersionString)
		out.Status = versionStatus(c.catalog, out.ServerVersion)

		return map[string]interface{}{
			"server_version":        out.ServerVersion,
			"server_version_status": out.Status,
		}, ok
	}
}

// responseClock approximates the response clock: the response's Date
// header when it parses as RFC 1123, otherwise the wall clock (the only
// reference left without threading request start time through the
// extra-check hook).
func responseClock(resp httpprobe.Response) time.Time {
	if dateHeader := resp.Headers.Get("Date"); dateHeader != "" {
		if t, err := time.Parse(time.RFC1123, dateHeader); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func normalizeBlockTime(raw string) string {
	if !strings.Contains(raw, "Z") && !strings.Contains(raw, "+") {
		return raw + "Z"
	}
	return raw
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// runCatalog runs the fixed §4.12 sub-test catalog against a gated
// endpoint: block_one, patreonous, error_message, abi_serializer,
// system_symbol, and the producer/net/db_size disabled checks.
func (c *Composer) runCatalog(ctx context.Context, rec *findings.Recorder, base string) {
	c.assert2xx(ctx, rec, base, "/v1/chain/get_block", []byte(`{"block_num_or_id":"1"}`), "block_one", nil)
	c.assert2xx(ctx, rec, base, "/v1/chain/get_table_rows", []byte(`{"json":true,"code":"eosio.global","scope":"eosio.global","table":"global"}`), "patreonous", nil)

	c.runErrorMessage(ctx, rec, base)
	c.runABISerializer(ctx, rec, base)
	c.runSystemSymbol(ctx, rec, base)

	c.assertDisabled(ctx, rec, base, "/v1/producer/get_integrity_hash", "producer_api")
	c.assertDisabled(ctx, rec, base, "/v1/net/connections", "net_api")
	c.assertDisabled(ctx, rec, base, "/v1/db_size/get", "db_size_api")
}

func (c *Composer) assert2xx(ctx context.Context, rec *findings.Recorder, base, path string, body []byte, label string, extra map[string]interface{}) httpprobe.Response {
	resp := c.prober.Do(ctx, httpprobe.Request{Method: "POST", URL: base + path, Body: body}, httpprobe.Options{
		RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL,
	}, rec)
	if !resp.Success() {
		ctxMap := map[string]interface{}{"url": base + path, "code": resp.Code}
		for k, v := range extra {
			ctxMap[k] = v
		}
		rec.Add(findings.Err, label+" sub-test failed", findings.ClassAPIEndpoint, ctxMap)
		return resp
	}
	rec.Add(findings.OK, label+" sub-test passed", findings.ClassAPIEndpoint, map[string]interface{}{"url": base + path})
	return resp
}

func (c *Composer) assertDisabled(ctx context.Context, rec *findings.Recorder, base, path, label string) {
	resp := c.prober.Do(ctx, httpprobe.Request{Method: "GET", URL: base + path}, httpprobe.Options{
		RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL, SuppressTimeoutMessage: true,
	}, nil)
	if resp.Success() {
		rec.Add(findings.Err, label+" is exposed but should be disabled", findings.ClassAPIEndpoint, map[string]interface{}{"url": base + path})
		return
	}
	rec.Add(findings.OK, label+" is disabled", findings.ClassAPIEndpoint, map[string]interface{}{"url": base + path})
}

func (c *Composer) runErrorMessage(ctx context.Context, rec *findings.Recorder, base string) {
	resp := c.prober.Do(ctx, httpprobe.Request{Method: "POST", URL: base + "/v1/chain/validate_error_message", Body: []byte("{}")}, httpprobe.Options{
		RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL,
	}, rec)
	if !resp.Success() {
		rec.Add(findings.Err, "error_message sub-test failed", findings.ClassAPIEndpoint, map[string]interface{}{"url": base, "code": resp.Code})
		return
	}
	var body struct {
		Error struct {
			Details []interface{} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || len(body.Error.Details) == 0 {
		rec.Add(findings.Err, "error_message response has no error.details", findings.ClassAPIEndpoint, map[string]interface{}{
			"url": base, "hint": "verbose-http-errors",
		})
		return
	}
	rec.Add(findings.OK, "error_message sub-test passed", findings.ClassAPIEndpoint, nil)
}

func (c *Composer) runABISerializer(ctx context.Context, rec *findings.Recorder, base string) {
	if c.chain.TestBigBlock == "" {
		return
	}
	resp := c.prober.Do(ctx, httpprobe.Request{
		Method: "POST", URL: base + "/v1/chain/get_block",
		Body: []byte(fmt.Sprintf(`{"block_num_or_id":"%s"}`, c.chain.TestBigBlock)),
	}, httpprobe.Options{RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL}, rec)
	if !resp.Success() {
		rec.Add(findings.Err, "abi_serializer sub-test failed", findings.ClassAPIEndpoint, map[string]interface{}{
			"url": base, "code": resp.Code, "hint": "abi-serializer-max-time-ms",
		})
		return
	}
	var body struct {
		Transactions []interface{} `json:"transactions"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || len(body.Transactions) != c.chain.BigBlockTransactions {
		rec.Add(findings.Err, "abi_serializer transaction count mismatch", findings.ClassAPIEndpoint, map[string]interface{}{
			"url": base, "expected": c.chain.BigBlockTransactions, "hint": "abi-serializer-max-time-ms",
		})
		return
	}
	rec.Add(findings.OK, "abi_serializer sub-test passed", findings.ClassAPIEndpoint, nil)
}

func (c *Composer) runSystemSymbol(ctx context.Context, rec *findings.Recorder, base string) {
	if c.chain.TestAccount == "" {
		return
	}
	resp := c.prober.Do(ctx, httpprobe.Request{
		Method: "POST", URL: base + "/v1/chain/get_currency_balance",
		Body: []byte(fmt.Sprintf(`{"code":"eosio.token","account":"%s","symbol":"%s"}`, c.chain.TestAccount, c.chain.CoreSymbol)),
	}, httpprobe.Options{RequestTimeout: subTestTimeout, CacheTimeout: subTestCacheTTL}, rec)
	if !resp.Success() {
		rec.Add(findings.Err, "system_symbol sub-test failed", findings.ClassAPIEndpoint, map[string]interface{}{"url": base, "code": resp.Code})
		return
	}
	var balances []interface{}
	if err := json.Unmarshal(resp.Body, &balances); err != nil || len(balances) == 0 {
		rec.Add(findings.Err, "system_symbol returned no balances", findings.ClassAPIEndpoint, map[string]interface{}{"url": base})
		return
	}
	rec.Add(findings.OK, "system_symbol sub-test passed", findings.ClassAPIEndpoint, nil)
}
