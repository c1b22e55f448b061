// Package aloha implements the Aloha reliability probe (spec.md §4.14): a
// form POST to a fixed external reliability-reporting endpoint, checked
// for how recently (if ever) the producer missed a round.
package aloha

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/httpprobe"
)

// Endpoint is the fixed external Aloha EOS reliability-report service
// (spec.md §6, §9 "Network egress").
const Endpoint = "https://aloha-eos.com/api/producers/report"

// Prober POSTs a producer's aloha_id to the reliability endpoint.
type Prober struct {
	prober *httpprobe.Prober
}

func New(prober *httpprobe.Prober) *Prober {
	return &Prober{prober: prober}
}

type reportResponse struct {
	Producer struct {
		LastMissedRound string `json:"last_missed_round"`
	} `json:"producer"`
}

// Check implements spec.md §4.14. Only called when the chain profile's
// aloha_id is non-empty.
func (p *Prober) Check(ctx context.Context, rec *findings.Recorder, alohaID string) {
	form := url.Values{"producer": {alohaID}}.Encode()
	resp := p.prober.Do(ctx, httpprobe.Request{
		Method: "POST", URL: Endpoint, Body: []byte(form),
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	}, httpprobe.Options{RequestTimeout: 15 * time.Second, CacheTimeout: 0}, rec)

	if !resp.Success() {
		rec.Add(findings.OK, "aloha reliability report unavailable", findings.ClassGeneral, map[string]interface{}{"last_missed_round": "never"})
		return
	}

	var body reportResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Producer.LastMissedRound == "" {
		rec.Add(findings.OK, "aloha reliability report has no missed rounds on record", findings.ClassGeneral, map[string]interface{}{"last_missed_round": "never"})
		return
	}

	missed, err := time.Parse(time.RFC3339, body.Producer.LastMissedRound)
	if err != nil {
		rec.Add(findings.OK, "aloha reliability report has no missed rounds on record", findings.ClassGeneral, map[string]interface{}{"last_missed_round": "never"})
		return
	}

	if time.Since(missed) < 30*24*time.Hour {
		rec.Add(findings.Warn, "aloha reports a missed round within the last 30 days", findings.ClassGeneral, map[string]interface{}{"last_missed_round": missed.Format(time.RFC3339)})
		return
	}
	rec.Add(findings.OK, "aloha's most recent missed round is more than 30 days old", findings.ClassGeneral, map[string]interface{}{"last_missed_round": missed.Format(time.RFC3339)})
}
