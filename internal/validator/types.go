// Package validator implements the entry point (spec.md §4 overall
// pipeline, §2 item 12): it wires every other component and runs the
// control flow entry → regproducer sanity → home-page probe → chains.json
// → bp.json fetch → schema checks → (if name matches) aloha + nodes +
// on-chain reconciliation → finding summary. Grounded on
// leccaventures-pwt/cmd/monitor/main.go's sequential wiring-then-run
// shape, reduced to a single Validate call since there is no long-running
// server loop in the core.
package validator

import (
	"encoding/json"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/regproducer"
	"github.com/poplexity/bpvalidate/internal/urlvalidator"
)

// Meta is the rank/position scalar bag a crawler-side collaborator
// supplies per BP (spec.md §3 "Meta").
type Meta struct {
	Rank      int
	IsTop21   bool
	IsStandby bool
}

// Input is everything one validation run needs, read-only from this
// package's perspective (spec.md §6 "Inputs").
type Input struct {
	Regproducer regproducer.Row
	Chain       config.ChainProfile
	Versions    config.VersionCatalog
	Meta        Meta

	OnchainBPJSONData   string // raw JSON string, or empty
	OnchainBlacklistData string // opaque string, or empty
}

// Report is the returned output document (spec.md §6 "Outputs").
type Report struct {
	Regproducer    regproducer.Row                  `json:"regproducer"`
	Input          json.RawMessage                  `json:"input,omitempty"`
	Info           map[string]interface{}            `json:"info"`
	Output         urlvalidator.OutputMap            `json:"output"`
	Messages       []findings.Finding                `json:"messages"`
	MessageSummary map[findings.Class]findings.Kind `json:"message_summary"`
	GeneratedAt    string                            `json:"generated_at"`
	ElapsedTime    float64                           `json:"elapsed_time"`
}
