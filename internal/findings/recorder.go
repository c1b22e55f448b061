// Package findings implements the append-only finding stream (spec.md §4.1)
// and per-class severity summary one BP validation run produces.
package findings

import (
	"encoding/json"
	"fmt"
)

// Kind is a finding's severity label. Ascending severity order is
// ok < info < warn < err < crit < skip (spec.md §3 invariants).
type Kind string

const (
	OK   Kind = "ok"
	Info Kind = "info"
	Warn Kind = "warn"
	Err  Kind = "err"
	Crit Kind = "crit"
	Skip Kind = "skip"
)

// severityRank gives each Kind its position in the ascending order the
// per-class summary is computed over. skip ranks highest: it is the
// terminal, nothing-else-applies state for a class.
var severityRank = map[Kind]int{
	OK:   0,
	Info: 1,
	Warn: 2,
	Err:  3,
	Crit: 4,
	Skip: 5,
}

func (k Kind) rank() int {
	r, ok := severityRank[k]
	if !ok {
		panic(fmt.Sprintf("findings: unknown kind %q", k))
	}
	return r
}

// Class is a finding's topical category, from the closed set spec.md §3
// names.
type Class string

const (
	ClassGeneral      Class = "general"
	ClassRegproducer  Class = "regproducer"
	ClassChains       Class = "chains"
	ClassOrg          Class = "org"
	ClassBPJSON       Class = "bpjson"
	ClassBlacklist    Class = "blacklist"
	ClassAPIEndpoint  Class = "api_endpoint"
	ClassP2PEndpoint  Class = "p2p_endpoint"
	ClassHistory      Class = "history"
	ClassHyperion     Class = "hyperion"
	ClassWallet       Class = "wallet"
	ClassIPv6         Class = "ipv6"
)

// Finding is one append-only entry in the stream: kind, detail, and class
// are mandatory; Context carries arbitrary additional fields (e.g. url,
// delta_time, diff) the way the distilled source's free-form keyword
// arguments did, per spec.md §9's design note.
type Finding struct {
	Kind    Kind                   `json:"kind"`
	Detail  string                 `json:"detail"`
	Class   Class                  `json:"class"`
	Context map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Context alongside kind/detail/class, the way the
// distilled source's free-form finding maps serialize.
func (f Finding) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(f.Context)+3)
	for k, v := range f.Context {
		out[k] = v
	}
	out["kind"] = f.Kind
	out["detail"] = f.Detail
	out["class"] = f.Class
	return json.Marshal(out)
}

// Recorder is the append-only finding stream for one validation run. It is
// owned by exactly one validation (spec.md §5) and requires no locking.
type Recorder struct {
	findings []Finding
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Add requires kind, detail, and class to be non-empty; their absence is a
// programming error (spec.md §4.1), not a finding, so it panics rather than
// silently recording a malformed entry.
func (r *Recorder) Add(kind Kind, detail string, class Class, context map[string]interface{}) {
	r.validate(kind, detail, class)
	r.findings = append(r.findings, Finding{Kind: kind, Detail: detail, Class: class, Context: context})
}

// Prefix prepends a finding, used for the run-metadata preamble the entry
// point writes after the pipeline has already produced findings (spec.md
// §2 item 12, §4.1).
func (r *Recorder) Prefix(kind Kind, detail string, class Class, context map[string]interface{}) {
	r.validate(kind, detail, class)
	r.findings = append([]Finding{{Kind: kind, Detail: detail, Class: class, Context: context}}, r.findings...)
}

func (r *Recorder) validate(kind Kind, detail string, class Class) {
	if kind == "" || detail == "" || class == "" {
		panic("findings: add/prefix require kind, detail, and class")
	}
}

// All returns the findings in insertion order.
func (r *Recorder) All() []Finding {
	return r.findings
}

// Summarize computes, for each class that appears at least once, the
// maximum severity seen (spec.md §3 invariants, §8 "message_summary").
func (r *Recorder) Summarize() map[Class]Kind {
	summary := make(map[Class]Kind)
	for _, f := range r.findings {
		cur, ok := summary[f.Class]
		if !ok || f.Kind.rank() > cur.rank() {
			summary[f.Class] = f.Kind
		}
	}
	return summary
}

// HasAny reports whether any recorded finding in the given classes has at
// least the given minimum severity. Nothing in this module calls it: the
// entry point gates post-schema checks on bpjson's CheckResult.Proceed.
func (r *Recorder) HasAny(min Kind, classes ...Class) bool {
	want := make(map[Class]bool, len(classes))
	for _, c := range classes {
		want[c] = true
	}
	for _, f := range r.findings {
		if (len(classes) == 0 || want[f.Class]) && f.Kind.rank() >= min.rank() {
			return true
		}
	}
	return false
}
