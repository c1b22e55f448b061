// Package onchain implements the on-chain reconciliation check (spec.md
// §4.13): the bp.json blob a producer account publishes on-chain must
// exist and must match the HTTP-fetched document byte-for-byte once both
// are canonicalized, and the blacklist table's presence gates a pass/fail.
// Per spec.md §1, the on-chain data fetcher itself is an out-of-scope
// external collaborator — this package only reconciles the already-fetched
// strings it is handed, it never queries a chain API. No teacher/pack
// analog exists for JSON canonicalization/diffing; built from the spec's
// own contract on stdlib encoding/json, which already sorts object keys on
// marshal.
package onchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
)

// Checker reconciles pre-fetched on-chain data against the HTTP-fetched
// bp.json, gated on the owning chain profile's feature flags.
type Checker struct {
	chain config.ChainProfile
}

func New(chain config.ChainProfile) *Checker {
	return &Checker{chain: chain}
}

// CheckBPJSON implements the blob-exists + canonicalize + diff half of
// §4.13, gated on the chain profile's onchain_bpjson_enabled flag.
// onchainData is the raw JSON string the out-of-scope chain-data fetcher
// already retrieved; empty means absent.
func (c *Checker) CheckBPJSON(rec *findings.Recorder, onchainData string, httpBody []byte) {
	if !c.chain.OnchainBPJSONEnabled {
		return
	}

	if strings.TrimSpace(onchainData) == "" {
		rec.Add(findings.Crit, "on-chain bp.json blob does not exist", findings.ClassBlacklist, nil)
		return
	}

	onchainCanon, err := canonicalize([]byte(onchainData))
	if err != nil {
		rec.Add(findings.Crit, "on-chain bp.json blob is not valid JSON", findings.ClassBlacklist, nil)
		return
	}
	httpCanon, err := canonicalize(httpBody)
	if err != nil {
		rec.Add(findings.Crit, "HTTP-fetched bp.json is not valid JSON", findings.ClassBlacklist, nil)
		return
	}

	if onchainCanon == httpCanon {
		rec.Add(findings.OK, "on-chain bp.json matches the HTTP-fetched document", findings.ClassBlacklist, nil)
		return
	}

	rec.Add(findings.Err, "on-chain bp.json differs from the HTTP-fetched document", findings.ClassBlacklist, map[string]interface{}{
		"diff": unifiedDiff(onchainCanon, httpCanon, "on-chain", "http"),
	})
}

// CheckBlacklist implements the blacklist half of §4.13, gated on the
// chain profile's onchain_blacklist_enabled flag: presence attaches a hash
// to the output, absence is a crit. onchainBlacklistData is opaque, as
// spec.md §6 describes it.
func (c *Checker) CheckBlacklist(rec *findings.Recorder, onchainBlacklistData string) {
	if !c.chain.OnchainBlacklistEnabled {
		return
	}

	if strings.TrimSpace(onchainBlacklistData) == "" {
		rec.Add(findings.Crit, "no on-chain blacklist entry found", findings.ClassBlacklist, nil)
		return
	}

	sum := sha256.Sum256([]byte(onchainBlacklistData))
	rec.Add(findings.OK, "on-chain blacklist entry present", findings.ClassBlacklist, map[string]interface{}{
		"sha256": hex.EncodeToString(sum[:]),
	})
}

// canonicalize round-trips through a generic map so keys come out sorted
// and indentation is stable, matching spec.md §4.13's "canonicalize both
// ... (keys sorted, pretty-printed)".
func canonicalize(raw []byte) (string, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

// unifiedDiff produces a minimal line-oriented diff. It is not a full
// Myers/LCS diff (no example repo in the pack carries a diff library);
// it reports, in order, every line present in one side but absent at the
// same position in the other, which is enough to show a reviewer what
// changed between two pretty-printed JSON documents.
func unifiedDiff(a, b, aLabel, bLabel string) string {
	aLines := strings.Split(a, "\n")
	bLines := strings.Split(b, "\n")

	var out bytes.Buffer
	fmt.Fprintf(&out, "--- %s\n+++ %s\n", aLabel, bLabel)

	max := len(aLines)
	if len(bLines) > max {
		max = len(bLines)
	}
	for i := 0; i < max; i++ {
		var al, bl string
		if i < len(aLines) {
			al = aLines[i]
		}
		if i < len(bLines) {
			bl = bLines[i]
		}
		if al == bl {
			continue
		}
		if al != "" {
			fmt.Fprintf(&out, "-%s\n", al)
		}
		if bl != "" {
			fmt.Fprintf(&out, "+%s\n", bl)
		}
	}
	return out.String()
}
