package nodes

import (
	"regexp"

	"github.com/poplexity/bpvalidate/internal/config"
)

var (
	reDirty    = regexp.MustCompile(`-dirty$`)
	reDDHex    = regexp.MustCompile(`-dd-[0-9a-fA-F]+$`)
	reWordTail = regexp.MustCompile(`-[A-Za-z0-9]+$`)
)

// normalizeServerVersion strips the noise a git-describe-style build
// string carries (spec.md §4.12): a trailing "-dirty" marker, a
// "-dd-<hex>" commit-distance suffix, and a final "-<word>" segment
// (branch name or similar), in that order.
func normalizeServerVersion(raw string) string {
	v := reDirty.ReplaceAllString(raw, "")
	v = reDDHex.ReplaceAllString(v, "")
	v = reWordTail.ReplaceAllString(v, "")
	return v
}

// versionStatus classifies a (normalized) server version string against
// the configured catalog: unknown, out-of-date, or ok.
func versionStatus(catalog config.VersionCatalog, normalized string) string {
	info, found := catalog[normalized]
	if !found {
		return "unknown"
	}
	if !info.APICurrent {
		return "out-of-date"
	}
	return "ok"
}
