// Package format provides small human-readable string helpers for counts
// and durations; no other package in this module imports it. The thousands-separator
// logic is grounded on
// leccaventures-pwt/internal/utils/format.go's FormatStaking, generalized
// from a wei-to-ether conversion to plain integer counts (unpaid_blocks,
// finding counts, fleet sizes).
package format

import (
	"fmt"
	"strings"
	"time"
)

// Count adds thousands separators to an integer count, e.g. 1234567 ->
// "1,234,567".
func Count(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)

	var out strings.Builder
	length := len(s)
	for i, r := range s {
		if i > 0 && (length-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(r)
	}

	if neg {
		return "-" + out.String()
	}
	return out.String()
}

// Duration renders a run's wall time: seconds with one decimal place
// below a minute, whole minutes plus zero-padded whole seconds above.
func Duration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm%02ds", minutes, seconds)
}
