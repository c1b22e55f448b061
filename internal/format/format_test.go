package format

import (
	"testing"
	"time"
)

func TestCount(t *testing.T) {
	cases := map[int64]string{
		0:         "0",
		5:         "5",
		999:       "999",
		1000:      "1,000",
		1234567:   "1,234,567",
		-1234:     "-1,234",
	}
	for in, want := range cases {
		if got := Count(in); got != want {
			t.Errorf("Count(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(2500 * time.Millisecond); got != "2.5s" {
		t.Errorf("Duration(2.5s) = %q, want %q", got, "2.5s")
	}
	if got := Duration(65 * time.Second); got != "1m05s" {
		t.Errorf("Duration(65s) = %q, want %q", got, "1m05s")
	}
	if got := Duration(125 * time.Second); got != "2m05s" {
		t.Errorf("Duration(125s) = %q, want %q", got, "2m05s")
	}
}
