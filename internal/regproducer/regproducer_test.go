package regproducer

import (
	"testing"
	"time"

	"github.com/poplexity/bpvalidate/internal/findings"
)

func TestNormalizeEOSKey(t *testing.T) {
	cases := map[string]string{
		"EOS6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV":        "6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV",
		"PUB_K1_6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV":    "6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV",
		"6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV":           "6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV",
	}
	for in, want := range cases {
		if got := NormalizeEOSKey(in); got != want {
			t.Errorf("NormalizeEOSKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckClaimRewardsNoUnpaidBlocks(t *testing.T) {
	rec := findings.NewRecorder()
	c := &Checker{}
	c.CheckClaimRewards(rec, Row{UnpaidBlocks: 0}, time.Now())

	all := rec.All()
	if len(all) != 1 || all[0].Kind != findings.OK {
		t.Fatalf("expected a single OK finding, got %+v", all)
	}
}

func TestCheckClaimRewardsRecentClaim(t *testing.T) {
	rec := findings.NewRecorder()
	c := &Checker{}
	now := time.Now()
	c.CheckClaimRewards(rec, Row{UnpaidBlocks: 500, LastClaimTime: now.Add(-time.Hour)}, now)

	all := rec.All()
	if len(all) != 1 || all[0].Kind != findings.OK {
		t.Fatalf("expected a single OK finding for a recent claim, got %+v", all)
	}
}

func TestCheckClaimRewardsStaleClaim(t *testing.T) {
	rec := findings.NewRecorder()
	c := &Checker{}
	now := time.Now()
	c.CheckClaimRewards(rec, Row{UnpaidBlocks: 500, LastClaimTime: now.Add(-48 * time.Hour)}, now)

	all := rec.All()
	if len(all) != 1 || all[0].Kind != findings.Err {
		t.Fatalf("expected a single err finding for a stale claim, got %+v", all)
	}
}

func TestCheckClaimRewardsJustUnderThreshold(t *testing.T) {
	rec := findings.NewRecorder()
	c := &Checker{}
	now := time.Now()
	// Just under the 24h30s threshold should still pass.
	c.CheckClaimRewards(rec, Row{UnpaidBlocks: 500, LastClaimTime: now.Add(-(24*time.Hour + 29*time.Second))}, now)

	all := rec.All()
	if len(all) != 1 || all[0].Kind != findings.OK {
		t.Fatalf("expected OK just under the threshold, got %+v", all)
	}
}
