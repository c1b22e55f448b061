package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("chains: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.Dir != "./data/cache" {
		t.Fatalf("Cache.Dir = %q, want default", cfg.Cache.Dir)
	}
	if cfg.Advanced.FleetConcurrency != 8 {
		t.Fatalf("FleetConcurrency = %d, want 8", cfg.Advanced.FleetConcurrency)
	}
	if len(cfg.Advanced.DNS.Servers) != 2 {
		t.Fatalf("DNS.Servers = %v, want 2 defaults", cfg.Advanced.DNS.Servers)
	}
	if cfg.Advanced.DNS.TimeoutDuration() != 5*time.Second {
		t.Fatalf("DNS timeout = %s, want 5s", cfg.Advanced.DNS.TimeoutDuration())
	}
	if cfg.Social.Prefixes["twitter"] == "" {
		t.Fatal("expected default social config to be applied")
	}
}

func TestLoadRespectsExplicitDNSServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	data := `
advanced:
  dns:
    servers:
      - "9.9.9.9:53"
    timeout: "2s"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Advanced.DNS.Servers) != 1 || cfg.Advanced.DNS.Servers[0] != "9.9.9.9:53" {
		t.Fatalf("DNS.Servers = %v, want explicit override preserved", cfg.Advanced.DNS.Servers)
	}
	if cfg.Advanced.DNS.TimeoutDuration() != 2*time.Second {
		t.Fatalf("DNS timeout = %s, want 2s", cfg.Advanced.DNS.TimeoutDuration())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/such/config.yml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestParseDurationAndPercent(t *testing.T) {
	if ParseDuration("") != 0 {
		t.Fatal("empty duration string should parse to 0")
	}
	if ParseDuration("not-a-duration") != 0 {
		t.Fatal("invalid duration string should parse to 0")
	}
	if ParseDuration("30s") != 30*time.Second {
		t.Fatal("30s should parse correctly")
	}
	if ParsePercent("90%") != 90 {
		t.Fatal("90% should parse to 90")
	}
	if ParsePercent("bogus") != 0 {
		t.Fatal("invalid percent string should parse to 0")
	}
}

func TestAlertRuleEnabled(t *testing.T) {
	disabled := AlertRule{}
	if disabled.Enabled() {
		t.Fatal("a rule with no fire_after should be disabled")
	}
	enabled := AlertRule{FireAfter: "5m", ResolveAfter: "2m"}
	if !enabled.Enabled() {
		t.Fatal("a rule with fire_after set should be enabled")
	}
	if enabled.FireDuration() != 5*time.Minute {
		t.Fatalf("FireDuration = %s, want 5m", enabled.FireDuration())
	}
	if enabled.ResolveDuration() != 2*time.Minute {
		t.Fatalf("ResolveDuration = %s, want 2m", enabled.ResolveDuration())
	}
}
