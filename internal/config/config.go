// Package config loads the static configuration a BP validation run needs:
// the chain profile table, the server-version catalog, and the ambient
// settings for the fleet coordinator, dashboard, metrics, and alerting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Chains   map[string]ChainProfile `yaml:"chains"`
	Versions VersionCatalog          `yaml:"versions"`
	Social   SocialConfig            `yaml:"social"`
	Cache    CacheConfig             `yaml:"cache"`
	Alerts   AlertsConfig            `yaml:"alerts"`
	Advanced AdvancedConfig          `yaml:"advanced"`
}

// ============================================================
// CHAIN PROFILE (spec.md §3 "Chain profile")
// ============================================================

// ChainProfile is the static, externally-owned per-chain configuration row.
// spec.md §1 places the chain profile table out of scope as an external
// collaborator's concern; this struct is the shape the validator consumes.
type ChainProfile struct {
	ChainID             string `yaml:"chain_id"`
	Filename            string `yaml:"filename"`
	LocationCheck       string `yaml:"location_check"` // country | timezone | timezone100
	TestTransaction     string `yaml:"test_transaction"`
	TestPublicKey       string `yaml:"test_public_key"`
	TestAccount         string `yaml:"test_account"`
	CoreSymbol          string `yaml:"core_symbol"`
	KeyAccountsURL      string `yaml:"key_accounts_url"`
	TestBigBlock        string `yaml:"test_big_block"`
	BigBlockTransactions int   `yaml:"big_block_transactions"`
	ClassHistory        bool   `yaml:"class_history"`
	ClassHyperion       bool   `yaml:"class_hyperion"`
	ClassWallet         bool   `yaml:"class_wallet"`
	AlohaID             string `yaml:"aloha_id"`
	TestBPJSONScope     string `yaml:"test_bpjson_scope"`
	OnchainBPJSONEnabled    bool `yaml:"onchain_bpjson_enabled"`
	OnchainBlacklistEnabled bool `yaml:"onchain_blacklist_enabled"`
}

// ============================================================
// VERSION CATALOG (spec.md §3 "Version catalog")
// ============================================================

type VersionInfo struct {
	Name       string `yaml:"name"`
	APICurrent bool   `yaml:"api_current"`
}

// VersionCatalog maps a canonical server-version string to its catalog
// entry. Loaded once at startup and never mutated at runtime, per
// spec.md §9 ("global maps ... make these immutable configuration values").
type VersionCatalog map[string]VersionInfo

// ============================================================
// SOCIAL / CONTENT-TYPE / BLACKLIST (spec.md §4.9, §4.6)
// ============================================================

type SocialConfig struct {
	// Prefixes maps a social key (twitter, github, ...) to the URL prefix
	// its value is appended to. Keys absent from Prefixes but present in
	// AllowedKeys (wechat, reddit) are accepted as bare values.
	Prefixes    map[string]string `yaml:"prefixes"`
	AllowedKeys []string          `yaml:"allowed_keys"`
}

// DefaultSocialConfig is the closed social-key set from spec.md §4.9,
// loaded when the config file omits a `social` section.
func DefaultSocialConfig() SocialConfig {
	return SocialConfig{
		Prefixes: map[string]string{
			"medium":   "https://medium.com/@",
			"steemit":  "https://steemit.com/@",
			"twitter":  "https://twitter.com/",
			"youtube":  "https://youtube.com/",
			"facebook": "https://facebook.com/",
			"github":   "https://github.com/",
			"keybase":  "https://keybase.io/",
			"telegram": "https://t.me/",
		},
		AllowedKeys: []string{
			"medium", "steemit", "twitter", "youtube", "facebook",
			"github", "keybase", "telegram", "wechat", "reddit",
		},
	}
}

// ContentTypeWhitelist is the closed set of acceptable response content
// types per labeled category (spec.md §4.6 `content_type` option).
var ContentTypeWhitelist = map[string][]string{
	"json":    {"application/json"},
	"png_jpg": {"image/png", "image/jpeg", "image/jpg"},
	"svg":     {"image/svg+xml"},
	"html":    {"text/html"},
}

// BadURLBlacklist rejects leading known-bad home/social URLs outright with
// a fixed human-readable reason (spec.md §4.6 "leading bad-URL blacklist").
var BadURLBlacklist = map[string]string{
	"https://google.com":  "google.com is not a valid BP home page",
	"http://google.com":   "google.com is not a valid BP home page",
	"https://example.com": "example.com is a placeholder, not a BP home page",
}

// ============================================================
// CACHE CONFIG (spec.md §4.3)
// ============================================================

type CacheConfig struct {
	Dir          string `yaml:"dir"`
	TLSTTL       string `yaml:"tls_ttl"`       // default 24h
	WHOISTTL     string `yaml:"whois_ttl"`     // default 14 * 24h
	HTTPTTL      string `yaml:"http_ttl"`      // default 300s, caller can override per-call
	OrgHTTPTTL   string `yaml:"org_http_ttl"`  // default 7 * 24h, used for org.* checks
	FastFail     bool   `yaml:"cache_fast_fail"`
}

func (c CacheConfig) TLSTTLDuration() time.Duration     { return orDefault(c.TLSTTL, 24*time.Hour) }
func (c CacheConfig) WHOISTTLDuration() time.Duration   { return orDefault(c.WHOISTTL, 14*24*time.Hour) }
func (c CacheConfig) HTTPTTLDuration() time.Duration    { return orDefault(c.HTTPTTL, 300*time.Second) }
func (c CacheConfig) OrgHTTPTTLDuration() time.Duration { return orDefault(c.OrgHTTPTTL, 7*24*time.Hour) }

func orDefault(s string, def time.Duration) time.Duration {
	d := ParseDuration(s)
	if d == 0 {
		return def
	}
	return d
}

// ============================================================
// ALERTS CONFIG (adapted from leccaventures-pwt/internal/config)
// ============================================================

type AlertsConfig struct {
	Channels AlertChannels `yaml:"channels"`
	Rules    AlertRules    `yaml:"rules"`
}

type AlertChannels struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Slack     SlackConfig     `yaml:"slack"`
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type PagerDutyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Severity string `yaml:"severity"`
}

// AlertRules gates the single rule this domain needs: a BP's report
// summary regressing to err/crit. Kept as a named rule (rather than a bare
// bool) so FireAfter debouncing matches the teacher's pattern; ResolveAfter
// is parsed but the alert manager does not apply it.
type AlertRules struct {
	ReportRegression AlertRule `yaml:"report_regression"`
}

type AlertRule struct {
	FireAfter    string `yaml:"fire_after"`
	ResolveAfter string `yaml:"resolve_after"`
}

func (r AlertRule) Enabled() bool                 { return r.FireAfter != "" }
func (r AlertRule) FireDuration() time.Duration    { return ParseDuration(r.FireAfter) }
func (r AlertRule) ResolveDuration() time.Duration { return ParseDuration(r.ResolveAfter) }

// ============================================================
// ADVANCED CONFIG
// ============================================================

type AdvancedConfig struct {
	FleetConcurrency int              `yaml:"fleet_concurrency"`
	RequestTimeout   string           `yaml:"request_timeout"`
	DashboardPort    int              `yaml:"dashboard_port"`
	Prometheus       PrometheusConfig `yaml:"prometheus"`
	StateFile        string           `yaml:"state_file"`
	DNS              DNSConfig        `yaml:"dns"`
}

func (a AdvancedConfig) RequestTimeoutDuration() time.Duration { return orDefault(a.RequestTimeout, 10*time.Second) }

type PrometheusConfig struct {
	MetricsPrefix string `yaml:"metrics_prefix"`
	Port          int    `yaml:"port"`
}

// DNSConfig names the resolver servers the §4.5 DNS/IP resolver queries
// directly (via github.com/miekg/dns) instead of the platform resolver,
// and the per-query timeout.
type DNSConfig struct {
	Servers []string `yaml:"servers"`
	Timeout string   `yaml:"timeout"`
}

func (d DNSConfig) TimeoutDuration() time.Duration { return orDefault(d.Timeout, 5*time.Second) }

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "1m", "5m", "30s".
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ParsePercent parses percent strings like "90%", "60%".
func ParsePercent(s string) int {
	if s == "" {
		return 0
	}
	s = strings.TrimSuffix(s, "%")
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return val
}

// ============================================================
// LOAD FUNCTION
// ============================================================

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Social.Prefixes == nil && len(cfg.Social.AllowedKeys) == 0 {
		cfg.Social = DefaultSocialConfig()
	}

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "./data/cache"
	}
	if cfg.Advanced.FleetConcurrency == 0 {
		cfg.Advanced.FleetConcurrency = 8
	}
	if cfg.Advanced.RequestTimeout == "" {
		cfg.Advanced.RequestTimeout = "10s"
	}
	if cfg.Advanced.DashboardPort == 0 {
		cfg.Advanced.DashboardPort = 8888
	}
	if cfg.Advanced.Prometheus.Port == 0 {
		cfg.Advanced.Prometheus.Port = 9999
	}
	if cfg.Advanced.Prometheus.MetricsPrefix == "" {
		cfg.Advanced.Prometheus.MetricsPrefix = "bpvalidate"
	}
	if cfg.Advanced.StateFile == "" {
		cfg.Advanced.StateFile = "./data/fleet_state.json"
	}
	if len(cfg.Advanced.DNS.Servers) == 0 {
		cfg.Advanced.DNS.Servers = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	if cfg.Advanced.DNS.Timeout == "" {
		cfg.Advanced.DNS.Timeout = "5s"
	}

	return &cfg, nil
}
