// Package fleet implements the bounded-concurrency multi-BP coordinator
// (SPEC_FULL.md §2 item 15): one process validates a roster of BPs
// concurrently, sharing a single cache store and config across the whole
// run while each BP's validation owns its own recorder, duplicate
// registry, and report (spec.md §5's "deployment concern": many
// validators run in parallel across BPs, sharing the persistent caches).
//
// Grounded on leccaventures-pwt/internal/rpc.Manager's fan-out shape
// (Manager/Node/checkAll), retargeted from per-node Ethereum RPC health
// polling to per-BP validator.Engine.Validate calls, and bounded by a
// concurrency limit (the teacher fans out one goroutine per node
// unconditionally; a BP roster can be far larger than a node list, so
// here the fan-out is gated through a semaphore sized by
// config.AdvancedConfig.FleetConcurrency).
package fleet

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/logger"
	"github.com/poplexity/bpvalidate/internal/regproducer"
	"github.com/poplexity/bpvalidate/internal/validator"
)

// severityRank mirrors findings.Kind's ascending order (ok < info < warn <
// err < crit < skip); findings.Kind keeps its own rank private, so the
// fleet summary log keeps a small copy of the same order rather than
// reaching into the package's internals.
var severityRank = map[findings.Kind]int{
	findings.OK:   0,
	findings.Info: 1,
	findings.Warn: 2,
	findings.Err:  3,
	findings.Crit: 4,
	findings.Skip: 5,
}

// WorstKind returns the highest-severity kind across a report's per-class
// summary, or findings.OK if the report produced no findings at all. The
// dashboard and metrics exporter both need this same reduction, so it is
// exported rather than duplicated.
func WorstKind(report validator.Report) findings.Kind {
	worst := findings.OK
	for _, kind := range report.MessageSummary {
		if severityRank[kind] > severityRank[worst] {
			worst = kind
		}
	}
	return worst
}

// Entry is one roster line: a BP to validate plus which chain profile
// applies to it. This is the YAML shape of the fleet roster file
// (SPEC_FULL.md §6 "Fleet roster file").
type Entry struct {
	Owner                string `yaml:"owner"`
	URL                  string `yaml:"url"`
	ProducerKey          string `yaml:"producer_key"`
	IsActive             bool   `yaml:"is_active"`
	Location             string `yaml:"location"`
	UnpaidBlocks         int64  `yaml:"unpaid_blocks"`
	LastClaimTime        string `yaml:"last_claim_time"` // RFC3339
	Chain                string `yaml:"chain"`            // key into config.Config.Chains
	Rank                 int    `yaml:"rank"`
	IsTop21              bool   `yaml:"is_top_21"`
	IsStandby            bool   `yaml:"is_standby"`
	OnchainBPJSONData    string `yaml:"onchain_bpjson_data"`
	OnchainBlacklistData string `yaml:"onchain_blacklist_data"`
}

// Roster is the parsed fleet roster file.
type Roster struct {
	BPs []Entry `yaml:"bps"`
}

// LoadRoster reads and parses a fleet roster file from disk.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("fleet: reading roster file: %w", err)
	}
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return Roster{}, fmt.Errorf("fleet: parsing roster file: %w", err)
	}
	return roster, nil
}

// ToInput converts a roster entry into the validator.Input its chain
// profile names. Exported so cmd/bpvalidate's single-BP `validate`
// subcommand can build an Entry from flags and reuse the same conversion
// the fleet coordinator uses.
func (e Entry) ToInput(cfg *config.Config) (validator.Input, error) {
	profile, ok := cfg.Chains[e.Chain]
	if !ok {
		return validator.Input{}, fmt.Errorf("fleet: roster entry %q names unknown chain %q", e.Owner, e.Chain)
	}

	var lastClaim time.Time
	if e.LastClaimTime != "" {
		parsed, err := time.Parse(time.RFC3339, e.LastClaimTime)
		if err != nil {
			return validator.Input{}, fmt.Errorf("fleet: roster entry %q has an unparsable last_claim_time: %w", e.Owner, err)
		}
		lastClaim = parsed
	}

	return validator.Input{
		Regproducer: regproducer.Row{
			Owner:         e.Owner,
			URL:           e.URL,
			ProducerKey:   e.ProducerKey,
			IsActive:      e.IsActive,
			Location:      e.Location,
			UnpaidBlocks:  e.UnpaidBlocks,
			LastClaimTime: lastClaim,
		},
		Chain:                profile,
		Versions:             cfg.Versions,
		Meta:                 validator.Meta{Rank: e.Rank, IsTop21: e.IsTop21, IsStandby: e.IsStandby},
		OnchainBPJSONData:    e.OnchainBPJSONData,
		OnchainBlacklistData: e.OnchainBlacklistData,
	}, nil
}

// Status is the last known validation outcome for one roster BP, guarded
// by its own mutex so the dashboard/metrics/alert consumers can read it
// concurrently with the coordinator's next pass writing to it.
type Status struct {
	mu        sync.RWMutex
	entry     Entry
	report    validator.Report
	err       error
	lastCheck time.Time
	running   bool
}

// Report returns a copy of the last completed report, and whether one
// has ever been produced.
func (s *Status) Report() (validator.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report, !s.lastCheck.IsZero()
}

// Err returns the error from the last validation attempt, if any (a
// roster/config problem, not a finding — findings live inside Report).
func (s *Status) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Status) LastCheck() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCheck
}

func (s *Status) set(report validator.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = report
	s.err = err
	s.lastCheck = time.Now()
	s.running = false
}

// Coordinator runs one validator.Engine over a fixed roster, fanning out
// bounded-concurrency passes and keeping the last report for each BP.
type Coordinator struct {
	cfg     *config.Config
	engine  *validator.Engine
	statuses []*Status
	sem     chan struct{}

	checkTicker *time.Ticker
	onUpdate    func(owner string, report validator.Report, err error)
}

// New builds a coordinator over the given roster. onUpdate, if non-nil,
// is called after every single BP validation completes (the dashboard
// uses it to push each result as it lands; the metrics exporter and the
// alert manager instead poll Statuses on their own tickers).
func New(cfg *config.Config, engine *validator.Engine, roster Roster, onUpdate func(owner string, report validator.Report, err error)) *Coordinator {
	concurrency := cfg.Advanced.FleetConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	statuses := make([]*Status, len(roster.BPs))
	for i, entry := range roster.BPs {
		statuses[i] = &Status{entry: entry}
	}

	return &Coordinator{
		cfg:      cfg,
		engine:   engine,
		statuses: statuses,
		sem:      make(chan struct{}, concurrency),
		onUpdate: onUpdate,
	}
}

// Start runs one synchronous pass over the whole roster, logs a summary,
// then re-runs the roster on a fixed interval in the background until
// ctx is cancelled — the same initial-check-then-ticker shape as the
// teacher's Manager.Start, generalized from a fixed 10s RPC health poll
// to an operator-chosen recheck interval (BP validation is far more
// expensive per item than a block-number RPC call).
func (c *Coordinator) Start(ctx context.Context, interval time.Duration) {
	c.checkTicker = time.NewTicker(interval)

	logger.Info("FLEET", "starting initial validation pass for %d BPs...", len(c.statuses))
	c.runAll(ctx)
	c.logSummary()

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.checkTicker.Stop()
				return
			case <-c.checkTicker.C:
				c.runAll(ctx)
				c.logSummary()
			}
		}
	}()
}

// runAll fans out one goroutine per roster BP, bounded by c.sem, and
// waits for the whole pass to finish.
func (c *Coordinator) runAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, status := range c.statuses {
		wg.Add(1)
		go func(s *Status) {
			defer wg.Done()
			c.runOne(ctx, s)
		}(status)
	}
	wg.Wait()
}

func (c *Coordinator) runOne(ctx context.Context, s *Status) {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	s.mu.Lock()
	s.running = true
	entry := s.entry
	s.mu.Unlock()

	input, err := entry.ToInput(c.cfg)
	if err != nil {
		logger.Warn("FLEET", "%s: %s", entry.Owner, err)
		s.set(validator.Report{}, err)
		if c.onUpdate != nil {
			c.onUpdate(entry.Owner, validator.Report{}, err)
		}
		return
	}

	report := c.engine.Validate(ctx, input)
	s.set(report, nil)
	if c.onUpdate != nil {
		c.onUpdate(entry.Owner, report, nil)
	}
}

func (c *Coordinator) logSummary() {
	ok, warn, bad := 0, 0, 0
	for _, s := range c.statuses {
		report, done := s.Report()
		if !done {
			continue
		}
		switch worst := WorstKind(report); {
		case severityRank[worst] <= severityRank[findings.OK]:
			ok++
		case severityRank[worst] <= severityRank[findings.Warn]:
			warn++
		default:
			bad++
		}
	}
	logger.Info("FLEET", "validation pass complete: %d ok, %d warn, %d err/crit/skip (of %d)", ok, warn, bad, len(c.statuses))
}

// Statuses returns every roster BP's current status, for the dashboard
// and metrics exporter to range over.
func (c *Coordinator) Statuses() []*Status {
	return c.statuses
}

// Owner exposes the roster account name a Status tracks, without
// exposing the rest of the roster entry.
func (s *Status) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry.Owner
}
