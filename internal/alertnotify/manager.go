package alertnotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/fleet"
	"github.com/poplexity/bpvalidate/internal/logger"
)

// severityRank mirrors findings.Kind's ascending order, same small copy
// kept by internal/fleet and internal/metrics — findings.Kind's rank is
// private, and three different ambient packages each need to compare it.
var severityRank = map[findings.Kind]int{
	findings.OK:   0,
	findings.Info: 1,
	findings.Warn: 2,
	findings.Err:  3,
	findings.Crit: 4,
	findings.Skip: 5,
}

// Manager watches a fleet.Coordinator's BP statuses and fires/resolves a
// "report regression" alert per BP, the single rule this domain needs
// (SPEC_FULL.md §6 "Alert webhooks"). Grounded on
// leccaventures-pwt/internal/alerts.Manager (same checkRules-on-a-ticker
// shape, same fire-after debounce via StateItem), collapsed from the
// teacher's four rule kinds (validator down, node down, ws down, validator
// uptime) to the one rule this domain has. The rule's resolve_after is
// not read: a firing BP is resolved on the first check that finds its
// report free of err/crit.
type Manager struct {
	cfg         config.AlertsConfig
	coordinator *fleet.Coordinator
	notifier    Notifier
	state       *StateStore
	alerts      map[string]StateItem
	mu          sync.Mutex
}

func NewManager(cfg config.AlertsConfig, stateFile string, coordinator *fleet.Coordinator) *Manager {
	return &Manager{
		cfg:         cfg,
		coordinator: coordinator,
		notifier:    NewNotifier(cfg),
		state:       NewStateStore(stateFile),
		alerts:      make(map[string]StateItem),
	}
}

// Start loads any persisted alert state, runs one immediate check, then
// rechecks on a 30 second ticker (the same interval the teacher polls
// at) until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	loaded, err := m.state.Load()
	if err != nil {
		logger.Warn("ALERT", "failed to load alert state: %v", err)
	} else {
		m.alerts = loaded
		logger.Info("ALERT", "loaded %d alert states from disk", len(m.alerts))
	}

	ticker := time.NewTicker(30 * time.Second)
	go func() {
		m.checkRules(ctx)
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				m.checkRules(ctx)
			}
		}
	}()
}

func (m *Manager) checkRules(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Rules.ReportRegression.Enabled() {
		return
	}

	now := time.Now()
	fireDuration := m.cfg.Rules.ReportRegression.FireDuration()

	for _, status := range m.coordinator.Statuses() {
		owner := status.Owner()
		report, done := status.Report()
		if !done {
			continue
		}

		worst := findings.OK
		for _, kind := range report.MessageSummary {
			if (kind == findings.Err || kind == findings.Crit) && severityRank[kind] > severityRank[worst] {
				worst = kind
			}
		}
		regressed := worst != findings.OK

		key := fmt.Sprintf("report_regression:%s", owner)
		state, exists := m.alerts[key]

		if regressed {
			m.trackFiring(ctx, key, owner, worst, now, fireDuration, state, exists)
		} else if exists {
			m.resolveIfFiring(ctx, key, owner, state)
		}
	}

	if err := m.state.Save(m.alerts); err != nil {
		logger.Warn("ALERT", "failed to save alert state: %v", err)
	}
}

func (m *Manager) trackFiring(ctx context.Context, key, owner string, worst findings.Kind, now time.Time, fireDuration time.Duration, state StateItem, exists bool) {
	if !exists {
		m.alerts[key] = StateItem{Owner: owner, Status: Firing, FiringSince: now, LastObserved: now}
		return
	}

	state.LastObserved = now
	m.alerts[key] = state

	if state.Status == Firing && now.Sub(state.FiringSince) >= fireDuration && state.LastEventAt.IsZero() {
		downtime := now.Sub(state.FiringSince).Round(time.Second)
		event := Event{
			Key: key, Owner: owner, Status: Firing, Severity: severityLabel(worst),
			Title:   "BP report regressed",
			Message: fmt.Sprintf("%s's validation report has been at %s for %v", owner, worst, downtime),
			Details: []Detail{{Label: "Worst severity", Value: string(worst)}, {Label: "Duration", Value: downtime.String()}},
			Timestamp: now,
		}
		if err := m.notifier.Notify(ctx, event); err != nil {
			logger.Warn("ALERT", "failed to send report regression alert for %s: %v", owner, err)
		}
		state.LastEventAt = now
		m.alerts[key] = state
	}
}

func (m *Manager) resolveIfFiring(ctx context.Context, key, owner string, state StateItem) {
	if state.Status != Firing {
		return
	}
	if !state.LastEventAt.IsZero() {
		totalDowntime := time.Since(state.FiringSince).Round(time.Second)
		event := Event{
			Key: key, Owner: owner, Status: Resolved, Severity: "info",
			Title:   "BP report recovered",
			Message: fmt.Sprintf("%s's validation report recovered after %v", owner, totalDowntime),
			Details: []Detail{{Label: "Total duration", Value: totalDowntime.String()}},
			Timestamp: time.Now(),
		}
		if err := m.notifier.Notify(ctx, event); err != nil {
			logger.Warn("ALERT", "failed to send report resolved alert for %s: %v", owner, err)
		}
	}
	delete(m.alerts, key)
}

func severityLabel(worst findings.Kind) string {
	if worst == findings.Crit {
		return "critical"
	}
	return "warning"
}
