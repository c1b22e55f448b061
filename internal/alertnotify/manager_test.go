package alertnotify

import (
	"context"
	"testing"
	"time"

	"github.com/poplexity/bpvalidate/internal/findings"
)

type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func newTestManager(notifier Notifier) *Manager {
	return &Manager{
		notifier: notifier,
		state:    NewStateStore(""),
		alerts:   make(map[string]StateItem),
	}
}

func TestTrackFiringDoesNotNotifyBeforeFireDuration(t *testing.T) {
	m := newTestManager(&recordingNotifier{})
	now := time.Now()

	m.trackFiring(context.Background(), "k", "alice", findings.Crit, now, 5*time.Minute, StateItem{}, false)

	notifier := m.notifier.(*recordingNotifier)
	if len(notifier.events) != 0 {
		t.Fatalf("expected no event on first observation, got %+v", notifier.events)
	}
	state, ok := m.alerts["k"]
	if !ok || state.Status != Firing {
		t.Fatalf("expected a firing state to be tracked, got %+v", state)
	}
}

func TestTrackFiringNotifiesAfterFireDuration(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestManager(notifier)
	now := time.Now()
	firingSince := now.Add(-10 * time.Minute)

	m.alerts["k"] = StateItem{Owner: "alice", Status: Firing, FiringSince: firingSince, LastObserved: firingSince}
	m.trackFiring(context.Background(), "k", "alice", findings.Crit, now, 5*time.Minute, m.alerts["k"], true)

	if len(notifier.events) != 1 {
		t.Fatalf("expected exactly one fired event, got %d", len(notifier.events))
	}
	if notifier.events[0].Status != Firing {
		t.Fatalf("expected a firing event, got %s", notifier.events[0].Status)
	}
	if m.alerts["k"].LastEventAt.IsZero() {
		t.Fatal("expected LastEventAt to be stamped after notifying")
	}
}

func TestTrackFiringDoesNotRenotifyOnceFired(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestManager(notifier)
	now := time.Now()
	firingSince := now.Add(-10 * time.Minute)

	state := StateItem{Owner: "alice", Status: Firing, FiringSince: firingSince, LastObserved: firingSince, LastEventAt: firingSince.Add(time.Minute)}
	m.alerts["k"] = state
	m.trackFiring(context.Background(), "k", "alice", findings.Crit, now, 5*time.Minute, state, true)

	if len(notifier.events) != 0 {
		t.Fatalf("expected no re-notification once an event was already sent, got %+v", notifier.events)
	}
}

func TestResolveIfFiringSendsRecoveryOnlyIfEventWasSent(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestManager(notifier)

	// No LastEventAt means no firing notification was ever sent, so
	// recovery should be silent but still clear the tracked state.
	m.alerts["k"] = StateItem{Owner: "alice", Status: Firing}
	m.resolveIfFiring(context.Background(), "k", "alice", m.alerts["k"])

	if len(notifier.events) != 0 {
		t.Fatalf("expected no recovery event when nothing had fired yet, got %+v", notifier.events)
	}
	if _, exists := m.alerts["k"]; exists {
		t.Fatal("expected the alert state to be cleared after resolving")
	}
}

func TestResolveIfFiringSendsRecoveryEvent(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestManager(notifier)

	state := StateItem{Owner: "alice", Status: Firing, FiringSince: time.Now().Add(-20 * time.Minute), LastEventAt: time.Now().Add(-15 * time.Minute)}
	m.alerts["k"] = state
	m.resolveIfFiring(context.Background(), "k", "alice", state)

	if len(notifier.events) != 1 || notifier.events[0].Status != Resolved {
		t.Fatalf("expected exactly one resolved event, got %+v", notifier.events)
	}
	if _, exists := m.alerts["k"]; exists {
		t.Fatal("expected the alert state to be cleared after resolving")
	}
}

func TestSeverityLabel(t *testing.T) {
	if severityLabel(findings.Crit) != "critical" {
		t.Fatal("crit should map to critical")
	}
	if severityLabel(findings.Err) != "warning" {
		t.Fatal("err should map to warning")
	}
}
