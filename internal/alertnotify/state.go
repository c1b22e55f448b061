package alertnotify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateItem tracks one BP's current alert tracking window, keyed by
// "report_regression:<owner>" (the teacher keys by validator bls-key/node
// label; here there is exactly one rule, prefixed to the owner account).
type StateItem struct {
	Owner        string    `json:"owner"`
	Status       Status    `json:"status"`
	FiringSince  time.Time `json:"firing_since"`
	LastObserved time.Time `json:"last_observed_at"`
	LastEventAt  time.Time `json:"last_event_at"`
}

type stateFile struct {
	Version   int                  `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
	Alerts    map[string]StateItem `json:"alerts"`
}

// StateStore persists alert tracking state as JSON, atomically
// (tmp-then-rename), so the firing/resolved state survives process
// restarts. Same pattern as the teacher's alerts.StateStore and
// validators.state.go.
type StateStore struct {
	path string
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

func (s *StateStore) Load() (map[string]StateItem, error) {
	if s.path == "" {
		return make(map[string]StateItem), nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]StateItem), nil
		}
		return nil, err
	}

	var parsed stateFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	if parsed.Alerts == nil {
		parsed.Alerts = make(map[string]StateItem)
	}
	return parsed.Alerts, nil
}

func (s *StateStore) Save(alerts map[string]StateItem) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	parsed := stateFile{Version: 1, UpdatedAt: time.Now().UTC(), Alerts: alerts}
	data, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.tmp", s.path)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
