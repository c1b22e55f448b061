package alertnotify

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStateStoreSaveAndLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")
	store := NewStateStore(path)

	alerts := map[string]StateItem{
		"report_regression:alice": {
			Owner: "alice", Status: Firing,
			FiringSince: time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second),
		},
	}

	if err := store.Save(alerts); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := NewStateStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	item, ok := loaded["report_regression:alice"]
	if !ok {
		t.Fatal("expected the saved alert key to roundtrip")
	}
	if item.Owner != "alice" || item.Status != Firing {
		t.Fatalf("unexpected roundtripped item: %+v", item)
	}
}

func TestStateStoreLoadMissingFileReturnsEmptyMap(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "missing.json"))
	alerts, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected an empty map, got %v", alerts)
	}
}

func TestStateStoreEmptyPathIsNoop(t *testing.T) {
	store := NewStateStore("")
	if err := store.Save(map[string]StateItem{"x": {}}); err != nil {
		t.Fatalf("Save with empty path should be a no-op, got: %v", err)
	}
	alerts, err := store.Load()
	if err != nil || len(alerts) != 0 {
		t.Fatalf("Load with empty path should return an empty map, got %v, %v", alerts, err)
	}
}
