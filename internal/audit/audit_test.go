package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Log("user1", "admin", "lock_door", map[string]any{"device_id": "lock_front"}, "ok", 12*time.Millisecond, ""); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log("user1", "admin", "lock_door", map[string]any{"device_id": "lock_front"}, "ok", 8*time.Millisecond, "trace-123"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("open audit.log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var entries []Entry
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal entry: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].TraceID == "" {
		t.Error("expected a generated trace ID when none is supplied")
	}
	if entries[1].TraceID != "trace-123" {
		t.Errorf("got trace ID %q, want trace-123", entries[1].TraceID)
	}
	if entries[0].ArgsHash != entries[1].ArgsHash {
		t.Error("expected identical args to hash identically")
	}
}

func TestHashArgsStableUnderKeyOrder(t *testing.T) {
	a := hashArgs(map[string]any{"b": 1, "a": 2})
	b := hashArgs(map[string]any{"a": 2, "b": 1})
	if a != b {
		t.Errorf("hashArgs should be order-independent, got %q vs %q", a, b)
	}
}
