package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"defencefield.ai/internal/sim/arena/events"
)

func TestEventLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir, nil)
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	l.w.now = func() time.Time { return fixed }

	started := events.New(events.WaveStarted)
	started.Epoch = 3
	started.Entrances = 2
	updated := events.New(events.RouteUpdated)
	updated.Epoch = 3
	updated.Entrance = 1
	updated.Found = true
	updated.Len = 7
	l.Emit(started)
	l.Emit(updated)

	path := l.Path()
	want := filepath.Join(dir, "events", "events-2026-03-04-05.jsonl.zst")
	if path != want {
		t.Fatalf("path: got %s want %s", path, want)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if l.Errors() != 0 {
		t.Fatalf("write errors: %d", l.Errors())
	}

	got, err := ReadEvents(want)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events: got %d want 2", len(got))
	}
	if got[0].Kind != events.WaveStarted || got[0].Entrances != 2 || got[0].Entrance != -1 {
		t.Fatalf("event 0: %+v", got[0])
	}
	if got[1].Kind != events.RouteUpdated || got[1].Entrance != 1 || !got[1].Found || got[1].Len != 7 {
		t.Fatalf("event 1: %+v", got[1])
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	now := time.Date(2026, 1, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, name := range []string{"events-2026-01-01-10.jsonl.zst", "events-2026-01-01-11.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}
