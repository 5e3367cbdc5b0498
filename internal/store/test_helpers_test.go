package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/quality"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

// createTestRun creates a replay run with minimal required fields.
func createTestRun(id string, started time.Time) Run {
	return Run{
		ID:        id,
		Mode:      ModeReplay,
		Source:    "testdata/" + id + ".ndjson",
		Train:     "6201",
		Direction: "up",
		Speed:     10,
		StartedAt: started,
	}
}

func positionEvent(seq int64, state quality.State, pk float64) events.Event {
	return events.Event{
		Seq:  seq,
		Kind: events.KindPositionState,
		Time: t0.Add(time.Duration(seq) * time.Second),
		Position: &events.PositionState{
			State:   state,
			PK:      &pk,
			OnTrack: true,
		},
	}
}

func doneEvent(seq int64, in, out int) events.Event {
	return events.Event{
		Seq:  seq,
		Kind: events.KindReplayDone,
		Time: t0.Add(time.Duration(seq) * time.Second),
		Done: &events.ReplayDone{PointsIn: in, PointsOut: out},
	}
}
