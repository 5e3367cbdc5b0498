package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/railpos/internal/events"
)

// Mode says how a run was fed.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeReplay Mode = "replay"
)

// Run is one persisted session.
type Run struct {
	ID        string  `json:"id"`
	Mode      Mode    `json:"mode"`
	Source    string  `json:"source"`
	Train     string  `json:"train,omitempty"`
	Direction string  `json:"direction"`
	Speed     float64 `json:"speed"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	PointsIn    int    `json:"points_in"`
	PointsOut   int    `json:"points_out"`
	Dropped     int    `json:"dropped"`
	Cancelled   bool   `json:"cancelled"`
	Error       string `json:"error,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// BeginRun inserts a new run row. A duplicate ID is an error: run IDs are
// generated, never reused.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("begin run: empty id")
	}
	if run.Direction == "" {
		run.Direction = "unknown"
	}
	if run.Speed == 0 {
		run.Speed = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, source, train, direction, speed, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Mode),
		run.Source,
		run.Train,
		run.Direction,
		run.Speed,
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the outcome of a run. Calling it again overwrites the
// previous outcome.
func (s *Store) FinishRun(ctx context.Context, id string, at time.Time, done events.ReplayDone, fingerprint string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, points_in = ?, points_out = ?, dropped = ?,
		    cancelled = ?, error = ?, fingerprint = ?
		WHERE id = ?
	`,
		formatTime(at),
		done.PointsIn,
		done.PointsOut,
		done.Dropped,
		done.Cancelled,
		done.Error,
		fingerprint,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// WriteEvent appends ev to the run's event log.
// Uses ON CONFLICT(run_id, seq) DO NOTHING for idempotency.
//
// Note: The run must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, runID string, ev events.Event) error {
	payload, err := marshalEvent(ev)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, kind, time, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		runID,
		ev.Seq,
		string(ev.Kind),
		formatTime(ev.Time),
		payload,
	)
	if err != nil {
		return fmt.Errorf("write event %d: %w", ev.Seq, err)
	}
	return nil
}

// Sink returns an events.Sink appending to the given run.
func (s *Store) Sink(runID string) events.Sink {
	return events.Func(func(ctx context.Context, ev events.Event) error {
		return s.WriteEvent(ctx, runID, ev)
	})
}
