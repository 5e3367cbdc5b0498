package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/railpos/internal/events"
)

const runColumns = `id, mode, source, train, direction, speed, started_at, finished_at,
	points_in, points_out, dropped, cancelled, error, fingerprint`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run      Run
		mode     string
		started  string
		finished sql.NullString
	)
	err := row.Scan(
		&run.ID, &mode, &run.Source, &run.Train, &run.Direction, &run.Speed,
		&started, &finished,
		&run.PointsIn, &run.PointsOut, &run.Dropped, &run.Cancelled, &run.Error, &run.Fingerprint,
	)
	if err != nil {
		return Run{}, err
	}
	run.Mode = Mode(mode)

	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("run %s: %w", run.ID, err)
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: %w", run.ID, err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}

// ReadRun retrieves a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns every run, most recent first. Runs started at the same
// instant are ordered by ID.
//
// Returns an empty slice (not nil) when the store holds no run.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RunEvents returns the event log of a run ORDER BY seq ASC. With kinds
// given, only events of those kinds are returned.
//
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) RunEvents(ctx context.Context, runID string, kinds ...events.Kind) ([]events.Event, error) {
	query := `SELECT payload FROM events WHERE run_id = ?`
	args := []any{runID}
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	evs := []events.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := unmarshalEvent(payload)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return evs, nil
}
