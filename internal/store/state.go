package store

import (
	"context"
	"fmt"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/quality"
)

// RunState summarizes a run's event log for inspection.
type RunState struct {
	Run       Run                   `json:"run"`
	Counts    map[events.Kind]int   `json:"counts"`
	LastSeq   int64                 `json:"last_seq"`
	LastState *events.PositionState `json:"last_state,omitempty"`

	// States counts position_state events per quality state.
	States map[quality.State]int `json:"states"`

	// IsComplete is true when the run has finished and its log ends with
	// replay_done (replays) or is non-empty (live runs).
	IsComplete bool `json:"is_complete"`
}

// GetRunState reads a run and analyses its event log.
func (s *Store) GetRunState(ctx context.Context, id string) (RunState, error) {
	run, err := s.ReadRun(ctx, id)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}
	evs, err := s.RunEvents(ctx, id)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}

	state := RunState{
		Run:    run,
		Counts: make(map[events.Kind]int),
		States: make(map[quality.State]int),
	}
	for _, ev := range evs {
		state.Counts[ev.Kind]++
		if ev.Seq > state.LastSeq {
			state.LastSeq = ev.Seq
		}
		if ev.Position != nil {
			p := *ev.Position
			state.LastState = &p
			state.States[p.State]++
		}
	}

	switch {
	case run.FinishedAt == nil:
	case run.Mode == ModeReplay:
		state.IsComplete = len(evs) > 0 && evs[len(evs)-1].Kind == events.KindReplayDone
	default:
		state.IsComplete = len(evs) > 0
	}
	return state, nil
}

// FindUnfinishedRuns returns runs that never recorded an outcome, oldest
// first. A live session that crashed or was killed shows up here.
func (s *Store) FindUnfinishedRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE finished_at IS NULL
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("find unfinished runs: %w", err)
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
