package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/quality"
)

func TestGetRunState_CompletedReplay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, createTestRun("r1", t0)))

	require.NoError(t, s.WriteEvent(ctx, "r1", positionEvent(1, quality.Trusted, 110.5)))
	require.NoError(t, s.WriteEvent(ctx, "r1", positionEvent(2, quality.Trusted, 110.6)))
	require.NoError(t, s.WriteEvent(ctx, "r1", positionEvent(3, quality.Degraded, 110.7)))
	require.NoError(t, s.WriteEvent(ctx, "r1", doneEvent(4, 3, 3)))

	state, err := s.GetRunState(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, state.IsComplete, "not finished yet")

	require.NoError(t, s.FinishRun(ctx, "r1", t0.Add(time.Minute), events.ReplayDone{PointsIn: 3, PointsOut: 3}, "fp"))

	state, err = s.GetRunState(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, state.IsComplete)
	assert.Equal(t, int64(4), state.LastSeq)
	assert.Equal(t, 3, state.Counts[events.KindPositionState])
	assert.Equal(t, 1, state.Counts[events.KindReplayDone])
	assert.Equal(t, 2, state.States[quality.Trusted])
	assert.Equal(t, 1, state.States[quality.Degraded])
	require.NotNil(t, state.LastState)
	assert.Equal(t, quality.Degraded, state.LastState.State)
}

func TestGetRunState_ReplayWithoutDone(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, createTestRun("r1", t0)))
	require.NoError(t, s.WriteEvent(ctx, "r1", positionEvent(1, quality.Trusted, 110.5)))
	require.NoError(t, s.FinishRun(ctx, "r1", t0, events.ReplayDone{}, ""))

	state, err := s.GetRunState(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, state.IsComplete)
}

func TestGetRunState_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRunState(context.Background(), "missing")
	assert.Error(t, err)
}

func TestFindUnfinishedRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginRun(ctx, Run{ID: "live-2", Mode: ModeLive, Source: "stdin", StartedAt: t0.Add(time.Hour)}))
	require.NoError(t, s.BeginRun(ctx, Run{ID: "live-1", Mode: ModeLive, Source: "stdin", StartedAt: t0}))
	require.NoError(t, s.BeginRun(ctx, createTestRun("r1", t0)))
	require.NoError(t, s.FinishRun(ctx, "r1", t0, events.ReplayDone{}, ""))

	runs, err := s.FindUnfinishedRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "live-1", runs[0].ID)
	assert.Equal(t, "live-2", runs[1].ID)
}
