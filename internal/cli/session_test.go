package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railpos/internal/config"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/ribbon"
)

func TestRunReplayCancelledPublishesSummary(t *testing.T) {
	model, err := ribbon.Parse([]byte(testRail))
	require.NoError(t, err)

	// 40 records one second apart at speed 20 take two seconds of wall time.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(300*time.Millisecond, cancel)

	out, err := runReplay(ctx, config.Default(), model, replayRequest{
		URI:     "session.ndjson",
		Records: sessionRecords(40),
		Speed:   20,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "PIPELINE_STOPPED")

	assert.True(t, out.Done.Cancelled)
	assert.Greater(t, out.Done.PointsIn, 0)
	assert.Less(t, out.Done.PointsIn, 40)
	assert.Greater(t, out.Done.PointsOut, 0)

	var dones []events.Event
	for _, ev := range out.Events {
		if ev.Kind == events.KindReplayDone {
			dones = append(dones, ev)
		}
	}
	require.Len(t, dones, 1)
	assert.Equal(t, events.KindReplayDone, out.Events[len(out.Events)-1].Kind)
	require.NotNil(t, dones[0].Done)
	assert.Equal(t, out.Done.PointsIn, dones[0].Done.PointsIn)
	assert.True(t, dones[0].Done.Cancelled)
}
