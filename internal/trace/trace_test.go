package trace

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/quality"
)

func ptr(f float64) *float64 { return &f }

func sample(at time.Time) []events.Event {
	return []events.Event{
		{Seq: 1, Kind: events.KindPositionState, Time: at, Position: &events.PositionState{
			State: quality.Trusted, PK: ptr(112.345678), OnTrack: true, AgeSec: 0.25,
		}},
		{Seq: 2, Kind: events.KindReferenceSource, Time: at, Source: &events.ReferenceSource{Source: quality.Live}},
		{Seq: 3, Kind: events.KindDirectionMismatch, Time: at.Add(time.Second), Mismatch: &events.DirectionMismatch{
			Ratio: 0.875, WindowMS: 12000, Expected: direction.Up,
		}},
		{Seq: 4, Kind: events.KindPositionState, Time: at.Add(2 * time.Second), Position: &events.PositionState{
			State: quality.NoFix, Reasons: quality.ReasonStale | quality.ReasonNoFix, IsStale: true, AgeSec: 9,
		}},
		{Seq: 5, Kind: events.KindReplayProgress, Time: at, Progress: &events.ReplayProgress{Fraction: 1}},
		{Seq: 6, Kind: events.KindReplayDone, Time: at, Done: &events.ReplayDone{PointsIn: 3, PointsOut: 2}},
	}
}

func TestEventValue_Canonical(t *testing.T) {
	evs := sample(time.Unix(0, 0))

	tests := []struct {
		ev       events.Event
		expected string
	}{
		{evs[0], `{"kind":"position_state","position":{"age_sec":250000,"is_stale":false,"on_track":true,"pk":112345678,"reason_codes":[],"state":"trusted"},"seq":1}`},
		{evs[1], `{"kind":"reference_source_changed","seq":2,"source":{"source":"live"}}`},
		{evs[2], `{"kind":"direction_mismatch","mismatch":{"expected":"up","ratio":875000,"window_ms":12000},"seq":3}`},
		{evs[3], `{"kind":"position_state","position":{"age_sec":9000000,"is_stale":true,"on_track":false,"reason_codes":["no_fix","stale"],"state":"no_fix"},"seq":4}`},
		{evs[4], `{"kind":"replay_progress","progress":{"fraction":1000000},"seq":5}`},
		{evs[5], `{"done":{"cancelled":false,"dropped":0,"error":"","points_in":3,"points_out":2},"kind":"replay_done","seq":6}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Kind), func(t *testing.T) {
			v, err := EventValue(tt.ev)
			require.NoError(t, err)
			b, err := MarshalCanonical(v)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(b))
		})
	}
}

func TestFingerprint_IgnoresTime(t *testing.T) {
	a, err := Fingerprint(sample(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	b, err := Fingerprint(sample(time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "SHA-256 hex is 64 characters")
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	at := time.Unix(0, 0)
	base, err := Fingerprint(sample(at))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]events.Event)
	}{
		{"pk by one micro", func(evs []events.Event) { *evs[0].Position.PK += 1e-6 }},
		{"pk absent", func(evs []events.Event) { evs[0].Position.PK = nil }},
		{"reason added", func(evs []events.Event) { evs[3].Position.Reasons |= quality.ReasonOffTrack }},
		{"seq shifted", func(evs []events.Event) { evs[1].Seq = 7 }},
		{"source", func(evs []events.Event) { evs[1].Source.Source = quality.Schedule }},
		{"done cancelled", func(evs []events.Event) { evs[5].Done.Cancelled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs := sample(at)
			tt.mutate(evs)
			fp, err := Fingerprint(evs)
			require.NoError(t, err)
			assert.NotEqual(t, base, fp)
		})
	}

	fp, err := Fingerprint(sample(at)[:5])
	require.NoError(t, err)
	assert.NotEqual(t, base, fp, "dropping an event changes the fingerprint")
}

func TestFingerprint_Errors(t *testing.T) {
	evs := sample(time.Unix(0, 0))
	evs[0].Position.PK = ptr(math.NaN())
	_, err := Fingerprint(evs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pk")

	evs = sample(time.Unix(0, 0))
	evs[1].Position = &events.PositionState{}
	_, err = Fingerprint(evs)
	assert.Error(t, err, "two payloads")
}

func TestFingerprint_Empty(t *testing.T) {
	fp, err := Fingerprint(nil)
	require.NoError(t, err)
	assert.Equal(t, hashWithDomain(Domain, []byte("[]")), fp)
}

func TestDiverge(t *testing.T) {
	at := time.Unix(0, 0)

	i, err := Diverge(sample(at), sample(at.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, -1, i)

	b := sample(at)
	b[3].Position.AgeSec = 9.5
	i, err = Diverge(sample(at), b)
	require.NoError(t, err)
	assert.Equal(t, 3, i)

	i, err = Diverge(sample(at), sample(at)[:4])
	require.NoError(t, err)
	assert.Equal(t, 4, i)
}

func TestMicro(t *testing.T) {
	v, err := Micro(-1.25)
	require.NoError(t, err)
	assert.Equal(t, Int(-1250000), v)

	_, err = Micro(math.Inf(1))
	assert.Error(t, err)
}
