package events

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/quality"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func pk(v float64) *float64 { return &v }

func sampleEvents() []Event {
	return []Event{
		{Seq: 1, Kind: KindPositionState, Time: t0, Position: &PositionState{
			State: quality.Trusted, PK: pk(95), OnTrack: true,
		}},
		{Seq: 2, Kind: KindReferenceSource, Time: t0, Source: &ReferenceSource{Source: quality.Live}},
		{Seq: 3, Kind: KindPositionState, Time: t0.Add(9500 * time.Millisecond), Position: &PositionState{
			State: quality.Degraded, Reasons: quality.ReasonOffTrack | quality.ReasonStale, IsStale: true, AgeSec: 9.5,
		}},
		{Seq: 4, Kind: KindDirectionMismatch, Time: t0.Add(10 * time.Second), Mismatch: &DirectionMismatch{
			Ratio: 1, WindowMS: 6000, Expected: direction.Up,
		}},
		{Seq: 5, Kind: KindReplayDone, Time: t0.Add(10 * time.Second), Done: &ReplayDone{PointsIn: 10, PointsOut: 7}},
	}
}

func TestNDJSONSink_WireFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewNDJSONSink(&buf)
	for _, ev := range sampleEvents() {
		require.NoError(t, s.Publish(context.Background(), ev))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "events_ndjson", buf.Bytes())
}

func TestReadNDJSON_ReadsWhatSinkWrites(t *testing.T) {
	var buf bytes.Buffer
	s := NewNDJSONSink(&buf)
	for _, ev := range sampleEvents() {
		require.NoError(t, s.Publish(context.Background(), ev))
	}
	buf.WriteString("\n")

	got, err := ReadNDJSON(&buf)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, quality.Trusted, got[0].Position.State)
	assert.Equal(t, 95.0, *got[0].Position.PK)
	assert.Nil(t, got[2].Position.PK)
	assert.Equal(t, quality.ReasonOffTrack|quality.ReasonStale, got[2].Position.Reasons)
	assert.True(t, got[2].Time.Equal(t0.Add(9500*time.Millisecond)))
	assert.Equal(t, quality.Live, got[1].Source.Source)
	assert.Equal(t, direction.Up, got[3].Mismatch.Expected)
	assert.Equal(t, 7, got[4].Done.PointsOut)
}

func TestReadNDJSON_RejectsMalformed(t *testing.T) {
	_, err := ReadNDJSON(strings.NewReader(`{"seq":1,"kind":"position_state"}`))
	assert.ErrorContains(t, err, "line 1")

	_, err = ReadNDJSON(strings.NewReader("not json\n"))
	assert.ErrorContains(t, err, "line 1")
}

func TestEvent_Validate(t *testing.T) {
	for _, ev := range sampleEvents() {
		assert.NoError(t, ev.Validate(), "seq %d", ev.Seq)
	}

	bad := Event{Seq: 9, Kind: KindReplayProgress, Done: &ReplayDone{}}
	assert.ErrorContains(t, bad.Validate(), "does not match")

	none := Event{Seq: 9, Kind: KindReplayProgress}
	assert.ErrorContains(t, none.Validate(), "0 payloads")

	unknown := Event{Seq: 9, Kind: "teleport", Progress: &ReplayProgress{}}
	assert.ErrorContains(t, unknown.Validate(), "unknown kind")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	for _, ev := range sampleEvents() {
		require.NoError(t, r.Publish(context.Background(), ev))
	}

	assert.Len(t, r.Events(), 5)
	assert.Len(t, r.OfKind(KindPositionState), 2)
	pos := r.Positions()
	require.Len(t, pos, 2)
	assert.Equal(t, quality.Degraded, pos[1].State)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	var a, b Recorder
	boom := errors.New("boom")
	failing := Func(func(context.Context, Event) error { return boom })

	m := Multi(&a, nil, failing, &b)
	err := m.Publish(context.Background(), sampleEvents()[0])
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)

	assert.NoError(t, Multi(&a).Publish(context.Background(), sampleEvents()[1]))
	assert.NoError(t, Discard.Publish(context.Background(), sampleEvents()[1]))
}

func TestRotatingNDJSONSink_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	s := NewRotatingNDJSONSink(RotatingFile{Path: path, MaxSizeMB: 1, MaxBackups: 1})
	for _, ev := range sampleEvents() {
		require.NoError(t, s.Publish(context.Background(), ev))
	}
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := ReadNDJSON(f)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestNDJSONSink_CloseWithoutFile(t *testing.T) {
	assert.NoError(t, NewNDJSONSink(&bytes.Buffer{}).Close())
}

func TestFix_Finite(t *testing.T) {
	assert.True(t, Fix{Lat: 1, Lon: 2}.Finite())
	assert.False(t, Fix{Lat: math.NaN(), Lon: 2}.Finite())
}
