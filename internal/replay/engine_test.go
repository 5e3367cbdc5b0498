package replay

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
	"github.com/roach88/railpos/internal/projection"
	"github.com/roach88/railpos/internal/testutil"
)

var rec0 = time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

// onLine is a record on the test line at sKm, recorded ms after rec0.
func onLine(ms int64, sKm float64) Record {
	return Record{Timestamp: rec0.Add(time.Duration(ms) * time.Millisecond), Lon: testutil.LonAtKm(sKm)}
}

// session covers a clean start, a single-fix jump, an off-track fix and a
// ten second gap.
func session() []Record {
	off := onLine(5000, 10.25)
	off.Lat = 0.01
	return []Record{
		onLine(0, 10),
		onLine(1000, 10.05),
		onLine(2000, 10.10),
		onLine(3000, 30),
		onLine(4000, 10.20),
		off,
		onLine(6000, 10.30),
		onLine(16000, 10.35),
	}
}

type harness struct {
	pipe *pipeline.Pipeline
	rec  *events.Recorder
	clk  *testutil.ManualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rec: &events.Recorder{},
		clk: testutil.NewManualClock(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)),
	}
	h.pipe = pipeline.New(pipeline.DefaultConfig(), projection.New(testutil.LineModel(t)), h.rec, pipeline.WithClock(h.clk))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.pipe.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return h
}

func (h *harness) engine() *Engine {
	return NewEngine(DefaultConfig(), h.pipe, h.clk)
}

// traceLines renders events without times, for golden comparison.
func traceLines(evs []events.Event) []byte {
	var b bytes.Buffer
	for _, ev := range evs {
		fmt.Fprintf(&b, "%03d %s", ev.Seq, ev.Kind)
		switch {
		case ev.Position != nil:
			p := ev.Position
			fmt.Fprintf(&b, " state=%s reasons=[%s] on_track=%t stale=%t pk=%t",
				p.State, p.Reasons, p.OnTrack, p.IsStale, p.PK != nil)
		case ev.Source != nil:
			fmt.Fprintf(&b, " source=%s", ev.Source.Source)
		case ev.Progress != nil:
			fmt.Fprintf(&b, " fraction=%.3f", ev.Progress.Fraction)
		case ev.Done != nil:
			fmt.Fprintf(&b, " in=%d out=%d dropped=%d cancelled=%t",
				ev.Done.PointsIn, ev.Done.PointsOut, ev.Done.Dropped, ev.Done.Cancelled)
		case ev.Mismatch != nil:
			fmt.Fprintf(&b, " ratio=%.3f", ev.Mismatch.Ratio)
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// withoutTime clears the wall-dependent field.
func withoutTime(evs []events.Event) []events.Event {
	out := make([]events.Event, len(evs))
	for i, ev := range evs {
		ev.Time = time.Time{}
		out[i] = ev
	}
	return out
}

func TestEngine_GoldenTrace(t *testing.T) {
	h := newHarness(t)

	done, err := h.engine().Run(context.Background(), Session{
		Records:   session(),
		Speed:     10,
		Direction: direction.Up,
		Train:     "6201",
		URI:       "memory",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, done.PointsIn)
	assert.Equal(t, 17, done.PointsOut)
	assert.False(t, done.Cancelled)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "replay_trace", traceLines(h.rec.Events()))
}

func TestEngine_DeterministicAcrossRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := Session{Records: session(), Speed: 50, Direction: direction.Up}

	_, err := h.engine().Run(ctx, s)
	require.NoError(t, err)
	first := withoutTime(h.rec.Events())
	h.rec.Reset()

	// Wall time has moved on; the published sequence must not care.
	h.clk.Advance(3 * time.Hour)
	_, err = h.engine().Run(ctx, s)
	require.NoError(t, err)
	second := withoutTime(h.rec.Events())

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestEngine_VirtualTimestamps(t *testing.T) {
	h := newHarness(t)
	start := h.clk.Now()

	_, err := h.engine().Run(context.Background(), Session{Records: session(), Speed: 4})
	require.NoError(t, err)

	pos := h.rec.OfKind(events.KindPositionState)
	require.NotEmpty(t, pos)
	assert.Equal(t, start, pos[0].Time, "simTs = wallStart + (recorded - first)")
	assert.Equal(t, start.Add(16*time.Second), pos[len(pos)-1].Time)
}

func TestEngine_WaitsScaleWithSpeed(t *testing.T) {
	h := newHarness(t)
	recs := []Record{onLine(0, 10), onLine(2000, 10.05), onLine(2500, 10.1)}

	_, err := h.engine().Run(context.Background(), Session{Records: recs, Speed: 2})
	require.NoError(t, err)

	// Virtual ticks at +1 s and +2 s split the waits.
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		500 * time.Millisecond,
		250 * time.Millisecond,
	}, h.clk.Waits())
}

func TestEngine_ProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	var recs []Record
	for i := int64(0); i < 250; i++ {
		recs = append(recs, onLine(i*1000, 10+float64(i)*0.02))
	}

	_, err := h.engine().Run(context.Background(), Session{Records: recs, Speed: 100})
	require.NoError(t, err)

	prog := h.rec.OfKind(events.KindReplayProgress)
	require.NotEmpty(t, prog)
	last := 0.0
	for _, ev := range prog {
		f := ev.Progress.Fraction
		assert.Greater(t, f, last)
		assert.LessOrEqual(t, f, 1.0)
		last = f
	}
	assert.Equal(t, 1.0, last)
	assert.LessOrEqual(t, len(prog), 101)
}

func TestEngine_RejectsBadSessions(t *testing.T) {
	h := newHarness(t)
	e := h.engine()

	_, err := e.Run(context.Background(), Session{URI: "empty.ndjson"})
	assert.Equal(t, ErrCodeEmpty, SourceErrorCode(err))

	for _, speed := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err = e.Run(context.Background(), Session{Records: session(), Speed: speed})
		assert.Equal(t, ErrCodeInvalidSpeed, SourceErrorCode(err), "speed %v", speed)
	}
	assert.Empty(t, h.rec.Events(), "a replay that cannot start publishes nothing")
}

func TestEngine_DropsOutOfDomainRecords(t *testing.T) {
	h := newHarness(t)
	recs := session()
	recs[2].Lat = 123

	done, err := h.engine().Run(context.Background(), Session{Records: recs})
	require.NoError(t, err)
	assert.Equal(t, 7, done.PointsIn)
	assert.Equal(t, 1, done.Dropped)
}

// cancelAfter cancels its context once the pipeline has seen n fixes.
type cancelAfter struct {
	Pipeline
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) SubmitFix(ctx context.Context, f events.Fix) error {
	err := c.Pipeline.SubmitFix(ctx, f)
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return err
}

func TestEngine_CancelResetsPipeline(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe := &cancelAfter{Pipeline: h.pipe, n: 3, cancel: cancel}
	done, err := NewEngine(DefaultConfig(), pipe, h.clk).Run(ctx, Session{Records: session(), Speed: 1, Direction: direction.Down})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, done.Cancelled)
	assert.Equal(t, 3, done.PointsIn)

	dones := h.rec.OfKind(events.KindReplayDone)
	require.Len(t, dones, 1)
	assert.True(t, dones[0].Done.Cancelled)

	s, err := h.pipe.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.FixesIn)
	assert.Nil(t, s.PK)
	assert.False(t, s.Guarding)
	assert.Equal(t, direction.Down, s.Direction, "the replay's direction lock survives")
}

// steerAt runs do right after the pipeline has seen its nth fix.
type steerAt struct {
	Pipeline
	n  int
	do func()
}

func (s *steerAt) SubmitFix(ctx context.Context, f events.Fix) error {
	err := s.Pipeline.SubmitFix(ctx, f)
	s.n--
	if s.n == 0 {
		s.do()
	}
	return err
}

func TestEngine_SeekReplaysFromOffset(t *testing.T) {
	h := newHarness(t)
	ctrl := NewControl()
	pipe := &steerAt{Pipeline: h.pipe, n: 4, do: func() {
		require.NoError(t, ctrl.Seek(1500*time.Millisecond))
		require.NoError(t, ctrl.Resume())
	}}

	done, err := NewEngine(DefaultConfig(), pipe, h.clk).Run(context.Background(), Session{
		Records: session(), Speed: 10, Direction: direction.Up, Control: ctrl,
	})
	require.NoError(t, err)
	assert.False(t, done.Cancelled)
	// Four fixes, then everything from the 2 s record onwards.
	assert.Equal(t, 10, done.PointsIn)

	evs := h.rec.Events()
	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].Seq, evs[i-1].Seq)
	}
	require.Len(t, h.rec.OfKind(events.KindReplayDone), 1)

	prog := h.rec.OfKind(events.KindReplayProgress)
	require.NotEmpty(t, prog)
	assert.Equal(t, 1.0, prog[len(prog)-1].Progress.Fraction)
}

func TestEngine_SeekClampsToSpan(t *testing.T) {
	h := newHarness(t)
	ctrl := NewControl()
	pipe := &steerAt{Pipeline: h.pipe, n: 1, do: func() {
		require.NoError(t, ctrl.Seek(time.Hour))
		require.NoError(t, ctrl.Resume())
	}}

	done, err := NewEngine(DefaultConfig(), pipe, h.clk).Run(context.Background(), Session{
		Records: session(), Speed: 10, Control: ctrl,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, done.PointsIn, "first record, then straight to the last")
}

func TestEngine_PauseHoldsUntilResume(t *testing.T) {
	h := newHarness(t)
	ctrl := NewControl()
	pipe := &steerAt{Pipeline: h.pipe, n: 2, do: func() {
		assert.NoError(t, ctrl.Pause())
	}}

	type result struct {
		done events.ReplayDone
		err  error
	}
	resc := make(chan result, 1)
	go func() {
		done, err := NewEngine(DefaultConfig(), pipe, h.clk).Run(context.Background(), Session{
			Records: session(), Speed: 10, Control: ctrl,
		})
		resc <- result{done, err}
	}()

	assert.Never(t, func() bool { return len(resc) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	held := len(h.clk.Waits())

	require.NoError(t, ctrl.Resume())
	var res result
	select {
	case res = <-resc:
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not resume")
	}
	require.NoError(t, res.err)
	assert.Equal(t, 8, res.done.PointsIn)

	// Paused time is not played: the waits still add up to span/speed.
	var total time.Duration
	for _, w := range h.clk.Waits() {
		total += w
	}
	assert.Equal(t, 1600*time.Millisecond, total)
	assert.Greater(t, len(h.clk.Waits()), held)
}

func TestEngine_CancelWhilePaused(t *testing.T) {
	h := newHarness(t)
	ctrl := NewControl()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipe := &steerAt{Pipeline: h.pipe, n: 3, do: func() {
		require.NoError(t, ctrl.Pause())
		time.AfterFunc(20*time.Millisecond, cancel)
	}}

	done, err := NewEngine(DefaultConfig(), pipe, h.clk).Run(ctx, Session{
		Records: session(), Speed: 10, Control: ctrl,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, done.Cancelled)
	assert.Equal(t, 3, done.PointsIn)
}

func TestEngine_SetSpeedRescalesWaits(t *testing.T) {
	h := newHarness(t)
	ctrl := NewControl()
	pipe := &steerAt{Pipeline: h.pipe, n: 1, do: func() {
		require.NoError(t, ctrl.SetSpeed(2))
	}}
	recs := []Record{onLine(0, 10), onLine(1000, 10.05), onLine(2000, 10.1)}

	_, err := NewEngine(DefaultConfig(), pipe, h.clk).Run(context.Background(), Session{
		Records: recs, Speed: 1, Control: ctrl,
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, h.clk.Waits())
}

func TestControl_Errors(t *testing.T) {
	ctrl := NewControl()
	for _, speed := range []float64{0, -2, math.NaN(), math.Inf(1)} {
		assert.Equal(t, ErrCodeInvalidSpeed, SourceErrorCode(ctrl.SetSpeed(speed)), "speed %v", speed)
	}

	h := newHarness(t)
	_, err := h.engine().Run(context.Background(), Session{Records: session(), Speed: 50, Control: ctrl})
	require.NoError(t, err)
	assert.ErrorIs(t, ctrl.Pause(), ErrReplayOver)
	assert.ErrorIs(t, ctrl.Seek(0), ErrReplayOver)
}
