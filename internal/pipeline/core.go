package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/railpos/internal/clock"
	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/jumpguard"
	"github.com/roach88/railpos/internal/locator"
	"github.com/roach88/railpos/internal/projection"
	"github.com/roach88/railpos/internal/quality"
)

// Stats counts what the pipeline has seen since the last reset.
type Stats struct {
	FixesIn   int `json:"fixes_in"`
	Dropped   int `json:"dropped"`
	OffTrack  int `json:"off_track"`
	Rejected  int `json:"rejected"`
	Published int `json:"published"`
	Events    int `json:"events"`

	State     quality.State      `json:"state"`
	Source    quality.Source     `json:"source"`
	PK        *float64           `json:"pk,omitempty"`
	Direction direction.Direction `json:"direction"`
	Guarding  bool               `json:"guarding"`

	// Reference is the active PK reference on lines that name theirs.
	Reference string `json:"reference,omitempty"`
	Switches  int    `json:"reference_switches,omitempty"`
}

// core holds every piece of mutable state. It is only used from the
// pipeline goroutine (or directly by tests).
type core struct {
	cfg  Config
	proj *projection.Engine
	sink events.Sink
	seq  *clock.Seq

	loc      *locator.Locator
	guard    *jumpguard.Guard
	quality  *quality.Machine
	throttle *quality.Throttle
	dir      *direction.Tracker

	hasFix    bool
	lastFixAt time.Time
	projected bool
	onTrack   bool

	pk    float64
	hasPK bool

	// switched holds a confirmed reference switch until an on-track fix
	// hands it to the guard.
	switched bool

	source quality.Source
	now    time.Time
	stats  Stats
}

func newCore(cfg Config, proj *projection.Engine, sink events.Sink, seq *clock.Seq) *core {
	if sink == nil {
		sink = events.Discard
	}
	return &core{
		cfg:      cfg,
		proj:     proj,
		sink:     sink,
		seq:      seq,
		loc:      locator.New(cfg.Locator, proj),
		guard:    jumpguard.New(cfg.JumpGuard),
		quality:  quality.New(cfg.Quality),
		throttle: quality.NewThrottle(cfg.Quality),
		dir:      direction.NewTracker(cfg.Direction),
		source:   quality.Schedule,
	}
}

// fix runs one fix through projection, jump guard and quality evaluation.
func (c *core) fix(ctx context.Context, f events.Fix) {
	if !f.Finite() || !projection.InDomain(f.Lat, f.Lon) {
		c.stats.Dropped++
		slog.Warn("fix dropped: coordinates out of domain", "lat", f.Lat, "lon", f.Lon)
		return
	}
	c.stats.FixesIn++

	ts := f.Timestamp
	if c.hasFix && ts.Before(c.lastFixAt) {
		slog.Debug("fix timestamp went backwards, clamped",
			"ts", ts, "last_fix_at", c.lastFixAt)
		ts = c.lastFixAt
	}
	c.hasFix = true
	c.lastFixAt = ts

	loc := c.loc.Locate(f.Lat, f.Lon, c.relocking(ts))
	p := loc.Projection
	c.projected = p.Valid
	if loc.Rerouted {
		slog.Debug("fix kept on the current stretch",
			"index", p.NearestIndex,
			"distance_m", p.DistanceM,
		)
	}
	if loc.Switched {
		c.switched = true
		c.stats.Switches++
		slog.Info("pk reference switched", "reference", c.proj.Model().ReferenceName(loc.Reference), "s_km", p.SKm)
	}
	c.onTrack = projection.OnTrack(p, c.cfg.OnTrackThresholdM) && (f.OnTrack == nil || *f.OnTrack)

	if !c.onTrack {
		c.stats.OffTrack++
		slog.Debug("fix off track",
			"valid", p.Valid,
			"distance_m", p.DistanceM,
			"threshold_m", c.cfg.OnTrackThresholdM,
		)
	} else {
		var d jumpguard.Decision
		if c.switched {
			// PKs on either side of a reference change are not comparable.
			c.switched = false
			d = c.guard.Relock(p.PK, ts)
			c.dir.ResetWindow()
		} else {
			d = c.guard.Check(p.PK, ts)
		}
		switch {
		case d.Ok():
			c.loc.Accept(loc)
			if d.Outcome != jumpguard.Accepted && d.Outcome != jumpguard.FirstFix {
				slog.Info("jump guard released", "outcome", d.Outcome, "pk", d.PK)
			}
			c.pk, c.hasPK = d.PK, true
			c.quality.ObservePK(d.PK, ts)
			if m, ok := c.dir.Observe(d.PK, ts); ok {
				expected, _ := c.dir.Expected()
				slog.Warn("direction mismatch", "ratio", m.Ratio, "window_ms", m.WindowMS, "expected", expected)
				c.publish(ctx, ts, events.Event{
					Kind:     events.KindDirectionMismatch,
					Mismatch: &events.DirectionMismatch{Ratio: m.Ratio, WindowMS: m.WindowMS, Expected: expected},
				})
			}
		default:
			c.stats.Rejected++
			slog.Info("jump guard rejected fix",
				"pk", p.PK,
				"jump_km", d.JumpKm,
				"allowed_km", d.AllowedKm,
			)
		}
	}

	c.evaluate(ctx, ts)
}

// relocking reports whether the locator may look further along the ribbon:
// while the guard rejects, or once the last accepted PK is as old as the
// guard's relock delay.
func (c *core) relocking(ts time.Time) bool {
	if c.guard.Active() {
		return true
	}
	_, last, ok := c.guard.LastAccepted()
	after := c.cfg.JumpGuard.RelockAfterSec
	return ok && after > 0 && ts.Sub(last).Seconds() >= after
}

// tick re-evaluates without new input, so silence is observable.
func (c *core) tick(ctx context.Context, now time.Time) {
	if now.Before(c.now) {
		now = c.now
	}
	c.evaluate(ctx, now)
}

func (c *core) evaluate(ctx context.Context, now time.Time) {
	c.now = now
	st := c.quality.Evaluate(quality.Input{
		Now:         now,
		HasFix:      c.hasFix,
		LastFixAt:   c.lastFixAt,
		Projected:   c.projected,
		OnTrack:     c.onTrack,
		GuardActive: c.guard.Active(),
	})

	pk := c.publishedPK(st.State)
	if c.throttle.Should(now, st.State, st.Reasons, pk) {
		c.throttle.Mark(now, st.State, st.Reasons, pk)
		c.stats.Published++
		c.publish(ctx, now, events.Event{
			Kind: events.KindPositionState,
			Position: &events.PositionState{
				State:   st.State,
				PK:      pk,
				Reasons: st.Reasons,
				OnTrack: st.OnTrack,
				IsStale: st.Stale,
				AgeSec:  st.AgeSec,
			},
		})
	}

	c.setSource(ctx, now, quality.SourceFor(st.State))
}

// publishedPK is the PK consumers may show: always in Trusted, in Degraded
// only while the guard is not suppressing it.
func (c *core) publishedPK(s quality.State) *float64 {
	if !c.hasPK {
		return nil
	}
	if s == quality.Trusted || (s == quality.Degraded && !c.guard.Active()) {
		v := c.pk
		return &v
	}
	return nil
}

func (c *core) setSource(ctx context.Context, now time.Time, src quality.Source) {
	if src == c.source {
		return
	}
	slog.Info("reference source changed", "from", c.source, "to", src)
	c.source = src
	c.publish(ctx, now, events.Event{
		Kind:   events.KindReferenceSource,
		Source: &events.ReferenceSource{Source: src},
	})
}

func (c *core) publish(ctx context.Context, now time.Time, ev events.Event) {
	ev.Seq = c.seq.Next()
	ev.Time = now
	c.stats.Events++
	if err := c.sink.Publish(ctx, ev); err != nil {
		// Log and continue: a sink never stalls the pipeline.
		slog.Error("event sink failed", "seq", ev.Seq, "kind", ev.Kind, "error", err)
	}
}

// setDirection applies an expected-direction request. Manual requests
// always win; other sources only apply while the tracker is unlocked.
func (c *core) setDirection(dir direction.Direction, source direction.Source, train string) {
	switch {
	case source == direction.SourceManual || source == direction.SourceReplay:
		c.dir.Override(dir, source, train)
	case dir == direction.Unknown:
		c.dir.SetFromTrain(train)
	default:
		c.dir.Propose(dir, source, train)
	}
	got, src := c.dir.Expected()
	slog.Info("expected direction", "direction", got, "source", src, "locked", c.dir.Locked())
}

// reset forgets guard and quality memory. The expected direction survives;
// only clearRun drops it. The reference falls back to the schedule.
func (c *core) reset(ctx context.Context) {
	c.loc.Reset()
	c.switched = false
	c.guard.Reset()
	c.quality.Reset()
	c.throttle.Reset()
	c.dir.ResetWindow()
	c.hasFix = false
	c.lastFixAt = time.Time{}
	c.projected = false
	c.onTrack = false
	c.pk, c.hasPK = 0, false
	c.setSource(ctx, c.now, quality.Schedule)
	c.now = time.Time{}
	c.stats = Stats{}
}

func (c *core) clearRun() {
	c.dir.ClearRun()
	slog.Info("run cleared")
}

func (c *core) snapshot() Stats {
	s := c.stats
	s.State = c.quality.State()
	s.Source = c.source
	s.Guarding = c.guard.Active()
	s.Direction, _ = c.dir.Expected()
	if c.hasPK {
		v := c.pk
		s.PK = &v
	}
	if ref := c.loc.Active(); ref >= 0 && c.proj.Ready() {
		s.Reference = c.proj.Model().ReferenceName(ref)
	}
	return s
}
