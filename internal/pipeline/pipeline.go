package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/railpos/internal/clock"
	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/projection"
)

type msgKind int

const (
	msgFix msgKind = iota + 1
	msgTick
	msgDirection
	msgClearRun
	msgReset
	msgStats
	msgReplayBegin
	msgReplayProgress
	msgReplaySeek
	msgReplayEnd
)

// message is the only way into the owner goroutine.
type message struct {
	kind msgKind

	fix events.Fix
	at  time.Time

	dir    direction.Direction
	source direction.Source
	train  string

	fraction float64
	done     events.ReplayDone

	reply chan result
}

type result struct {
	stats Stats
	done  events.ReplayDone
}

// Pipeline is the single-owner event loop around the live position state.
type Pipeline struct {
	cfg   Config
	clock clock.Clock
	seq   *clock.Seq

	in      chan message
	stopped chan struct{}

	// Owned by the Run goroutine.
	core     *core
	watchdog bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock driving the watchdog (default: wall clock).
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithSeq continues numbering from an existing sequence.
func WithSeq(s *clock.Seq) Option {
	return func(p *Pipeline) {
		p.seq = s
	}
}

// New creates a pipeline projecting onto proj and publishing to sink.
// A nil sink discards events.
func New(cfg Config, proj *projection.Engine, sink events.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		clock:    clock.Wall{},
		seq:      clock.NewSeq(),
		stopped:  make(chan struct{}),
		watchdog: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	p.in = make(chan message, size)
	p.core = newCore(cfg, proj, sink, p.seq)
	return p
}

// Run is the event loop. It blocks until ctx is cancelled.
//
// CRITICAL: Must be called from exactly ONE goroutine, and only once.
//
// ERROR HANDLING: nothing inside the loop is fatal. Malformed fixes are
// dropped and logged, sink failures are logged, and processing continues.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.stopped)

	period := p.cfg.Watchdog
	if period <= 0 {
		period = time.Second
	}
	ticker := p.clock.NewTicker(period)
	defer ticker.Stop()

	slog.Info("pipeline starting", "watchdog", period, "queue_size", cap(p.in))

	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline stopping: context cancelled")
			return ctx.Err()

		case m := <-p.in:
			p.handle(ctx, m)

		case <-ticker.C():
			if p.watchdog {
				p.core.tick(ctx, p.clock.Now())
			}
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, m message) {
	c := p.core
	var res result
	switch m.kind {
	case msgFix:
		c.fix(ctx, m.fix)

	case msgTick:
		c.tick(ctx, m.at)

	case msgDirection:
		c.setDirection(m.dir, m.source, m.train)

	case msgClearRun:
		c.clearRun()

	case msgReset:
		c.reset(ctx)

	case msgStats:
		// Snapshot only.

	case msgReplayBegin:
		c.reset(ctx)
		p.seq.Reset()
		p.watchdog = false
		c.setDirection(m.dir, direction.SourceReplay, m.train)
		slog.Info("replay started", "direction", m.dir, "train", m.train)

	case msgReplayProgress:
		c.publish(ctx, m.at, events.Event{
			Kind:     events.KindReplayProgress,
			Progress: &events.ReplayProgress{Fraction: m.fraction},
		})

	case msgReplaySeek:
		kept := c.stats
		c.now = m.at
		c.reset(ctx)
		c.stats = kept
		slog.Info("replay seek", "to", m.at)

	case msgReplayEnd:
		done := m.done
		done.PointsOut = c.stats.Published
		done.Dropped += c.stats.Dropped
		c.reset(ctx)
		c.publish(ctx, m.at, events.Event{Kind: events.KindReplayDone, Done: &done})
		res.done = done
		p.watchdog = true

	default:
		slog.Error("unknown pipeline message", "kind", m.kind)
	}

	if m.reply != nil {
		res.stats = c.snapshot()
		m.reply <- res
	}
}

// send delivers m, blocking while the queue is full.
func (p *Pipeline) send(ctx context.Context, m message) error {
	select {
	case <-p.stopped:
		return errStopped()
	default:
	}
	select {
	case p.in <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return errStopped()
	}
}

// call delivers m and waits until the owner goroutine has handled it.
func (p *Pipeline) call(ctx context.Context, m message) (result, error) {
	m.reply = make(chan result, 1)
	if err := p.send(ctx, m); err != nil {
		return result{}, err
	}
	select {
	case r := <-m.reply:
		return r, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-p.stopped:
		return result{}, errStopped()
	}
}

// SubmitFix queues a fix. Fixes with non-finite or out-of-range coordinates
// are rejected here and never reach the queue.
func (p *Pipeline) SubmitFix(ctx context.Context, f events.Fix) error {
	if !f.Finite() || !projection.InDomain(f.Lat, f.Lon) {
		slog.Warn("fix rejected", "lat", f.Lat, "lon", f.Lon)
		return newInvalidFixError(f.Lat, f.Lon)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = p.clock.Now()
	}
	return p.send(ctx, message{kind: msgFix, fix: f})
}

// Tick queues a re-evaluation at the given instant.
func (p *Pipeline) Tick(ctx context.Context, at time.Time) error {
	return p.send(ctx, message{kind: msgTick, at: at})
}

// SetExpectedDirection sets the expected travel direction. With
// direction.Unknown the direction is derived from trainID parity.
func (p *Pipeline) SetExpectedDirection(ctx context.Context, dir direction.Direction, source direction.Source, trainID string) error {
	if dir == direction.Unknown {
		if _, ok := direction.FromTrain(trainID, p.cfg.Direction.OddIsUp); !ok {
			return &Error{
				Code:    ErrCodeInvalidDirection,
				Message: "no direction and no trailing digits in train id",
				Details: map[string]string{"train": trainID},
			}
		}
	}
	return p.send(ctx, message{kind: msgDirection, dir: dir, source: source, train: trainID})
}

// ClearRun drops the expected direction lock.
func (p *Pipeline) ClearRun(ctx context.Context) error {
	return p.send(ctx, message{kind: msgClearRun})
}

// Reset forgets jump guard and quality memory.
func (p *Pipeline) Reset(ctx context.Context) error {
	_, err := p.call(ctx, message{kind: msgReset})
	return err
}

// Stats waits for every message queued before it and returns a snapshot.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	r, err := p.call(ctx, message{kind: msgStats})
	return r.stats, err
}

// BeginReplay resets the pipeline, restarts event numbering, suspends the
// wall watchdog and locks the expected direction from the caller.
func (p *Pipeline) BeginReplay(ctx context.Context, dir direction.Direction, trainID string) error {
	_, err := p.call(ctx, message{kind: msgReplayBegin, dir: dir, train: trainID})
	return err
}

// ReplayProgress publishes a progress fraction stamped with virtual time.
func (p *Pipeline) ReplayProgress(ctx context.Context, at time.Time, fraction float64) error {
	return p.send(ctx, message{kind: msgReplayProgress, at: at, fraction: fraction})
}

// SeekReplay forgets the tracking state before a replay jumps to another
// point of its recording. Counters and event numbering carry on, so the
// summary still covers the whole run.
func (p *Pipeline) SeekReplay(ctx context.Context, to time.Time) error {
	_, err := p.call(ctx, message{kind: msgReplaySeek, at: to})
	return err
}

// EndReplay resets the pipeline, publishes the replay summary and resumes
// the wall watchdog. PointsOut is filled in from the pipeline's own count.
func (p *Pipeline) EndReplay(ctx context.Context, at time.Time, done events.ReplayDone) (events.ReplayDone, error) {
	r, err := p.call(ctx, message{kind: msgReplayEnd, at: at, done: done})
	if err != nil {
		return done, err
	}
	return r.done, nil
}
