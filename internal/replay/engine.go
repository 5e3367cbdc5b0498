package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/roach88/railpos/internal/clock"
	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
)

// Pipeline is what the engine drives. *pipeline.Pipeline implements it.
type Pipeline interface {
	BeginReplay(ctx context.Context, dir direction.Direction, trainID string) error
	SubmitFix(ctx context.Context, f events.Fix) error
	Tick(ctx context.Context, at time.Time) error
	ReplayProgress(ctx context.Context, at time.Time, fraction float64) error
	SeekReplay(ctx context.Context, to time.Time) error
	EndReplay(ctx context.Context, at time.Time, done events.ReplayDone) (events.ReplayDone, error)
}

// Config tunes replay pacing.
type Config struct {
	// Speed is the default speed multiplier.
	Speed float64 `yaml:"speed" validate:"gt=0"`

	// TickInterval is the virtual watchdog period.
	TickInterval time.Duration `yaml:"tick_interval" validate:"gt=0"`

	// ProgressStep is the smallest progress increment worth publishing.
	ProgressStep float64 `yaml:"progress_step" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the standard pacing.
func DefaultConfig() Config {
	return Config{Speed: 1, TickInterval: time.Second, ProgressStep: 0.01}
}

// Session is one replay request.
type Session struct {
	Records []Record

	// Speed multiplies playback speed; zero means the configured default.
	Speed float64

	// Direction and Train lock the expected direction for the whole run.
	// The direction is never inferred from the wall clock.
	Direction direction.Direction
	Train     string

	// URI is only used in logs and errors.
	URI string

	// Control, when set, lets the caller pause, seek and change speed
	// while Run is in progress.
	Control *Control
}

// Engine runs sessions through a pipeline.
type Engine struct {
	cfg   Config
	pipe  Pipeline
	clock clock.Clock
}

// NewEngine creates an engine. A nil clock means the wall clock.
func NewEngine(cfg Config, pipe Pipeline, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Wall{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = 0.01
	}
	return &Engine{cfg: cfg, pipe: pipe, clock: clk}
}

// Run replays s and blocks until it completes or ctx is cancelled.
//
// The pipeline is reset before the first record and again after the
// summary, on success and on cancellation alike. Cancellation takes effect
// between two records and returns ctx.Err() with a summary marked
// Cancelled.
func (e *Engine) Run(ctx context.Context, s Session) (events.ReplayDone, error) {
	if s.Control != nil {
		defer s.Control.finish()
	}
	if len(s.Records) == 0 {
		return events.ReplayDone{}, &SourceError{Code: ErrCodeEmpty, URI: s.URI}
	}
	speed := s.Speed
	if speed == 0 {
		speed = e.cfg.Speed
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return events.ReplayDone{}, &SourceError{
			Code: ErrCodeInvalidSpeed,
			URI:  s.URI,
			Err:  fmt.Errorf("speed %v must be a positive finite number", speed),
		}
	}

	if err := e.pipe.BeginReplay(ctx, s.Direction, s.Train); err != nil {
		return events.ReplayDone{}, fmt.Errorf("begin replay: %w", err)
	}

	wallStart := e.clock.Now()
	first := s.Records[0].Timestamp
	n := len(s.Records)
	span := s.Records[n-1].Timestamp.Sub(first)

	slog.Info("replay starting",
		"uri", s.URI,
		"records", n,
		"speed", speed,
		"span", span,
		"direction", s.Direction,
	)

	pl := newPlayer(s.Control, speed, span)

	var (
		done     events.ReplayDone
		runErr   error
		seek     bool
		prev     = wallStart
		nextTick = wallStart.Add(e.cfg.TickInterval)
		lastFrac float64
	)

loop:
	for i := 0; i < n; {
		rec := s.Records[i]
		sim := wallStart.Add(rec.Timestamp.Sub(first))

		for nextTick.Before(sim) {
			if seek, runErr = e.wait(ctx, pl, nextTick.Sub(prev)); runErr != nil {
				break loop
			}
			if seek {
				break
			}
			if runErr = e.pipe.Tick(ctx, nextTick); runErr != nil {
				break loop
			}
			prev = nextTick
			nextTick = nextTick.Add(e.cfg.TickInterval)
		}
		if !seek {
			if seek, runErr = e.wait(ctx, pl, sim.Sub(prev)); runErr != nil {
				break
			}
		}
		if seek {
			seek = false
			i = sort.Search(n, func(j int) bool {
				return s.Records[j].Timestamp.Sub(first) >= pl.seekTo
			})
			prev = wallStart.Add(pl.seekTo)
			nextTick = prev.Add(e.cfg.TickInterval)
			lastFrac = float64(i) / float64(n)
			if runErr = e.pipe.SeekReplay(ctx, prev); runErr != nil {
				break
			}
			slog.Info("replay seek", "uri", s.URI, "offset", pl.seekTo, "index", i)
			continue
		}
		prev = sim

		err := e.pipe.SubmitFix(ctx, rec.Fix(sim))
		switch {
		case err == nil:
			done.PointsIn++
		case pipeline.IsInvalidFixError(err):
			done.Dropped++
			slog.Warn("replay fix dropped", "index", i, "error", err)
		default:
			runErr = err
			break loop
		}

		frac := float64(i+1) / float64(n)
		if frac-lastFrac >= e.cfg.ProgressStep || i == n-1 {
			lastFrac = frac
			if runErr = e.pipe.ReplayProgress(ctx, sim, frac); runErr != nil {
				break
			}
		}
		i++
	}

	if runErr != nil {
		done.Cancelled = errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)
		done.Error = runErr.Error()
	}

	// The summary and the reset must happen even when ctx is done.
	final, err := e.pipe.EndReplay(context.WithoutCancel(ctx), prev, done)
	if err != nil {
		return done, errors.Join(runErr, fmt.Errorf("end replay: %w", err))
	}

	slog.Info("replay finished",
		"uri", s.URI,
		"points_in", final.PointsIn,
		"points_out", final.PointsOut,
		"dropped", final.Dropped,
		"cancelled", final.Cancelled,
	)
	return final, runErr
}

// wait blocks for d of recording time, paced by the player's speed.
// It reports true when a seek interrupted it. Queued commands are applied
// before the clock is consulted; non-positive waits only check them and ctx.
func (e *Engine) wait(ctx context.Context, pl *player, d time.Duration) (bool, error) {
	remaining := d
	for {
		for drained := false; !drained; {
			select {
			case cmd := <-pl.cmds:
				if pl.apply(cmd) {
					return true, nil
				}
			default:
				drained = true
			}
		}

		if pl.paused {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case cmd := <-pl.cmds:
				if pl.apply(cmd) {
					return true, nil
				}
			}
			continue
		}
		if remaining <= 0 {
			return false, ctx.Err()
		}

		speed := pl.speed
		start := e.clock.Now()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-e.clock.After(time.Duration(float64(remaining) / speed)):
			return false, nil
		case cmd := <-pl.cmds:
			remaining -= time.Duration(float64(e.clock.Now().Sub(start)) * speed)
			if pl.apply(cmd) {
				return true, nil
			}
		}
	}
}
