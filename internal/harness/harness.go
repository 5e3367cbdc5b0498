package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/railpos/internal/clock"
	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
	"github.com/roach88/railpos/internal/projection"
	"github.com/roach88/railpos/internal/trace"
)

// Start is the virtual instant at_ms 0 maps to.
var Start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const defaultTickEvery = time.Second

// Option configures a scenario execution.
type Option func(*runner)

// WithConfig replaces the default pipeline configuration.
func WithConfig(cfg pipeline.Config) Option {
	return func(r *runner) { r.cfg = cfg }
}

type runner struct {
	cfg pipeline.Config
}

// Run executes a scenario against a fresh pipeline on a virtual clock and
// evaluates its assertions.
//
// An error is returned when the scenario cannot be executed at all (bad
// rail model, rejected input, cancelled context). Assertion failures are
// reported in Result.Errors with Result.Pass set to false.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	if s.model == nil {
		return nil, fmt.Errorf("scenario %s: no rail model loaded", s.Name)
	}
	if err := validateScenario(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	r := &runner{cfg: pipeline.DefaultConfig()}
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vc := clock.NewVirtual(Start)
	rec := &events.Recorder{}
	p := pipeline.New(r.cfg, projection.New(s.model), rec, pipeline.WithClock(vc))

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()
	defer func() {
		cancel()
		<-runErr
	}()

	if err := setDirection(ctx, p, s); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	for i, step := range s.Steps {
		if err := r.step(ctx, p, vc, s, step); err != nil {
			return nil, fmt.Errorf("scenario %s: step %d: %w", s.Name, i, err)
		}
	}

	// Stats is a barrier: every queued step has been handled once it returns.
	if _, err := p.Stats(ctx); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	result := NewResult()
	result.startMS = Start.UnixMilli()
	result.Trace = rec.Events()

	fp, err := trace.Fingerprint(result.Trace)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: fingerprint: %w", s.Name, err)
	}
	result.Fingerprint = fp

	c := &checker{trace: result.Trace, start: Start, lines: result.Lines()}
	for _, a := range s.Assertions {
		if err := c.check(a); err != nil {
			var ae *AssertionError
			if errors.As(err, &ae) {
				result.AddError(ae.Error())
				continue
			}
			return nil, err
		}
	}
	return result, nil
}

func setDirection(ctx context.Context, p *pipeline.Pipeline, s *Scenario) error {
	switch {
	case s.Direction != "":
		dir, err := direction.Parse(s.Direction)
		if err != nil {
			return err
		}
		return p.SetExpectedDirection(ctx, dir, direction.SourceManual, s.Train)
	case s.Train != "":
		return p.SetExpectedDirection(ctx, direction.Unknown, direction.SourceTrain, s.Train)
	}
	return nil
}

func (r *runner) step(ctx context.Context, p *pipeline.Pipeline, vc *clock.Virtual, s *Scenario, step Step) error {
	at := Start.Add(time.Duration(step.AtMS) * time.Millisecond)
	vc.After(at.Sub(vc.Now()))

	switch {
	case step.Fix != nil:
		lat, lon := step.Fix.coords(s.model)
		return p.SubmitFix(ctx, events.Fix{
			Lat:       lat,
			Lon:       lon,
			Accuracy:  step.Fix.Accuracy,
			OnTrack:   step.Fix.OnTrack,
			Timestamp: at,
		})

	case step.Tick:
		return p.Tick(ctx, at)

	case step.Ticks != nil:
		every := time.Duration(step.Ticks.EveryMS) * time.Millisecond
		if every <= 0 {
			every = defaultTickEvery
		}
		until := Start.Add(time.Duration(step.Ticks.UntilMS) * time.Millisecond)
		for t := at; !t.After(until); t = t.Add(every) {
			vc.After(t.Sub(vc.Now()))
			if err := p.Tick(ctx, t); err != nil {
				return err
			}
		}
		return nil

	case step.ClearRun:
		return p.ClearRun(ctx)
	}
	return fmt.Errorf("empty step")
}
