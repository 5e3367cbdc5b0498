package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/railpos/internal/clock"
	"github.com/roach88/railpos/internal/config"
	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
	"github.com/roach88/railpos/internal/replay"
	"github.com/roach88/railpos/internal/ribbon"
	"github.com/roach88/railpos/internal/store"
)

// loadModel loads the rail model named by flag, falling back to the
// configured path. required makes a missing path an error; otherwise the
// pipeline runs without a model and every fix is NoFix.
func loadModel(cfg config.Config, flag string, required bool) (*ribbon.Model, error) {
	if flag != "" {
		cfg.Rail.Path = flag
	}
	if cfg.Rail.Path == "" {
		if required {
			return nil, NewExitError(ExitCommandError, "no rail model: set --rail or rail.path in the config")
		}
		slog.Warn("no rail model configured, every fix will project as invalid")
		return nil, nil
	}
	m, err := cfg.LoadRail()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load rail model", err)
	}
	return m, nil
}

// openStore opens the run database named by flag or the config. It returns
// nil when neither names one.
func openStore(cfg config.Config, flag string) (*store.Store, error) {
	path := cfg.Store.Path
	if flag != "" {
		path = flag
	}
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// eventLog opens the rotating NDJSON event log named by flag or the config.
// It returns nil when neither names one.
func eventLog(cfg config.Config, flag string) *events.NDJSONSink {
	rf := cfg.Log.Events
	if flag != "" {
		rf.Path = flag
	}
	if rf.Path == "" {
		return nil
	}
	return events.NewRotatingNDJSONSink(rf)
}

// resolveDirection parses the --direction flag. Without one the direction
// comes from the parity of the train number, if it has one.
func resolveDirection(flag, train string, oddIsUp bool) (direction.Direction, error) {
	dir, err := direction.Parse(flag)
	if err != nil {
		return direction.Unknown, NewExitError(ExitCommandError, err.Error())
	}
	if dir == direction.Unknown && train != "" {
		dir, _ = direction.FromTrain(train, oddIsUp)
	}
	return dir, nil
}

// pipelineRun owns the goroutine of one pipeline.
type pipelineRun struct {
	*pipeline.Pipeline
	cancel context.CancelFunc
	done   chan error
}

// startPipeline starts a pipeline that keeps running when ctx is cancelled,
// so a replay can still publish its summary. Only Stop ends it.
func startPipeline(ctx context.Context, cfg config.Config, model *ribbon.Model, sink events.Sink, clk clock.Clock) *pipelineRun {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := pipeline.New(cfg.Pipeline, cfg.ProjectionEngine(model), sink, pipeline.WithClock(clk))
	r := &pipelineRun{Pipeline: p, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- p.Run(ctx) }()
	return r
}

// Stop cancels the pipeline and waits for its loop to return.
func (r *pipelineRun) Stop() error {
	r.cancel()
	err := <-r.done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// replayRequest is one replay as the replay and verify commands run it.
type replayRequest struct {
	URI       string
	Records   []replay.Record
	Speed     float64
	Direction direction.Direction
	Train     string

	// Instant replays on a virtual clock starting at the first record, so
	// nothing waits and event times equal the recorded times.
	Instant bool

	Control *replay.Control
}

// replayOutcome is what a replay produced.
type replayOutcome struct {
	Done   events.ReplayDone
	Events []events.Event
	End    clock.Clock
}

// runReplay replays req through a fresh pipeline. Every published event is
// recorded and also sent to sinks.
func runReplay(ctx context.Context, cfg config.Config, model *ribbon.Model, req replayRequest, sinks ...events.Sink) (replayOutcome, error) {
	if len(req.Records) == 0 {
		return replayOutcome{}, &replay.SourceError{Code: replay.ErrCodeEmpty, URI: req.URI}
	}

	var clk clock.Clock = clock.Wall{}
	if req.Instant {
		clk = clock.NewVirtual(req.Records[0].Timestamp)
	}

	rec := &events.Recorder{}
	run := startPipeline(ctx, cfg, model, events.Multi(append([]events.Sink{rec}, sinks...)...), clk)

	eng := replay.NewEngine(cfg.Replay, run, clk)
	done, runErr := eng.Run(ctx, replay.Session{
		Records:   req.Records,
		Speed:     req.Speed,
		Direction: req.Direction,
		Train:     req.Train,
		URI:       req.URI,
		Control:   req.Control,
	})

	if err := run.Stop(); err != nil {
		return replayOutcome{}, fmt.Errorf("pipeline: %w", err)
	}
	return replayOutcome{Done: done, Events: rec.Events(), End: clk}, runErr
}

// openExistingStore opens a run database for reading. Unlike openStore it
// refuses to create a missing file.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
