package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/railpos/internal/clock"
	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
	"github.com/roach88/railpos/internal/replay"
	"github.com/roach88/railpos/internal/store"
	"github.com/roach88/railpos/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Rail      string
	Input     string
	Direction string
	Train     string
	Database  string
	Events    string
	Record    string
	Quiet     bool

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7RunIDs.
	RunIDs pipeline.RunIDGenerator

	// Clock allows overriding the pipeline clock (for testing).
	// If nil, defaults to the wall clock.
	Clock clock.Clock
}

// LiveSummary is reported when the fix feed ends.
type LiveSummary struct {
	RunID       string         `json:"run_id,omitempty"`
	Lines       int            `json:"lines"`
	Fixes       int            `json:"fixes"`
	Dropped     int            `json:"dropped"`
	Skipped     int            `json:"skipped"`
	Rejected    int            `json:"rejected"`
	Stats       pipeline.Stats `json:"pipeline"`
	Fingerprint string         `json:"fingerprint,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline on a live fix feed",
		Long: `Run the position pipeline on a live feed of fixes, one JSON record per
line, read from stdin or --input. Every published event is written to stdout
as NDJSON; the wall-clock watchdog keeps re-evaluating between fixes so a
silent receiver is visible.

The feed ends at EOF or on Ctrl-C. A summary is written to stderr.

Example:
  gpsd-bridge | railpos run --rail line.yaml --train 4321
  railpos run --rail line.yaml --input fixes.ndjson --db runs.db --record session.ndjson`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rail, "rail", "", "rail model file (overrides rail.path)")
	cmd.Flags().StringVar(&opts.Input, "input", "", "read fixes from this file instead of stdin")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "expected direction: up or down")
	cmd.Flags().StringVar(&opts.Train, "train", "", "train number; its parity sets the direction when --direction is not given")
	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the run to this SQLite database")
	cmd.Flags().StringVar(&opts.Events, "events", "", "also write published events to this NDJSON file")
	cmd.Flags().StringVar(&opts.Record, "record", "", "record accepted fixes to this file for later replay")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "do not write events to stdout")

	return cmd
}

// feedCounts counts what the reader saw before the pipeline.
type feedCounts struct {
	lines, fixes, dropped, skipped, rejected int
}

func runLive(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	model, err := loadModel(cfg, opts.Rail, false)
	if err != nil {
		return err
	}
	manual, err := direction.Parse(opts.Direction)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	var in io.Reader = cmd.InOrStdin()
	source := "stdin"
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in, source = f, opts.Input
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Wall{}
	}

	rec := &events.Recorder{}
	var sinks []events.Sink
	if !opts.Quiet {
		sinks = append(sinks, events.NewNDJSONSink(cmd.OutOrStdout()))
	}
	if log := eventLog(cfg, opts.Events); log != nil {
		defer log.Close()
		sinks = append(sinks, log)
	}

	st, err := openStore(cfg, opts.Database)
	if err != nil {
		return err
	}
	var runID string
	if st != nil {
		defer st.Close()
		ids := opts.RunIDs
		if ids == nil {
			ids = pipeline.UUIDv7RunIDs{}
		}
		runID = ids.Generate()
		if err := st.BeginRun(cmd.Context(), store.Run{
			ID:        runID,
			Mode:      store.ModeLive,
			Source:    source,
			Train:     opts.Train,
			Direction: manual.String(),
			StartedAt: clk.Now(),
		}); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		sinks = append(sinks, rec, st.Sink(runID))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The pipeline outlives the signal context so the feed can still be
	// summarised after Ctrl-C.
	pctx, pcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pcancel()

	p := pipeline.New(cfg.Pipeline, cfg.ProjectionEngine(model), events.Multi(sinks...), pipeline.WithClock(clk))

	var (
		counts      feedCounts
		stats       pipeline.Stats
		recorded    []replay.Record
		interrupted bool
	)

	lines := readLines(ctx, in)

	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		err := p.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		// Stop the pipeline once the feed is drained or interrupted.
		defer pcancel()

		var err error
		switch {
		case manual != direction.Unknown:
			err = p.SetExpectedDirection(gctx, manual, direction.SourceManual, opts.Train)
		case opts.Train != "":
			err = p.SetExpectedDirection(gctx, direction.Unknown, direction.SourceTrain, opts.Train)
		}
		if err != nil {
			return err
		}

	feed:
		for {
			var line feedLine
			select {
			case <-ctx.Done():
				interrupted = true
				break feed
			case <-gctx.Done():
				return gctx.Err()
			case l, ok := <-lines:
				if !ok {
					break feed
				}
				line = l
			}
			if line.err != nil {
				return fmt.Errorf("read fixes: %w", line.err)
			}

			counts.lines++
			r, ok, err := replay.ParseLine(line.data)
			switch {
			case err != nil:
				counts.dropped++
				slog.Warn("fix line dropped", "line", counts.lines, "error", err)
				continue
			case !ok:
				counts.skipped++
				continue
			}

			if err := p.SubmitFix(gctx, r.Fix(r.Timestamp)); err != nil {
				if pipeline.IsInvalidFixError(err) {
					counts.rejected++
					continue
				}
				return err
			}
			counts.fixes++
			if opts.Record != "" {
				recorded = append(recorded, r)
			}
		}

		s, err := p.Stats(gctx)
		if err != nil {
			return err
		}
		stats = s
		return nil
	})

	if runErr := g.Wait(); runErr != nil {
		if pe := (*pipeline.Error)(nil); errors.As(runErr, &pe) && pe.Code == pipeline.ErrCodeInvalidDirection {
			return WrapExitError(ExitCommandError, "invalid direction", runErr)
		}
		return WrapExitError(ExitFailure, "live run failed", runErr)
	}
	if interrupted {
		slog.Info("live run interrupted")
	}

	if opts.Record != "" {
		if err := writeRecording(opts.Record, recorded); err != nil {
			return WrapExitError(ExitFailure, "failed to write recording", err)
		}
	}

	summary := LiveSummary{
		RunID:    runID,
		Lines:    counts.lines,
		Fixes:    counts.fixes,
		Dropped:  counts.dropped,
		Skipped:  counts.skipped,
		Rejected: counts.rejected,
		Stats:    stats,
	}

	if st != nil {
		fp, err := trace.Fingerprint(rec.Events())
		if err != nil {
			return fmt.Errorf("fingerprint: %w", err)
		}
		summary.Fingerprint = fp
		done := events.ReplayDone{
			PointsIn:  stats.FixesIn,
			PointsOut: stats.Published,
			Dropped:   counts.dropped + counts.rejected + stats.Dropped,
			Cancelled: interrupted,
		}
		if err := st.FinishRun(context.WithoutCancel(ctx), runID, clk.Now(), done, fp); err != nil {
			slog.Error("failed to finish run", "run_id", runID, "error", err)
		}
	}

	out := newFormatter(cmd, opts.RootOptions)
	out.Writer = cmd.ErrOrStderr()
	if opts.Format == "json" {
		return out.JSON(CLIResponse{Status: "ok", Data: summary, RunID: runID})
	}
	w := out.Writer
	fmt.Fprintf(w, "Live run from %s\n", source)
	if runID != "" {
		fmt.Fprintf(w, "  Run: %s\n", runID)
	}
	fmt.Fprintf(w, "  Lines: %d (%d fixes, %d dropped, %d skipped, %d rejected)\n",
		counts.lines, counts.fixes, counts.dropped, counts.skipped, counts.rejected)
	fmt.Fprintf(w, "  Published: %d position states, %d events\n", stats.Published, stats.Events)
	fmt.Fprintf(w, "  Final state: %s (%s)\n", stats.State, stats.Source)
	return nil
}

// feedLine is one line of the fix feed, or the error that ended it.
type feedLine struct {
	data []byte
	err  error
}

// readLines scans in on its own goroutine. A feed that never writes leaves
// the scanner blocked in Read, so when ctx ends in is closed if it can be.
func readLines(ctx context.Context, in io.Reader) <-chan feedLine {
	ch := make(chan feedLine)
	unclose := func() bool { return false }
	if c, ok := in.(io.Closer); ok {
		unclose = context.AfterFunc(ctx, func() { c.Close() })
	}

	go func() {
		defer close(ch)
		defer unclose()
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			select {
			case ch <- feedLine{data: bytes.Clone(sc.Bytes())}:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- feedLine{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}

func writeRecording(path string, recs []replay.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := replay.WriteRecords(f, recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
