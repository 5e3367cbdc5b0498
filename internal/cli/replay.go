package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
	"github.com/roach88/railpos/internal/replay"
	"github.com/roach88/railpos/internal/store"
	"github.com/roach88/railpos/internal/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Rail      string
	Speed     float64
	Direction string
	Train     string
	Database  string
	Events    string
	Instant   bool
	Control   bool

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7RunIDs.
	RunIDs pipeline.RunIDGenerator

	// Opener allows overriding how sources are fetched (for testing).
	Opener *replay.Opener
}

// ReplaySummary is the outcome of one replay.
type ReplaySummary struct {
	RunID       string       `json:"run_id,omitempty"`
	URI         string       `json:"uri"`
	Parse       replay.Stats `json:"parse"`
	PointsIn    int          `json:"points_in"`
	PointsOut   int          `json:"points_out"`
	Dropped     int          `json:"dropped"`
	Events      int          `json:"events"`
	Cancelled   bool         `json:"cancelled,omitempty"`
	Error       string       `json:"error,omitempty"`
	Fingerprint string       `json:"fingerprint"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <uri>",
		Short: "Replay a recorded session through the pipeline",
		Long: `Replay a recorded fix session through a fresh pipeline at the recorded
pace, scaled by --speed.

The source may be a local file, a file://, http(s):// or s3://bucket/key
URI. Gzip and zstd content is decompressed transparently. Records are
either flat fixes or session-log envelopes of kind gps:position.

With --instant the replay runs on a virtual clock and finishes at once;
the published events are identical to a paced replay.

With --control, lines read from stdin steer the replay while it runs:
  pause            hold playback
  resume           continue playback
  seek <offset>    jump to an offset from the first record (90, 1m30s)
                   and pause there
  speed <x>        change the speed multiplier

Exit codes:
  0 - Replay completed
  1 - Replay cancelled or failed midway
  2 - Command error (unreadable source, bad rail model, etc.)

Examples:
  railpos replay --rail line.yaml session.ndjson
  railpos replay --rail line.yaml --speed 10 --train 4321 s3://logs/2025-06-01.ndjson.zst
  railpos replay --rail line.yaml --instant --db runs.db --events events.ndjson session.ndjson.gz`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReplayCommand(ctx, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rail, "rail", "", "rail model file (overrides rail.path)")
	cmd.Flags().Float64Var(&opts.Speed, "speed", 0, "playback speed multiplier (default from config)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "expected direction: up or down")
	cmd.Flags().StringVar(&opts.Train, "train", "", "train number; its parity sets the direction when --direction is not given")
	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the run to this SQLite database")
	cmd.Flags().StringVar(&opts.Events, "events", "", "also write published events to this NDJSON file")
	cmd.Flags().BoolVar(&opts.Instant, "instant", false, "replay on a virtual clock without waiting")
	cmd.Flags().BoolVar(&opts.Control, "control", false, "read pause, resume, seek and speed commands from stdin")

	return cmd
}

func runReplayCommand(ctx context.Context, opts *ReplayOptions, uri string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	model, err := loadModel(cfg, opts.Rail, false)
	if err != nil {
		return err
	}
	dir, err := resolveDirection(opts.Direction, opts.Train, cfg.Pipeline.Direction.OddIsUp)
	if err != nil {
		return err
	}

	opener := opts.Opener
	if opener == nil {
		opener = &replay.Opener{}
	}
	recs, stats, err := opener.Load(ctx, uri)
	if err != nil {
		out.VerboseLog("parse stats: %+v", stats)
		return WrapExitError(ExitCommandError, "failed to load replay source", err)
	}
	out.VerboseLog("loaded %d records from %s (%d dropped, %d skipped)", stats.Records, uri, stats.Dropped, stats.Skipped)

	var sinks []events.Sink
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
		speed := opts.Speed
		if speed == 0 {
			speed = cfg.Replay.Speed
		}
		if err := st.BeginRun(ctx, store.Run{
			ID:        runID,
			Mode:      store.ModeReplay,
			Source:    uri,
			Train:     opts.Train,
			Direction: dir.String(),
			Speed:     speed,
			StartedAt: recs[0].Timestamp,
		}); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		sinks = append(sinks, st.Sink(runID))
	}

	req := replayRequest{
		URI:       uri,
		Records:   recs,
		Speed:     opts.Speed,
		Direction: dir,
		Train:     opts.Train,
		Instant:   opts.Instant,
	}
	if opts.Control {
		req.Control = replay.NewControl()
		sctx, stopSteering := context.WithCancel(ctx)
		defer stopSteering()
		go steerReplay(sctx, req.Control, cmd.InOrStdin())
	}
	res, runErr := runReplay(ctx, cfg, model, req, sinks...)
	if runErr != nil && replay.IsSourceError(runErr) {
		return WrapExitError(ExitCommandError, "replay rejected", runErr)
	}
	if runErr != nil && res.Events == nil {
		return WrapExitError(ExitFailure, "replay failed", runErr)
	}

	fp, err := trace.Fingerprint(res.Events)
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}

	if st != nil {
		// Record the outcome even when the replay was interrupted.
		if err := st.FinishRun(context.WithoutCancel(ctx), runID, res.End.Now(), res.Done, fp); err != nil {
			slog.Error("failed to finish run", "run_id", runID, "error", err)
		}
	}

	summary := ReplaySummary{
		RunID:       runID,
		URI:         uri,
		Parse:       stats,
		PointsIn:    res.Done.PointsIn,
		PointsOut:   res.Done.PointsOut,
		Dropped:     res.Done.Dropped,
		Events:      len(res.Events),
		Cancelled:   res.Done.Cancelled,
		Error:       res.Done.Error,
		Fingerprint: fp,
	}

	if runErr != nil {
		code := "E_REPLAY"
		if errors.Is(runErr, context.Canceled) {
			code = "E_CANCELLED"
		}
		if opts.Format != "json" {
			printReplaySummary(cmd, summary)
		}
		return out.Failed(code, fmt.Sprintf("replay interrupted: %v", runErr), summary)
	}

	if opts.Format == "json" {
		return out.JSON(CLIResponse{Status: "ok", Data: summary, RunID: runID})
	}
	printReplaySummary(cmd, summary)
	return nil
}

func printReplaySummary(cmd *cobra.Command, s ReplaySummary) {
	w := cmd.OutOrStdout()
	status := "✓"
	if s.Cancelled || s.Error != "" {
		status = "✗"
	}
	fmt.Fprintf(w, "%s Replay: %s\n", status, s.URI)
	if s.RunID != "" {
		fmt.Fprintf(w, "  Run: %s\n", s.RunID)
	}
	fmt.Fprintf(w, "  Records: %d (%d lines, %d dropped, %d skipped)\n", s.Parse.Records, s.Parse.Lines, s.Parse.Dropped, s.Parse.Skipped)
	fmt.Fprintf(w, "  Points: %d in, %d out, %d dropped\n", s.PointsIn, s.PointsOut, s.Dropped)
	fmt.Fprintf(w, "  Events: %d\n", s.Events)
	if s.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", s.Error)
	}
	fmt.Fprintf(w, "  Fingerprint: %s\n", s.Fingerprint)
}
