package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/replay"
	"github.com/roach88/railpos/internal/trace"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Rail      string
	Direction string
	Train     string

	// Opener allows overriding how sources are fetched (for testing).
	Opener *replay.Opener
}

// VerifyResult reports whether two replays of a session agree.
type VerifyResult struct {
	URI           string `json:"uri"`
	Records       int    `json:"records"`
	Events        int    `json:"events"`
	First         string `json:"first_fingerprint"`
	Second        string `json:"second_fingerprint"`
	Deterministic bool   `json:"deterministic"`

	// DivergeAt is the index of the first differing event, or -1.
	DivergeAt int `json:"diverge_at"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <uri>",
		Short: "Replay a session twice and compare trace fingerprints",
		Long: `Replay a recorded session twice, each time through a fresh pipeline on a
virtual clock, and compare the fingerprints of the two event traces.

The same input must always produce the same published events. When the
fingerprints differ the index of the first diverging event is reported.

Exit codes:
  0 - Both replays produced the same trace
  1 - The traces differ
  2 - Command error (unreadable source, bad rail model, etc.)

Examples:
  railpos verify --rail line.yaml session.ndjson
  railpos verify --rail line.yaml --train 4321 --format json session.ndjson.gz`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rail, "rail", "", "rail model file (overrides rail.path)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "expected direction: up or down")
	cmd.Flags().StringVar(&opts.Train, "train", "", "train number; its parity sets the direction when --direction is not given")

	return cmd
}

func runVerify(opts *VerifyOptions, uri string, cmd *cobra.Command) error {
	ctx := cmd.Context()
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
	recs, _, err := opener.Load(ctx, uri)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load replay source", err)
	}

	req := replayRequest{
		URI:       uri,
		Records:   recs,
		Direction: dir,
		Train:     opts.Train,
		Instant:   true,
	}

	var fps [2]string
	var traces [2]replayOutcome
	for i := range traces {
		res, err := runReplay(ctx, cfg, model, req)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("replay %d failed", i+1), err)
		}
		if fps[i], err = trace.Fingerprint(res.Events); err != nil {
			return fmt.Errorf("fingerprint: %w", err)
		}
		traces[i] = res
		out.VerboseLog("replay %d: %d events, fingerprint %s", i+1, len(res.Events), fps[i])
	}

	result := VerifyResult{
		URI:           uri,
		Records:       len(recs),
		Events:        len(traces[0].Events),
		First:         fps[0],
		Second:        fps[1],
		Deterministic: fps[0] == fps[1],
		DivergeAt:     -1,
	}
	if !result.Deterministic {
		if result.DivergeAt, err = trace.Diverge(traces[0].Events, traces[1].Events); err != nil {
			return fmt.Errorf("diverge: %w", err)
		}
	}

	if opts.Format == "json" {
		if !result.Deterministic {
			return out.Failed("E_DETERMINISM", "determinism verification failed", result)
		}
		return out.JSON(CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Verify: %s\n", uri)
	fmt.Fprintf(w, "  Records: %d\n", result.Records)
	fmt.Fprintf(w, "  Events: %d\n", result.Events)
	fmt.Fprintf(w, "  Fingerprint: %s\n", result.First)
	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}
	fmt.Fprintf(w, "  Second fingerprint: %s\n", result.Second)
	fmt.Fprintf(w, "  First divergence at event %d\n", result.DivergeAt)
	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
