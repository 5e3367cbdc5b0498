package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/quality"
	"github.com/roach88/railpos/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database   string
	RunID      string
	Unfinished bool
	Delete     bool
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List and inspect persisted runs",
		Long: `List the runs stored in a run database, most recent first, or inspect
one run with --id.

--unfinished lists the runs that were started but never finished, for
example because the process was killed during a replay. --delete removes
the run given with --id together with its events.

Examples:
  railpos runs --db runs.db
  railpos runs --db runs.db --unfinished
  railpos runs --db runs.db --id 0190a6c2-... --format json
  railpos runs --db runs.db --id 0190a6c2-... --delete`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "run database (overrides store.path)")
	cmd.Flags().StringVar(&opts.RunID, "id", "", "show one run")
	cmd.Flags().BoolVar(&opts.Unfinished, "unfinished", false, "only list runs that never finished")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the run given with --id")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	path := cfg.Store.Path
	if opts.Database != "" {
		path = opts.Database
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no database: set --db or store.path in the config")
	}
	st, err := openExistingStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if opts.Delete {
		if opts.RunID == "" {
			return NewExitError(ExitCommandError, "--delete requires --id")
		}
		err := st.DeleteRun(ctx, opts.RunID)
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitFailure, fmt.Sprintf("run %s not found", opts.RunID))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to delete run", err)
		}
		if opts.Format == "json" {
			return out.JSON(CLIResponse{Status: "ok", RunID: opts.RunID})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", opts.RunID)
		return nil
	}

	if opts.RunID != "" {
		state, err := st.GetRunState(ctx, opts.RunID)
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitFailure, fmt.Sprintf("run %s not found", opts.RunID))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		if opts.Format == "json" {
			return out.JSON(CLIResponse{Status: "ok", Data: state, RunID: opts.RunID})
		}
		printRunState(cmd.OutOrStdout(), state)
		return nil
	}

	var runs []store.Run
	if opts.Unfinished {
		runs, err = st.FindUnfinishedRuns(ctx)
	} else {
		runs, err = st.ListRuns(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		return out.JSON(CLIResponse{Status: "ok", Data: runs})
	}
	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return nil
	}
	for _, r := range runs {
		status := "unfinished"
		switch {
		case r.FinishedAt == nil:
		case r.Cancelled:
			status = "cancelled"
		case r.Error != "":
			status = "failed"
		default:
			status = "done"
		}
		fmt.Fprintf(w, "%s  %-6s  %-10s  %s  in=%d out=%d  %s\n",
			r.ID, r.Mode, status, r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			r.PointsIn, r.PointsOut, r.Source)
	}
	return nil
}

func printRunState(w io.Writer, s store.RunState) {
	r := s.Run
	fmt.Fprintf(w, "Run: %s\n", r.ID)
	fmt.Fprintf(w, "  Mode: %s\n", r.Mode)
	fmt.Fprintf(w, "  Source: %s\n", r.Source)
	if r.Train != "" {
		fmt.Fprintf(w, "  Train: %s\n", r.Train)
	}
	fmt.Fprintf(w, "  Direction: %s\n", r.Direction)
	fmt.Fprintf(w, "  Started: %s\n", r.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	if r.FinishedAt != nil {
		fmt.Fprintf(w, "  Finished: %s\n", r.FinishedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	fmt.Fprintf(w, "  Points: in=%d out=%d dropped=%d\n", r.PointsIn, r.PointsOut, r.Dropped)
	if r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", r.Error)
	}
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	fmt.Fprintf(w, "  Events: %d (last seq %d)\n", total, s.LastSeq)
	for _, st := range []quality.State{quality.Trusted, quality.Degraded, quality.NoFix} {
		if n := s.States[st]; n > 0 {
			fmt.Fprintf(w, "    %s: %d\n", st, n)
		}
	}
	if s.LastState != nil {
		fmt.Fprintf(w, "  Last state: %s\n", s.LastState.State)
	}
	fmt.Fprintf(w, "  Complete: %t\n", s.IsComplete)
	if r.Fingerprint != "" {
		fmt.Fprintf(w, "  Fingerprint: %s\n", r.Fingerprint)
	}
}
