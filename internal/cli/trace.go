package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/harness"
	"github.com/roach88/railpos/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Against  string
	Kind     string // optional - only show events of this kind in the timeline
}

// TraceResult holds the fingerprint of an event log and, optionally, its
// comparison with another.
type TraceResult struct {
	Source      string         `json:"source"`
	Events      int            `json:"events"`
	Counts      map[string]int `json:"counts"`
	Fingerprint string         `json:"fingerprint"`
	Timeline    []string       `json:"timeline,omitempty"`

	Against            string `json:"against,omitempty"`
	AgainstFingerprint string `json:"against_fingerprint,omitempty"`
	DivergeAt          *int   `json:"diverge_at,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [events.ndjson]",
		Short: "Fingerprint and show a published event log",
		Long: `Compute the trace fingerprint of a published event log, read either from
an NDJSON file written by --events or from a run stored with --db.

The fingerprint covers event order, kinds and payloads, not times, so two
replays of the same session have the same fingerprint whatever their pace.
With --against the log is compared with a second NDJSON file and the first
diverging event is reported.

Exit codes:
  0 - Fingerprint computed (and equal to --against, if given)
  1 - The logs differ
  2 - Command error (unreadable file, unknown run, etc.)

Examples:
  railpos trace events.ndjson
  railpos trace --db runs.db --run 0190a6c2-...
  railpos trace events.ndjson --against baseline.ndjson
  railpos trace events.ndjson --kind direction_mismatch -v`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "read the log of a stored run from this database")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to read with --db")
	cmd.Flags().StringVar(&opts.Against, "against", "", "compare with this NDJSON event log")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only show events of this kind in the timeline")

	return cmd
}

func runTrace(opts *TraceOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	var (
		evs    []events.Event
		source string
		err    error
	)
	switch {
	case len(args) == 1 && opts.Database == "":
		source = args[0]
		evs, err = readEventFile(source)
	case len(args) == 0 && opts.Database != "" && opts.RunID != "":
		source = "run " + opts.RunID
		evs, err = readStoredEvents(cmd, opts.Database, opts.RunID)
	default:
		return NewExitError(ExitCommandError, "give either an event log file or --db with --run")
	}
	if err != nil {
		return err
	}

	fp, err := trace.Fingerprint(evs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fingerprint events", err)
	}

	result := TraceResult{
		Source:      source,
		Events:      len(evs),
		Counts:      map[string]int{},
		Fingerprint: fp,
	}
	for _, ev := range evs {
		result.Counts[string(ev.Kind)]++
	}
	if opts.Verbose || opts.Kind != "" {
		result.Timeline = timeline(evs, events.Kind(opts.Kind))
	}

	if opts.Against != "" {
		other, err := readEventFile(opts.Against)
		if err != nil {
			return err
		}
		result.Against = opts.Against
		if result.AgainstFingerprint, err = trace.Fingerprint(other); err != nil {
			return WrapExitError(ExitCommandError, "failed to fingerprint events", err)
		}
		if result.AgainstFingerprint != fp {
			at, err := trace.Diverge(evs, other)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to compare events", err)
			}
			result.DivergeAt = &at
		}
	}

	if opts.Format == "json" {
		if result.DivergeAt != nil {
			return out.Failed("E_TRACE_DIFFERS", "event logs differ", result)
		}
		return out.JSON(CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Trace: %s\n", result.Source)
	fmt.Fprintf(w, "  Events: %d\n", result.Events)
	kinds := make([]string, 0, len(result.Counts))
	for k := range result.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "    %s: %d\n", k, result.Counts[k])
	}
	fmt.Fprintf(w, "  Fingerprint: %s\n", result.Fingerprint)
	if len(result.Timeline) > 0 {
		fmt.Fprintln(w, "\nTimeline:")
		for _, line := range result.Timeline {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	if result.Against == "" {
		return nil
	}
	fmt.Fprintf(w, "  Against: %s (%s)\n", result.Against, result.AgainstFingerprint)
	if result.DivergeAt == nil {
		fmt.Fprintln(w, "✓ Event logs match")
		return nil
	}
	fmt.Fprintf(w, "✗ Event logs differ from event %d\n", *result.DivergeAt)
	return NewExitError(ExitFailure, "event logs differ")
}

func readEventFile(path string) ([]events.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open event log", err)
	}
	defer f.Close()
	evs, err := events.ReadNDJSON(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", path), err)
	}
	return evs, nil
}

func readStoredEvents(cmd *cobra.Command, dbPath, runID string) ([]events.Event, error) {
	st, err := openExistingStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if _, err := st.ReadRun(cmd.Context(), runID); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", runID), err)
	}
	evs, err := st.RunEvents(cmd.Context(), runID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read run events", err)
	}
	return evs, nil
}

// timeline renders events relative to the first one, optionally keeping a
// single kind.
func timeline(evs []events.Event, kind events.Kind) []string {
	if len(evs) == 0 {
		return nil
	}
	start := evs[0].Time.UnixMilli()
	var lines []string
	for _, ev := range evs {
		if kind != "" && ev.Kind != kind {
			continue
		}
		lines = append(lines, harness.TraceLine(ev, start))
	}
	return lines
}
