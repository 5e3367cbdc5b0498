package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name        string   `json:"name"`
	Pass        bool     `json:"pass"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario conformance tests",
		Long: `Run scenario files through the pipeline on a virtual clock and check
their assertions.

A scenario with a golden file next to it (golden/<name>.golden) must
also reproduce that trace exactly. --update rewrites the golden files
from the current traces.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  railpos test ./scenarios
  railpos test ./scenarios --filter "jump-*"
  railpos test ./scenarios --update
  railpos test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	if len(scenarioFiles) == 0 && opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	for _, f := range scenarioFiles {
		sr := runScenario(cmd, opts, f, harness.WithConfig(cfg.Pipeline))
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	return reportTests(cmd, opts, result)
}

// findScenarioFiles finds all YAML scenario files in a directory. Files
// under golden/ are skipped.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario file and reports the outcome.
// Text output is printed as it goes.
func runScenario(cmd *cobra.Command, opts *TestOptions, file string, hopts ...harness.Option) ScenarioResult {
	w := cmd.OutOrStdout()
	fail := func(name string, errs ...string) ScenarioResult {
		if opts.Format != "json" {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
			}
		}
		return ScenarioResult{Name: name, Errors: errs}
	}

	s, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}

	result, err := harness.Run(cmd.Context(), s, hopts...)
	if err != nil {
		return fail(s.Name, fmt.Sprintf("execution error: %v", err))
	}

	goldenPath := goldenFilePath(file)
	switch {
	case opts.Update:
		if err := writeGolden(goldenPath, result); err != nil {
			return fail(s.Name, fmt.Sprintf("golden update error: %v", err))
		}
	default:
		want, err := os.ReadFile(goldenPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fail(s.Name, fmt.Sprintf("golden read error: %v", err))
		}
		if err == nil && string(want) != result.String() {
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	}

	if !result.Pass {
		return fail(s.Name, result.Errors...)
	}
	if opts.Format != "json" {
		suffix := ""
		if opts.Update {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(w, "✓ %s%s\n", s.Name, suffix)
	}
	return ScenarioResult{Name: s.Name, Pass: true, Fingerprint: result.Fingerprint}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func writeGolden(path string, result *harness.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(result.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// reportTests writes the summary. Any failed scenario exits with
// ExitFailure.
func reportTests(cmd *cobra.Command, opts *TestOptions, result TestResult) error {
	out := newFormatter(cmd, opts.RootOptions)
	failed := fmt.Sprintf("%d scenario(s) failed", result.Failed)

	if opts.Format == "json" {
		if result.Failed > 0 {
			return out.Failed("E_TEST_FAILED", failed, result)
		}
		return out.JSON(CLIResponse{Status: "ok", Data: result})
	}

	w := out.Writer
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, failed)
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
