package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to railpos.yaml, empty for defaults

	cfg    *config.Config
	cfgErr error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the railpos CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "railpos",
		Short: "railpos - live train position reference",
		Long: `Project satellite fixes onto a rail reference model and publish a
trusted kilometer marker, with a quality state telling the driver display
whether to follow the live position or the timetable.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := opts.LoadConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			setupLogging(cmd.ErrOrStderr(), cfg.LogLevel(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to config file")

	cmd.AddCommand(NewProjectCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// LoadConfig loads the file named by --config once and caches the result.
func (o *RootOptions) LoadConfig() (config.Config, error) {
	if o.cfg == nil && o.cfgErr == nil {
		cfg, err := config.Load(o.Config)
		o.cfg, o.cfgErr = &cfg, err
	}
	if o.cfgErr != nil {
		return config.Config{}, o.cfgErr
	}
	return *o.cfg, nil
}

// setupLogging installs a text handler on w. --verbose always means debug.
func setupLogging(w io.Writer, level slog.Level, verbose bool) {
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
