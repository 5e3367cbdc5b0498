package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Rail   string
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the rail model as GeoJSON",
		Long: `Export the rail reference model as a GeoJSON FeatureCollection: the
ribbon as a LineString and every PK anchor as a Point, ready for any map
viewer.

Examples:
  railpos export --rail line.yaml > line.geojson
  railpos export --rail line.yaml -o line.geojson`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rail, "rail", "", "rail model file (overrides rail.path)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to this file instead of stdout")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	model, err := loadModel(cfg, opts.Rail, true)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(model.GeoJSON(), "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode GeoJSON", err)
	}
	data = append(data, '\n')

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write GeoJSON", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %s (%d points) to %s\n", model.Name(), model.Len(), opts.Output)
	return nil
}
