package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/projection"
)

// ProjectOptions holds flags for the project command.
type ProjectOptions struct {
	*RootOptions
	Rail string
	Lat  float64
	Lon  float64
}

// ProjectResult is one coordinate projected onto the rail model.
type ProjectResult struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Valid        bool    `json:"valid"`
	PK           float64 `json:"pk"`
	SKm          float64 `json:"s_km"`
	DistanceM    float64 `json:"distance_m"`
	NearestIndex int     `json:"nearest_index"`
	OnTrack      bool    `json:"on_track"`
}

// NewProjectCommand creates the project command.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "project --lat <deg> --lon <deg>",
		Short: "Project a single coordinate onto the rail model",
		Long: `Project one WGS84 coordinate onto the rail reference model and print the
kilometer marker, the curvilinear abscissa and the distance to the track.

Exit codes:
  0 - Coordinate projected
  1 - No projection (coordinate out of range)
  2 - Command error (missing rail model, etc.)

Examples:
  railpos project --rail line.yaml --lat 48.8443 --lon 2.3730
  railpos project --config railpos.yaml --lat 48.8443 --lon 2.3730 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rail, "rail", "", "rail model file (overrides rail.path)")
	cmd.Flags().Float64Var(&opts.Lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&opts.Lon, "lon", 0, "longitude in degrees")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")

	return cmd
}

func runProject(opts *ProjectOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	model, err := loadModel(cfg, opts.Rail, true)
	if err != nil {
		return err
	}

	p := cfg.ProjectionEngine(model).Project(opts.Lat, opts.Lon)
	result := ProjectResult{
		Lat:          opts.Lat,
		Lon:          opts.Lon,
		Valid:        p.Valid,
		PK:           p.PK,
		SKm:          p.SKm,
		DistanceM:    p.DistanceM,
		NearestIndex: p.NearestIndex,
		OnTrack:      projection.OnTrack(p, cfg.Pipeline.OnTrackThresholdM),
	}

	if !p.Valid {
		if opts.Format == "json" {
			return out.Failed("E_NO_PROJECTION", "coordinate cannot be projected", result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✗ No projection for (%g, %g)\n", opts.Lat, opts.Lon)
		return NewExitError(ExitFailure, "no projection")
	}

	if opts.Format == "json" {
		return out.JSON(CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "PK: %.3f\n", result.PK)
	fmt.Fprintf(w, "  s_km: %.3f\n", result.SKm)
	fmt.Fprintf(w, "  Distance: %.1f m\n", result.DistanceM)
	fmt.Fprintf(w, "  Nearest point: %d\n", result.NearestIndex)
	if result.OnTrack {
		fmt.Fprintln(w, "  On track: yes")
	} else {
		fmt.Fprintf(w, "  On track: no (threshold %.0f m)\n", cfg.Pipeline.OnTrackThresholdM)
	}
	return nil
}
