package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/roach88/railpos/internal/config"
	"github.com/roach88/railpos/internal/ribbon"
)

// Validation error codes.
const (
	ErrCodeConfig = "E_CONFIG"
	ErrCodeField  = "E_CONFIG_FIELD"
	ErrCodeRail   = "E_RAIL"
	ErrCodeNoRail = "E_NO_RAIL"
)

// ValidationError is one problem found in a config file or rail model.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// RailSummary describes a rail model that loaded.
type RailSummary struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Points  int     `json:"points"`
	Anchors int     `json:"anchors"`
	SMinKm  float64 `json:"s_min_km"`
	SMaxKm  float64 `json:"s_max_km"`
	PKMin   float64 `json:"pk_min"`
	PKMax   float64 `json:"pk_max"`

	References []string `json:"references,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config string            `json:"config,omitempty"`
	Rail   *RailSummary      `json:"rail,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var rail string

	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file and its rail model",
		Long: `Validate a railpos config file and load the rail model it names, without
starting a pipeline.

Every invalid config field is reported. The rail model is checked for a
strictly increasing abscissa, finite coordinates and at least one PK
anchor.

Exit codes:
  0 - Config and rail model valid
  1 - Validation failed
  2 - Command error

Examples:
  railpos validate railpos.yaml
  railpos validate --rail line.yaml
  railpos validate railpos.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, rail, cmd)
		},
	}

	cmd.Flags().StringVar(&rail, "rail", "", "rail model file (overrides rail.path)")

	return cmd
}

func runValidate(opts *RootOptions, path, rail string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)
	result := ValidationResult{Config: path}

	cfg, err := config.Load(path)
	if err != nil {
		result.Errors = configErrors(err)
		return outputValidation(out, result)
	}
	out.VerboseLog("config %q loaded", path)

	if rail != "" {
		cfg.Rail.Path = rail
	}
	if cfg.Rail.Path == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "rail.path",
			Message: "no rail model configured",
			Code:    ErrCodeNoRail,
		})
		return outputValidation(out, result)
	}

	model, err := ribbon.Load(cfg.Rail.Path)
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "rail",
			Message: err.Error(),
			Code:    ErrCodeRail,
		})
		return outputValidation(out, result)
	}
	result.Rail = summarizeRail(cfg.Rail.Path, model)
	return outputValidation(out, result)
}

// configErrors splits a config error into one entry per invalid field.
func configErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error(), Code: ErrCodeConfig}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, ValidationError{
			Field:   strings.TrimPrefix(fe.Namespace(), "Config."),
			Message: fmt.Sprintf("%s (got %v)", msg, fe.Value()),
			Code:    ErrCodeField,
		})
	}
	return out
}

func summarizeRail(path string, m *ribbon.Model) *RailSummary {
	sMin, sMax := m.SRange()
	var refs []string
	if names := m.References(); len(names) > 1 {
		refs = names
	}
	return &RailSummary{
		References: refs,
		Name:    m.Name(),
		Path:    path,
		Points:  m.Len(),
		Anchors: len(m.Anchors()),
		SMinKm:  sMin,
		SMaxKm:  sMax,
		PKMin:   m.PKFromS(sMin),
		PKMax:   m.PKFromS(sMax),
	}
}

func outputValidation(out *OutputFormatter, result ValidationResult) error {
	result.Valid = len(result.Errors) == 0

	if out.Format == "json" {
		if !result.Valid {
			return out.Failed(result.Errors[0].Code, validationFailedMessage(len(result.Errors)), result)
		}
		return out.Success(result)
	}

	w := out.Writer
	if !result.Valid {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, e := range result.Errors {
			if e.Field != "" {
				fmt.Fprintf(w, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
			} else {
				fmt.Fprintf(w, "  %s: %s\n", e.Code, e.Message)
			}
		}
		return NewExitError(ExitFailure, validationFailedMessage(len(result.Errors)))
	}

	r := result.Rail
	fmt.Fprintf(w, "✓ Rail model %s valid\n", r.Name)
	fmt.Fprintf(w, "  Points: %d\n", r.Points)
	fmt.Fprintf(w, "  Anchors: %d\n", r.Anchors)
	fmt.Fprintf(w, "  s_km: %.3f .. %.3f\n", r.SMinKm, r.SMaxKm)
	fmt.Fprintf(w, "  PK: %.3f .. %.3f\n", r.PKMin, r.PKMax)
	if len(r.References) > 0 {
		fmt.Fprintf(w, "  References: %s\n", strings.Join(r.References, ", "))
	}
	return nil
}

func validationFailedMessage(n int) string {
	return fmt.Sprintf("validation failed with %d error(s)", n)
}
