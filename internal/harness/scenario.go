package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/quality"
	"github.com/roach88/railpos/internal/ribbon"
)

// MetersPerDegreeLat converts offset_m into a latitude shift.
const MetersPerDegreeLat = 111195.0

// Scenario drives one pipeline through a timed list of steps and checks
// what it published.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rail is the path of the rail model, relative to the scenario file.
	Rail string `yaml:"rail"`

	// Train sets the expected direction from the parity of its trailing
	// digits. Ignored when Direction is set.
	Train string `yaml:"train,omitempty"`

	// Direction sets a manual expected direction ("up" or "down").
	Direction string `yaml:"direction,omitempty"`

	// Steps run in order. at_ms must never decrease.
	Steps []Step `yaml:"steps"`

	// Assertions validate the published events.
	// Supported types: state_at, never_state, event_count,
	// source_sequence, state_sequence, final_state
	Assertions []Assertion `yaml:"assertions"`

	model *ribbon.Model
}

// Step is one input at a scenario-relative time. Exactly one of Fix, Tick,
// Ticks or ClearRun is set.
type Step struct {
	// AtMS is milliseconds since the scenario start.
	AtMS int64 `yaml:"at_ms"`

	Fix      *FixStep   `yaml:"fix,omitempty"`
	Tick     bool       `yaml:"tick,omitempty"`
	Ticks    *TicksStep `yaml:"ticks,omitempty"`
	ClearRun bool       `yaml:"clear_run,omitempty"`
}

// FixStep is a satellite fix given either along the ribbon or in absolute
// coordinates.
type FixStep struct {
	// SKm places the fix on the ribbon at this abscissa.
	SKm *float64 `yaml:"s_km,omitempty"`

	// OffsetM shifts an SKm fix north, off the track.
	OffsetM float64 `yaml:"offset_m,omitempty"`

	Lat *float64 `yaml:"lat,omitempty"`
	Lon *float64 `yaml:"lon,omitempty"`

	Accuracy *float64 `yaml:"accuracy,omitempty"`
	OnTrack  *bool    `yaml:"on_track,omitempty"`
}

// TicksStep repeats watchdog ticks from the step's at_ms up to UntilMS.
type TicksStep struct {
	UntilMS int64 `yaml:"until_ms"`
	EveryMS int64 `yaml:"every_ms,omitempty"`
}

// Assertion is one check over the published events.
type Assertion struct {
	// Type is the assertion kind.
	Type string `yaml:"type"`

	// AtMS selects the last position_state at or before this time (state_at).
	AtMS int64 `yaml:"at_ms,omitempty"`

	// State is the expected quality state (state_at, never_state, final_state).
	State string `yaml:"state,omitempty"`

	// Reasons must all be present (state_at, final_state).
	Reasons []string `yaml:"reasons,omitempty"`

	// PKPresent checks whether a PK was published (state_at, final_state).
	PKPresent *bool `yaml:"pk_present,omitempty"`

	// PK and ToleranceKm check the published PK value (state_at, final_state).
	PK          *float64 `yaml:"pk,omitempty"`
	ToleranceKm float64  `yaml:"tolerance_km,omitempty"`

	// OnTrack restricts never_state to events with this on_track value.
	OnTrack *bool `yaml:"on_track,omitempty"`

	// Kind and Count are used by event_count.
	Kind  string `yaml:"kind,omitempty"`
	Count *int   `yaml:"count,omitempty"`

	// Sequence lists the expected values (source_sequence, state_sequence).
	Sequence []string `yaml:"sequence,omitempty"`
}

// LoadScenario reads and validates a scenario file, then loads the rail
// model it names.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	railPath := s.Rail
	if !filepath.IsAbs(railPath) {
		railPath = filepath.Join(filepath.Dir(path), railPath)
	}
	s.model, err = ribbon.Load(railPath)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return &s, nil
}

// WithModel attaches an already loaded rail model, for scenarios built in
// code.
func (s *Scenario) WithModel(m *ribbon.Model) *Scenario {
	s.model = m
	return s
}

var assertionTypes = map[string]bool{
	"state_at":        true,
	"never_state":     true,
	"event_count":     true,
	"source_sequence": true,
	"state_sequence":  true,
	"final_state":     true,
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Rail == "" && s.model == nil {
		return fmt.Errorf("rail is required")
	}
	if s.Direction != "" {
		if _, err := direction.Parse(s.Direction); err != nil {
			return err
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	var last int64
	for i, step := range s.Steps {
		if step.AtMS < last {
			return fmt.Errorf("step %d: at_ms %d before previous step at %d", i, step.AtMS, last)
		}
		last = step.AtMS

		set := 0
		if step.Fix != nil {
			set++
			if err := validateFix(step.Fix); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if step.Tick {
			set++
		}
		if step.Ticks != nil {
			set++
			if step.Ticks.UntilMS < step.AtMS {
				return fmt.Errorf("step %d: ticks until_ms %d before at_ms %d", i, step.Ticks.UntilMS, step.AtMS)
			}
			if step.Ticks.EveryMS < 0 {
				return fmt.Errorf("step %d: ticks every_ms must be positive", i)
			}
			last = step.Ticks.UntilMS
		}
		if step.ClearRun {
			set++
		}
		if set != 1 {
			return fmt.Errorf("step %d: exactly one of fix, tick, ticks, clear_run is required", i)
		}
	}

	for i, a := range s.Assertions {
		if !assertionTypes[a.Type] {
			return fmt.Errorf("assertion %d: unknown type %q", i, a.Type)
		}
		if a.State != "" {
			var st quality.State
			if err := st.UnmarshalText([]byte(a.State)); err != nil {
				return fmt.Errorf("assertion %d: %w", i, err)
			}
		}
		switch a.Type {
		case "state_at", "never_state":
			if a.State == "" && a.Type == "never_state" {
				return fmt.Errorf("assertion %d: never_state requires state", i)
			}
		case "event_count":
			if a.Kind == "" || a.Count == nil {
				return fmt.Errorf("assertion %d: event_count requires kind and count", i)
			}
			if !knownKind(events.Kind(a.Kind)) {
				return fmt.Errorf("assertion %d: unknown event kind %q", i, a.Kind)
			}
		case "source_sequence", "state_sequence":
			if len(a.Sequence) == 0 {
				return fmt.Errorf("assertion %d: %s requires sequence", i, a.Type)
			}
		}
	}
	return nil
}

func validateFix(f *FixStep) error {
	hasS := f.SKm != nil
	hasLL := f.Lat != nil || f.Lon != nil
	switch {
	case hasS && hasLL:
		return fmt.Errorf("fix: s_km and lat/lon are exclusive")
	case !hasS && !hasLL:
		return fmt.Errorf("fix: s_km or lat/lon is required")
	case hasLL && (f.Lat == nil || f.Lon == nil):
		return fmt.Errorf("fix: both lat and lon are required")
	case !hasS && f.OffsetM != 0:
		return fmt.Errorf("fix: offset_m requires s_km")
	}
	return nil
}

func knownKind(k events.Kind) bool {
	switch k {
	case events.KindPositionState, events.KindReferenceSource, events.KindDirectionMismatch,
		events.KindReplayProgress, events.KindReplayDone:
		return true
	}
	return false
}

// coords resolves a fix step to absolute coordinates on m.
func (f *FixStep) coords(m *ribbon.Model) (lat, lon float64) {
	if f.SKm == nil {
		return *f.Lat, *f.Lon
	}
	lat, lon = m.PointAt(*f.SKm)
	return lat + f.OffsetM/MetersPerDegreeLat, lon
}
