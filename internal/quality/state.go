package quality

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the trust level of the live position.
type State int

const (
	// NoFix means there is no usable position: no fix yet, no projection,
	// the jump guard is holding, or a degraded state timed out.
	NoFix State = iota
	// Degraded means a position exists but is stale, off track or frozen.
	Degraded
	// Trusted means the position is fresh, on track and moving.
	Trusted
)

var stateNames = [...]string{"no_fix", "degraded", "trusted"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown quality state %q", string(b))
}

// Source is the reference the rest of the system follows.
type Source int

const (
	// Schedule is the timetable clock.
	Schedule Source = iota
	// Live is the satellite position.
	Live
)

func (s Source) String() string {
	if s == Live {
		return "live"
	}
	return "schedule"
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "live":
		*s = Live
	case "schedule":
		*s = Schedule
	default:
		return fmt.Errorf("unknown reference source %q", string(b))
	}
	return nil
}

// SourceFor returns Live for Trusted and Schedule otherwise.
func SourceFor(s State) Source {
	if s == Trusted {
		return Live
	}
	return Schedule
}

// Reasons is a set of diagnostic codes explaining a state.
type Reasons uint16

const (
	// ReasonNoFix means no fix has been received since the last reset.
	ReasonNoFix Reasons = 1 << iota
	// ReasonNoProjection means the last fix could not be projected.
	ReasonNoProjection
	// ReasonOffTrack means the fix is too far from the ribbon or the
	// receiver flagged it off track.
	ReasonOffTrack
	// ReasonStale means the last fix is older than the freshness window.
	ReasonStale
	// ReasonFrozen means the PK has not moved for the freeze window.
	ReasonFrozen
	// ReasonFrozenLong means the PK has stayed frozen past the orange timeout.
	ReasonFrozenLong
	// ReasonJumpGuard means the jump guard is rejecting fixes.
	ReasonJumpGuard
	// ReasonEscalated means Degraded lasted the orange timeout.
	ReasonEscalated
)

var reasonNames = []struct {
	r    Reasons
	name string
}{
	{ReasonNoFix, "no_fix"},
	{ReasonNoProjection, "no_projection"},
	{ReasonOffTrack, "off_track"},
	{ReasonStale, "stale"},
	{ReasonFrozen, "pk_frozen"},
	{ReasonFrozenLong, "pk_frozen_long"},
	{ReasonJumpGuard, "jump_guard"},
	{ReasonEscalated, "escalated"},
}

// Has reports whether every bit of r2 is set in r.
func (r Reasons) Has(r2 Reasons) bool {
	return r&r2 == r2
}

// Labels returns the human-readable codes in a fixed order.
func (r Reasons) Labels() []string {
	out := []string{}
	for _, rn := range reasonNames {
		if r&rn.r != 0 {
			out = append(out, rn.name)
		}
	}
	return out
}

func (r Reasons) String() string {
	return strings.Join(r.Labels(), ",")
}

// MarshalJSON encodes the set as an array of labels.
func (r Reasons) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Labels())
}

// UnmarshalJSON decodes an array of labels.
func (r *Reasons) UnmarshalJSON(b []byte) error {
	var labels []string
	if err := json.Unmarshal(b, &labels); err != nil {
		return err
	}
	var out Reasons
	for _, l := range labels {
		found := false
		for _, rn := range reasonNames {
			if rn.name == l {
				out |= rn.r
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown reason %q", l)
		}
	}
	*r = out
	return nil
}
