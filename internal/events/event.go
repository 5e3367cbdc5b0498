package events

import (
	"fmt"
	"time"

	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/quality"
)

// Kind names an outbound event.
type Kind string

const (
	KindPositionState     Kind = "position_state"
	KindReferenceSource   Kind = "reference_source_changed"
	KindDirectionMismatch Kind = "direction_mismatch"
	KindReplayProgress    Kind = "replay_progress"
	KindReplayDone        Kind = "replay_done"
)

// Event is one outbound notification. Exactly one payload pointer is set,
// matching Kind.
type Event struct {
	Seq  int64     `json:"seq"`
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Position *PositionState     `json:"position,omitempty"`
	Source   *ReferenceSource   `json:"source,omitempty"`
	Mismatch *DirectionMismatch `json:"mismatch,omitempty"`
	Progress *ReplayProgress    `json:"progress,omitempty"`
	Done     *ReplayDone        `json:"done,omitempty"`
}

// PositionState is the single source of truth for other components.
type PositionState struct {
	State   quality.State   `json:"state"`
	PK      *float64        `json:"pk"`
	Reasons quality.Reasons `json:"reason_codes"`
	OnTrack bool            `json:"on_track"`
	IsStale bool            `json:"is_stale"`
	AgeSec  float64         `json:"age_sec"`
}

// ReferenceSource announces which reference the display should follow.
type ReferenceSource struct {
	Source quality.Source `json:"source"`
}

// DirectionMismatch is the advisory raised by the direction tracker.
type DirectionMismatch struct {
	Ratio    float64             `json:"ratio"`
	WindowMS int64               `json:"window_ms"`
	Expected direction.Direction `json:"expected"`
}

// ReplayProgress is a monotonic fraction in [0, 1].
type ReplayProgress struct {
	Fraction float64 `json:"fraction"`
}

// ReplayDone summarizes a replay. PointsIn counts fixes fed to the
// pipeline, PointsOut counts position_state events it published.
type ReplayDone struct {
	PointsIn  int    `json:"points_in"`
	PointsOut int    `json:"points_out"`
	Dropped   int    `json:"dropped,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Validate checks that the payload matches Kind.
func (e Event) Validate() error {
	set := 0
	for _, p := range []bool{e.Position != nil, e.Source != nil, e.Mismatch != nil, e.Progress != nil, e.Done != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("event %d (%s): %d payloads set, want 1", e.Seq, e.Kind, set)
	}

	var ok bool
	switch e.Kind {
	case KindPositionState:
		ok = e.Position != nil
	case KindReferenceSource:
		ok = e.Source != nil
	case KindDirectionMismatch:
		ok = e.Mismatch != nil
	case KindReplayProgress:
		ok = e.Progress != nil
	case KindReplayDone:
		ok = e.Done != nil
	default:
		return fmt.Errorf("event %d: unknown kind %q", e.Seq, e.Kind)
	}
	if !ok {
		return fmt.Errorf("event %d: payload does not match kind %q", e.Seq, e.Kind)
	}
	return nil
}
