package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/railpos/internal/events"
)

// TraceLine renders one published event as a stable, time-relative line.
// Times are milliseconds since the scenario start.
func TraceLine(ev events.Event, startMS int64) string {
	at := ev.Time.UnixMilli() - startMS
	switch {
	case ev.Position != nil:
		p := ev.Position
		pk := "-"
		if p.PK != nil {
			pk = fmt.Sprintf("%.3f", *p.PK)
		}
		return fmt.Sprintf("%03d t=%d position_state %s pk=%s reasons=[%s] on_track=%t stale=%t age=%.1f",
			ev.Seq, at, p.State, pk, p.Reasons, p.OnTrack, p.IsStale, p.AgeSec)
	case ev.Source != nil:
		return fmt.Sprintf("%03d t=%d reference_source_changed %s", ev.Seq, at, ev.Source.Source)
	case ev.Mismatch != nil:
		m := ev.Mismatch
		return fmt.Sprintf("%03d t=%d direction_mismatch ratio=%.2f window_ms=%d expected=%s",
			ev.Seq, at, m.Ratio, m.WindowMS, m.Expected)
	case ev.Progress != nil:
		return fmt.Sprintf("%03d t=%d replay_progress %.3f", ev.Seq, at, ev.Progress.Fraction)
	case ev.Done != nil:
		return fmt.Sprintf("%03d t=%d replay_done in=%d out=%d", ev.Seq, at, ev.Done.PointsIn, ev.Done.PointsOut)
	default:
		return fmt.Sprintf("%03d t=%d %s", ev.Seq, at, ev.Kind)
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every published event in order.
	Trace []events.Event `json:"trace"`

	// Fingerprint is the content hash of Trace.
	Fingerprint string `json:"fingerprint"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	startMS int64
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []events.Event{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lines renders the trace with TraceLine.
func (r *Result) Lines() []string {
	out := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		out[i] = TraceLine(ev, r.startMS)
	}
	return out
}

// String renders the trace, one event per line.
func (r *Result) String() string {
	return strings.Join(r.Lines(), "\n") + "\n"
}
