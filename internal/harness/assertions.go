package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/quality"
)

// AssertionError is returned when an assertion fails.
// It includes the rendered trace to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Rendered trace lines
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, line := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", line)
	}
	return buf.String()
}

// checker evaluates assertions against one recorded trace.
type checker struct {
	trace []events.Event
	start time.Time
	lines []string
}

func (c *checker) fail(typ, expected, actual string) error {
	return &AssertionError{Type: typ, Expected: expected, Actual: actual, Trace: c.lines}
}

func (c *checker) check(a Assertion) error {
	switch a.Type {
	case "state_at":
		return c.stateAt(a)
	case "never_state":
		return c.neverState(a)
	case "event_count":
		return c.eventCount(a)
	case "source_sequence":
		return c.sourceSequence(a)
	case "state_sequence":
		return c.stateSequence(a)
	case "final_state":
		return c.finalState(a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// positionAt returns the last position_state published at or before at.
func (c *checker) positionAt(at time.Time) (*events.PositionState, bool) {
	var found *events.PositionState
	for _, ev := range c.trace {
		if ev.Position == nil {
			continue
		}
		if ev.Time.After(at) {
			break
		}
		found = ev.Position
	}
	return found, found != nil
}

func (c *checker) stateAt(a Assertion) error {
	at := c.start.Add(time.Duration(a.AtMS) * time.Millisecond)
	ps, ok := c.positionAt(at)
	if !ok {
		return c.fail("state_at", fmt.Sprintf("position_state at %d ms", a.AtMS), "none published yet")
	}
	return c.matchPosition("state_at", fmt.Sprintf("at %d ms", a.AtMS), ps, a)
}

func (c *checker) finalState(a Assertion) error {
	var last *events.PositionState
	for _, ev := range c.trace {
		if ev.Position != nil {
			last = ev.Position
		}
	}
	if last == nil {
		return c.fail("final_state", "a final position_state", "none published")
	}
	return c.matchPosition("final_state", "final", last, a)
}

// matchPosition checks the state, reason subset and PK fields of a.
func (c *checker) matchPosition(typ, where string, ps *events.PositionState, a Assertion) error {
	if a.State != "" && ps.State.String() != a.State {
		return c.fail(typ, fmt.Sprintf("state %s %s", a.State, where), fmt.Sprintf("state %s", ps.State))
	}

	labels := ps.Reasons.Labels()
	for _, want := range a.Reasons {
		if !slices.Contains(labels, want) {
			return c.fail(typ,
				fmt.Sprintf("reason %s %s", want, where),
				fmt.Sprintf("reasons [%s]", strings.Join(labels, ",")))
		}
	}

	if a.PKPresent != nil && (ps.PK != nil) != *a.PKPresent {
		return c.fail(typ, fmt.Sprintf("pk present=%t %s", *a.PKPresent, where), fmt.Sprintf("pk present=%t", ps.PK != nil))
	}

	if a.PK != nil {
		if ps.PK == nil {
			return c.fail(typ, fmt.Sprintf("pk %.3f %s", *a.PK, where), "no pk")
		}
		if math.Abs(*ps.PK-*a.PK) > a.ToleranceKm {
			return c.fail(typ,
				fmt.Sprintf("pk %.3f ± %.3f %s", *a.PK, a.ToleranceKm, where),
				fmt.Sprintf("pk %.3f", *ps.PK))
		}
	}
	return nil
}

// neverState fails if any position_state carries the forbidden state. With
// OnTrack set, only events whose on_track matches are considered.
func (c *checker) neverState(a Assertion) error {
	for _, ev := range c.trace {
		ps := ev.Position
		if ps == nil {
			continue
		}
		if a.OnTrack != nil && ps.OnTrack != *a.OnTrack {
			continue
		}
		if ps.State.String() == a.State {
			qual := ""
			if a.OnTrack != nil {
				qual = fmt.Sprintf(" with on_track=%t", *a.OnTrack)
			}
			return c.fail("never_state",
				fmt.Sprintf("no %s state%s", a.State, qual),
				fmt.Sprintf("event seq %d at %d ms", ev.Seq, ev.Time.Sub(c.start).Milliseconds()))
		}
	}
	return nil
}

func (c *checker) eventCount(a Assertion) error {
	got := 0
	for _, ev := range c.trace {
		if string(ev.Kind) == a.Kind {
			got++
		}
	}
	if got != *a.Count {
		return c.fail("event_count",
			fmt.Sprintf("%d %s events", *a.Count, a.Kind),
			fmt.Sprintf("%d %s events", got, a.Kind))
	}
	return nil
}

func (c *checker) sourceSequence(a Assertion) error {
	got := []string{}
	for _, ev := range c.trace {
		if ev.Source != nil {
			got = append(got, ev.Source.Source.String())
		}
	}
	return c.sequence("source_sequence", a.Sequence, got)
}

// stateSequence compares the published states with consecutive repeats
// collapsed.
func (c *checker) stateSequence(a Assertion) error {
	got := []string{}
	var prev quality.State = -1
	for _, ev := range c.trace {
		if ev.Position == nil || ev.Position.State == prev {
			continue
		}
		prev = ev.Position.State
		got = append(got, prev.String())
	}
	return c.sequence("state_sequence", a.Sequence, got)
}

func (c *checker) sequence(typ string, want, got []string) error {
	if !slices.Equal(want, got) {
		return c.fail(typ,
			"["+strings.Join(want, " ")+"]",
			"["+strings.Join(got, " ")+"]")
	}
	return nil
}
