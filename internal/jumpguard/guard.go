// Package jumpguard rejects kilometer-marker values that would imply an
// impossible speed for a train.
//
// The guard has two modes. In Normal mode every accepted PK becomes the
// reference for the next one. A PK further from the reference than
//
//	BaseToleranceKm + MaxSpeedKmh/3600 × max(dt, MinElapsedSec)
//
// is rejected and the guard switches to Guarding, remembering the pre-jump
// reference as its base. While guarding, PKs are suppressed for every
// consumer; the guard returns to Normal as soon as a PK falls back within
// tolerance of the base, or relocks on a new position once it has been
// stable for long enough. A single glitch never teleports the indicator,
// and a sustained new position is eventually trusted.
package jumpguard

import (
	"math"
	"time"
)

// Config holds the guard thresholds.
type Config struct {
	BaseToleranceKm float64 `yaml:"base_tolerance_km" validate:"gte=0"`
	MaxSpeedKmh     float64 `yaml:"max_speed_kmh" validate:"gt=0"`
	MinElapsedSec   float64 `yaml:"min_elapsed_sec" validate:"gte=0"`

	// RelockAfterSec accepts a new, self-consistent position after the guard
	// has been rejecting for this long. Zero disables relocking.
	RelockAfterSec float64 `yaml:"relock_after_sec" validate:"gte=0"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		BaseToleranceKm: 0.8,
		MaxSpeedKmh:     420,
		MinElapsedSec:   1.0,
		RelockAfterSec:  15,
	}
}

// Mode is the guard's state.
type Mode int

const (
	// Normal accepts plausible PKs against the last accepted one.
	Normal Mode = iota
	// Guarding suppresses PKs until one is plausible against the base.
	Guarding
)

func (m Mode) String() string {
	if m == Guarding {
		return "guarding"
	}
	return "normal"
}

// Outcome classifies a decision.
type Outcome int

const (
	// FirstFix is the first PK after a reset; always accepted.
	FirstFix Outcome = iota + 1
	// Accepted is a plausible PK in Normal mode.
	Accepted
	// Rejected is a suppressed PK.
	Rejected
	// Rearmed is a PK that brought the guard back to Normal because it is
	// plausible against the pre-jump base.
	Rearmed
	// Relocked is a PK accepted after a sustained, stable new position.
	Relocked
)

func (o Outcome) String() string {
	switch o {
	case FirstFix:
		return "first_fix"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected_jump"
	case Rearmed:
		return "rearmed"
	case Relocked:
		return "relocked"
	default:
		return "unknown"
	}
}

// Decision is the guard's verdict on one candidate PK.
type Decision struct {
	Outcome Outcome

	// PK is the accepted value. Meaningless when Outcome is Rejected.
	PK float64

	// JumpKm and AllowedKm describe the comparison that was made, for
	// diagnostics. Both are zero for FirstFix.
	JumpKm    float64
	AllowedKm float64
}

// Ok reports whether the candidate was accepted.
func (d Decision) Ok() bool {
	return d.Outcome != Rejected
}

type mark struct {
	pk float64
	ts time.Time
}

// Guard is the jump guard state. It is not safe for concurrent use; the
// pipeline owns it from a single goroutine.
type Guard struct {
	cfg  Config
	mode Mode

	hasAccepted   bool
	lastAccepted  mark
	base          mark
	hasCandidate  bool
	lastCandidate mark
	guardingSince time.Time
}

// New creates a guard in Normal mode with no memory.
func New(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Reset forgets every accepted value and returns to Normal.
func (g *Guard) Reset() {
	*g = Guard{cfg: g.cfg}
}

// Mode returns the current mode.
func (g *Guard) Mode() Mode { return g.mode }

// Active reports whether the guard is suppressing PKs.
func (g *Guard) Active() bool { return g.mode == Guarding }

// LastAccepted returns the last accepted PK and its timestamp.
func (g *Guard) LastAccepted() (float64, time.Time, bool) {
	return g.lastAccepted.pk, g.lastAccepted.ts, g.hasAccepted
}

// Tolerance returns the largest plausible PK change after dt.
// Negative dt (timestamps out of order) is clamped.
func (g *Guard) Tolerance(dt time.Duration) float64 {
	sec := math.Max(dt.Seconds(), g.cfg.MinElapsedSec)
	return g.cfg.BaseToleranceKm + g.cfg.MaxSpeedKmh/3600*sec
}

// Check evaluates candidate pk observed at ts and updates the guard.
func (g *Guard) Check(pk float64, ts time.Time) Decision {
	if !g.hasAccepted {
		g.accept(pk, ts)
		return Decision{Outcome: FirstFix, PK: pk}
	}

	if g.mode == Normal {
		jump := math.Abs(pk - g.lastAccepted.pk)
		allowed := g.Tolerance(ts.Sub(g.lastAccepted.ts))
		if jump > allowed {
			g.mode = Guarding
			g.base = g.lastAccepted
			g.guardingSince = ts
			g.hasCandidate = true
			g.lastCandidate = mark{pk, ts}
			return Decision{Outcome: Rejected, JumpKm: jump, AllowedKm: allowed}
		}
		g.accept(pk, ts)
		return Decision{Outcome: Accepted, PK: pk, JumpKm: jump, AllowedKm: allowed}
	}

	jump := math.Abs(pk - g.base.pk)
	allowed := g.Tolerance(ts.Sub(g.base.ts))
	if jump <= allowed {
		g.accept(pk, ts)
		return Decision{Outcome: Rearmed, PK: pk, JumpKm: jump, AllowedKm: allowed}
	}

	if g.stabilized(pk, ts) {
		g.accept(pk, ts)
		return Decision{Outcome: Relocked, PK: pk, JumpKm: jump, AllowedKm: allowed}
	}

	g.hasCandidate = true
	g.lastCandidate = mark{pk, ts}
	return Decision{Outcome: Rejected, JumpKm: jump, AllowedKm: allowed}
}

// Relock accepts pk unconditionally and returns to Normal. The caller uses
// it when PKs before and after ts are known not to be comparable, as when
// the line changes kilometer-marker system.
func (g *Guard) Relock(pk float64, ts time.Time) Decision {
	first := !g.hasAccepted
	g.accept(pk, ts)
	if first {
		return Decision{Outcome: FirstFix, PK: pk}
	}
	return Decision{Outcome: Relocked, PK: pk}
}

// stabilized reports whether the guard has been rejecting for at least
// RelockAfterSec and pk is plausible against the previous rejected value.
func (g *Guard) stabilized(pk float64, ts time.Time) bool {
	if g.cfg.RelockAfterSec <= 0 || !g.hasCandidate {
		return false
	}
	if ts.Sub(g.guardingSince).Seconds() < g.cfg.RelockAfterSec {
		return false
	}
	return math.Abs(pk-g.lastCandidate.pk) <= g.Tolerance(ts.Sub(g.lastCandidate.ts))
}

func (g *Guard) accept(pk float64, ts time.Time) {
	g.mode = Normal
	g.hasAccepted = true
	g.lastAccepted = mark{pk, ts}
	g.base = mark{}
	g.hasCandidate = false
	g.lastCandidate = mark{}
	g.guardingSince = time.Time{}
}
