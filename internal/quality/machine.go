package quality

import (
	"math"
	"time"

	"github.com/roach88/railpos/internal/clock"
)

// Config holds the hysteresis thresholds.
type Config struct {
	FreshSec         float64 `yaml:"fresh_sec" validate:"gt=0"`
	FreezeWindowSec  float64 `yaml:"freeze_window_sec" validate:"gt=0"`
	FreezeEpsilonKm  float64 `yaml:"freeze_epsilon_km" validate:"gte=0"`
	OrangeTimeoutSec float64 `yaml:"orange_timeout_sec" validate:"gt=0"`

	RepublishMinPKKm    float64 `yaml:"republish_min_pk_km" validate:"gte=0"`
	RepublishIntervalMS int     `yaml:"republish_interval_ms" validate:"gte=0"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FreshSec:            8,
		FreezeWindowSec:     10,
		FreezeEpsilonKm:     0.02,
		OrangeTimeoutSec:    20,
		RepublishMinPKKm:    0.05,
		RepublishIntervalMS: 800,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Input is everything the machine looks at in one evaluation.
type Input struct {
	Now time.Time

	// HasFix is false until a usable fix has been received since the last
	// reset. It stays true afterwards: a receiver that goes quiet is seen
	// through LastFixAt going stale.
	HasFix    bool
	LastFixAt time.Time

	// Projected is false when the last fix could not be projected at all.
	Projected bool
	OnTrack   bool

	GuardActive bool
}

// Status is the outcome of one evaluation.
type Status struct {
	State   State
	Reasons Reasons
	OnTrack bool
	Stale   bool
	AgeSec  float64
}

// Machine is the quality state machine. It is owned by the pipeline
// goroutine and is not safe for concurrent use.
type Machine struct {
	cfg Config

	state State

	// frozen runs since the last PK move of at least FreezeEpsilonKm.
	frozen   clock.Timer
	freezeAt float64
	hasPK    bool

	// degraded runs while the state is Degraded; reaching OrangeTimeout
	// escalates to NoFix.
	degraded  clock.Timer
	escalated bool
}

// New creates a machine in NoFix.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Config returns the machine's thresholds.
func (m *Machine) Config() Config { return m.cfg }

// State returns the state of the last evaluation.
func (m *Machine) State() State { return m.state }

// Reset forgets all timers and returns to NoFix.
func (m *Machine) Reset() {
	*m = Machine{cfg: m.cfg}
}

// ObservePK records an accepted PK. The freeze timer restarts whenever the
// PK has moved by at least FreezeEpsilonKm from where it last restarted.
func (m *Machine) ObservePK(pk float64, ts time.Time) {
	if !m.hasPK || math.Abs(pk-m.freezeAt) >= m.cfg.FreezeEpsilonKm {
		m.hasPK = true
		m.freezeAt = pk
		m.frozen.Arm(ts)
	}
}

// Evaluate computes the state for in and advances the hysteresis timers.
func (m *Machine) Evaluate(in Input) Status {
	st := Status{OnTrack: in.HasFix && in.OnTrack}

	if in.HasFix {
		age := in.Now.Sub(in.LastFixAt)
		if age < 0 {
			age = 0
		}
		st.AgeSec = age.Seconds()
		st.Stale = age > seconds(m.cfg.FreshSec)
	}

	var r Reasons
	frozen, frozenLong := false, false
	if !in.HasFix {
		r |= ReasonNoFix
	} else {
		if !in.Projected {
			r |= ReasonNoProjection
		}
		if !in.OnTrack {
			r |= ReasonOffTrack
		}
		if st.Stale {
			r |= ReasonStale
		}
		if in.OnTrack && !st.Stale {
			window := seconds(m.cfg.FreezeWindowSec)
			frozen = m.frozen.Reached(in.Now, window)
			frozenLong = m.frozen.Reached(in.Now, window+seconds(m.cfg.OrangeTimeoutSec))
		}
		if frozen {
			r |= ReasonFrozen
		}
		if frozenLong {
			r |= ReasonFrozenLong
		}
	}
	if in.GuardActive {
		r |= ReasonJumpGuard
	}

	trusted := in.HasFix && in.OnTrack && !st.Stale && !frozen && !in.GuardActive

	var next State
	switch {
	case trusted:
		next = Trusted
		m.escalated = false
	case !in.HasFix || !in.Projected || in.GuardActive || frozenLong || m.escalated:
		next = NoFix
	default:
		next = Degraded
	}

	if next == Degraded {
		m.degraded.ArmIfIdle(in.Now)
		if m.degraded.Reached(in.Now, seconds(m.cfg.OrangeTimeoutSec)) {
			next = NoFix
			m.escalated = true
		}
	}
	if next != Degraded {
		m.degraded.Cancel()
	}
	if m.escalated && next == NoFix {
		r |= ReasonEscalated
	}

	m.state = next
	st.State = next
	st.Reasons = r
	return st
}
