package quality

import (
	"math"
	"time"
)

// Throttle decides whether a status needs to be republished.
//
// A state change always publishes. An unchanged Trusted state republishes
// once the PK has moved by MinPKKm or Interval has passed. An unchanged
// Degraded or NoFix state republishes when its reasons change or after
// Interval.
type Throttle struct {
	MinPKKm  float64
	Interval time.Duration

	published bool
	state     State
	reasons   Reasons
	pk        float64
	hasPK     bool
	at        time.Time
}

// NewThrottle builds a throttle from cfg.
func NewThrottle(cfg Config) *Throttle {
	return &Throttle{
		MinPKKm:  cfg.RepublishMinPKKm,
		Interval: time.Duration(cfg.RepublishIntervalMS) * time.Millisecond,
	}
}

// Should reports whether (state, reasons, pk) at now must be published.
// pk is nil when no position is published. It does not record anything;
// call Mark after publishing.
func (t *Throttle) Should(now time.Time, state State, reasons Reasons, pk *float64) bool {
	if !t.published || state != t.state {
		return true
	}
	elapsed := now.Sub(t.at)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= t.Interval {
		return true
	}
	if state == Trusted {
		if (pk != nil) != t.hasPK {
			return true
		}
		return pk != nil && math.Abs(*pk-t.pk) >= t.MinPKKm
	}
	return reasons != t.reasons
}

// Mark records a publication.
func (t *Throttle) Mark(now time.Time, state State, reasons Reasons, pk *float64) {
	t.published = true
	t.state = state
	t.reasons = reasons
	t.at = now
	t.hasPK = pk != nil
	if pk != nil {
		t.pk = *pk
	}
}

// Reset forgets the last publication so the next status always publishes.
func (t *Throttle) Reset() {
	t.published = false
	t.hasPK = false
	t.reasons = 0
	t.at = time.Time{}
}
