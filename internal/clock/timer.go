package clock

import "time"

// Timer measures how long a condition has held.
//
// A Timer is either idle or armed at an instant. Elapsed is measured against
// a caller-supplied "now", so the same Timer works with wall time and with
// the virtual time of a replay. A zero Timer is idle.
type Timer struct {
	armed bool
	at    time.Time
}

// Arm starts the timer at now, restarting it if it was already armed.
func (t *Timer) Arm(now time.Time) {
	t.armed = true
	t.at = now
}

// ArmIfIdle starts the timer at now unless it is already running.
// Returns true if the timer was started by this call.
func (t *Timer) ArmIfIdle(now time.Time) bool {
	if t.armed {
		return false
	}
	t.Arm(now)
	return true
}

// Cancel stops the timer. Elapsed returns 0 until it is armed again.
func (t *Timer) Cancel() {
	t.armed = false
	t.at = time.Time{}
}

// Armed reports whether the timer is running.
func (t *Timer) Armed() bool {
	return t.armed
}

// Since returns the instant the timer was armed (zero if idle).
func (t *Timer) Since() time.Time {
	return t.at
}

// Elapsed returns how long the timer has been running at now.
// An idle timer returns 0. Time going backwards is clamped to 0.
func (t *Timer) Elapsed(now time.Time) time.Duration {
	if !t.armed {
		return 0
	}
	d := now.Sub(t.at)
	if d < 0 {
		return 0
	}
	return d
}

// Reached reports whether the timer is running and has been for at least d.
func (t *Timer) Reached(now time.Time, d time.Duration) bool {
	return t.armed && t.Elapsed(now) >= d
}
