package clock

import "time"

// Clock abstracts wall time so the replay engine and the live watchdog can
// be driven deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current
	// time on the returned channel.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the pipeline needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Wall is the real-time Clock.
type Wall struct{}

// Now returns time.Now().
func (Wall) Now() time.Time { return time.Now() }

// After wraps time.After.
func (Wall) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTicker wraps time.NewTicker.
func (Wall) NewTicker(d time.Duration) Ticker {
	return wallTicker{t: time.NewTicker(d)}
}

type wallTicker struct {
	t *time.Ticker
}

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// UnixMilli converts epoch milliseconds to a UTC time.
func UnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
