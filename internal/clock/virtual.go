package clock

import (
	"sync"
	"time"
)

// Virtual is a Clock that never sleeps: After advances the virtual time by
// the requested duration and returns at once. Its tickers never fire.
//
// Replaying a session against a Virtual clock yields the same event times
// as replaying it against Wall, only without the waiting.
type Virtual struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtual creates a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// After advances the clock by d (negative durations count as zero) and
// returns a channel that is already ready.
func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d > 0 {
		v.now = v.now.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- v.now
	return ch
}

// NewTicker returns a ticker that never fires.
func (v *Virtual) NewTicker(time.Duration) Ticker {
	return idleTicker{c: make(chan time.Time)}
}

type idleTicker struct {
	c chan time.Time
}

func (t idleTicker) C() <-chan time.Time { return t.c }
func (t idleTicker) Stop()               {}
