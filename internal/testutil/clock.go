package testutil

import (
	"sync"
	"time"

	"github.com/roach88/railpos/internal/clock"
)

// ManualClock is a clock.Clock whose time only moves when told to.
//
// After advances the clock by the requested duration and returns a channel
// that is already ready, so code that waits on the clock (the replay engine)
// runs at full speed in tests while still observing the durations it asked
// for. Every requested wait is recorded in Waits.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	tick  chan time.Time
}

// NewManualClock creates a clock set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, tick: make(chan time.Time, 16)}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// After records d, advances the clock by d, and returns a ready channel.
// Negative durations are recorded and treated as zero.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Waits returns a copy of every duration passed to After.
func (c *ManualClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// NewTicker returns a ticker that only fires when Tick is called.
func (c *ManualClock) NewTicker(time.Duration) clock.Ticker {
	return manualTicker{c: c.tick}
}

// Tick fires the manual ticker with the current time.
func (c *ManualClock) Tick() {
	c.tick <- c.Now()
}

// PendingTicks returns how many fired ticks have not been received yet.
func (c *ManualClock) PendingTicks() int {
	return len(c.tick)
}

type manualTicker struct {
	c chan time.Time
}

func (m manualTicker) C() <-chan time.Time { return m.c }
func (m manualTicker) Stop()               {}
