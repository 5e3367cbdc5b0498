package replay

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrReplayOver is returned by Control methods once the replay it steers
// has returned.
var ErrReplayOver = errors.New("replay is over")

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdSeek
	cmdSpeed
)

type command struct {
	kind   commandKind
	offset time.Duration
	speed  float64
}

// Control steers one running replay: pause, resume, seek and speed
// changes. Commands are queued and applied by the engine between waits,
// in the order they were sent. A Control serves a single Run.
//
// Thread-safety: all methods are safe for concurrent use, including from
// the pipeline callbacks of the replay being steered.
type Control struct {
	cmds chan command

	mu   sync.Mutex
	over bool
	done chan struct{}
}

// NewControl creates a control for one Session.
func NewControl() *Control {
	return &Control{cmds: make(chan command, 16), done: make(chan struct{})}
}

// Pause holds playback until Resume or Seek. Waiting time spent paused
// does not count against the recording.
func (c *Control) Pause() error { return c.send(command{kind: cmdPause}) }

// Resume continues a paused replay. It is a no-op while playing.
func (c *Control) Resume() error { return c.send(command{kind: cmdResume}) }

// Seek moves playback to offset from the first record, clamped to the
// recording's span, and leaves the replay paused. The pipeline is reset
// so the jump is not judged against the fixes before it.
func (c *Control) Seek(offset time.Duration) error {
	return c.send(command{kind: cmdSeek, offset: offset})
}

// SetSpeed changes the speed multiplier. The wait in progress is rescaled.
func (c *Control) SetSpeed(speed float64) error {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return &SourceError{
			Code: ErrCodeInvalidSpeed,
			Err:  fmt.Errorf("speed %v must be a positive finite number", speed),
		}
	}
	return c.send(command{kind: cmdSpeed, speed: speed})
}

func (c *Control) send(cmd command) error {
	select {
	case <-c.done:
		return ErrReplayOver
	default:
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrReplayOver
	}
}

func (c *Control) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.over {
		c.over = true
		close(c.done)
	}
}

// player is the engine-side state a Control acts on.
type player struct {
	cmds   <-chan command
	speed  float64
	paused bool
	seekTo time.Duration
	span   time.Duration
}

func newPlayer(c *Control, speed float64, span time.Duration) *player {
	p := &player{speed: speed, span: span}
	if c != nil {
		p.cmds = c.cmds
	}
	return p
}

// apply reports whether cmd asks for a seek.
func (p *player) apply(cmd command) bool {
	switch cmd.kind {
	case cmdPause:
		p.paused = true
	case cmdResume:
		p.paused = false
	case cmdSpeed:
		p.speed = cmd.speed
	case cmdSeek:
		p.paused = true
		p.seekTo = min(max(cmd.offset, 0), p.span)
		return true
	}
	return false
}
