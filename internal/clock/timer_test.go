package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer_IdleByDefault(t *testing.T) {
	var tm Timer
	now := time.Unix(100, 0)

	assert.False(t, tm.Armed())
	assert.Equal(t, time.Duration(0), tm.Elapsed(now))
	assert.False(t, tm.Reached(now, 0))
}

func TestTimer_ArmAndElapsed(t *testing.T) {
	var tm Timer
	start := time.Unix(100, 0)
	tm.Arm(start)

	assert.True(t, tm.Armed())
	assert.Equal(t, 5*time.Second, tm.Elapsed(start.Add(5*time.Second)))
	assert.True(t, tm.Reached(start.Add(5*time.Second), 5*time.Second))
	assert.False(t, tm.Reached(start.Add(4*time.Second), 5*time.Second))
}

func TestTimer_ArmIfIdleKeepsOriginalStart(t *testing.T) {
	var tm Timer
	start := time.Unix(100, 0)

	assert.True(t, tm.ArmIfIdle(start))
	assert.False(t, tm.ArmIfIdle(start.Add(3*time.Second)))
	assert.Equal(t, start, tm.Since())
}

func TestTimer_CancelResets(t *testing.T) {
	var tm Timer
	start := time.Unix(100, 0)
	tm.Arm(start)
	tm.Cancel()

	assert.False(t, tm.Armed())
	assert.Equal(t, time.Duration(0), tm.Elapsed(start.Add(time.Hour)))
}

func TestTimer_BackwardsTimeClamped(t *testing.T) {
	var tm Timer
	start := time.Unix(100, 0)
	tm.Arm(start)

	assert.Equal(t, time.Duration(0), tm.Elapsed(start.Add(-time.Second)))
}
