package jumpguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func at(ms int64) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestGuard_FirstFixAccepted(t *testing.T) {
	g := New(DefaultConfig())

	d := g.Check(50, at(0))
	assert.Equal(t, FirstFix, d.Outcome)
	assert.True(t, d.Ok())
	assert.False(t, g.Active())

	pk, ts, ok := g.LastAccepted()
	assert.True(t, ok)
	assert.Equal(t, 50.0, pk)
	assert.Equal(t, at(0), ts)
}

func TestGuard_ScenarioB_ImplausibleJumpSuppressed(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(50, at(0))

	d := g.Check(70, at(1000))
	assert.Equal(t, Rejected, d.Outcome)
	assert.False(t, d.Ok())
	assert.True(t, g.Active())
	assert.Equal(t, Guarding, g.Mode())
	assert.InDelta(t, 20.0, d.JumpKm, 1e-9)
	assert.InDelta(t, 0.8+420.0/3600, d.AllowedKm, 1e-9)

	pk, _, _ := g.LastAccepted()
	assert.Equal(t, 50.0, pk, "rejected value must not become the reference")
}

func TestGuard_RearmsWhenBackNearBase(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(50, at(0))
	g.Check(70, at(1000))

	d := g.Check(50.1, at(2000))
	assert.Equal(t, Rearmed, d.Outcome)
	assert.True(t, d.Ok())
	assert.False(t, g.Active())

	pk, ts, _ := g.LastAccepted()
	assert.Equal(t, 50.1, pk)
	assert.Equal(t, at(2000), ts)

	assert.Equal(t, Accepted, g.Check(50.2, at(3000)).Outcome)
}

func TestGuard_PlausibleMovementAccepted(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(100, at(0))

	// 300 km/h for 10 s is 0.833 km.
	d := g.Check(100.833, at(10_000))
	assert.Equal(t, Accepted, d.Outcome)
	assert.Equal(t, 100.833, d.PK)
}

func TestGuard_MinElapsedFloorsTinyDt(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(10, at(0))

	// Two fixes 10 ms apart: tolerance uses 1 s, not 10 ms.
	d := g.Check(10.9, at(10))
	assert.Equal(t, Accepted, d.Outcome)
	assert.InDelta(t, 0.8+420.0/3600, d.AllowedKm, 1e-9)
}

func TestGuard_BackwardsTimestampClamped(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(10, at(5000))

	d := g.Check(10.5, at(0))
	assert.Equal(t, Accepted, d.Outcome)
}

func TestGuard_ToleranceGrowsWithTimeFromBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelockAfterSec = 0
	g := New(cfg)
	g.Check(50, at(0))
	assert.Equal(t, Rejected, g.Check(60, at(1000)).Outcome)

	// 10 km needs (10-0.8)/420*3600 = 78.9 s from the base.
	assert.Equal(t, Rejected, g.Check(60, at(60_000)).Outcome)
	assert.Equal(t, Rearmed, g.Check(60, at(80_000)).Outcome)
}

func TestGuard_RelockOnStableNewPosition(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(50, at(0))

	assert.Equal(t, Rejected, g.Check(70, at(1000)).Outcome)
	assert.Equal(t, Rejected, g.Check(70.02, at(6000)).Outcome)
	assert.Equal(t, Rejected, g.Check(70.04, at(11_000)).Outcome)

	d := g.Check(70.06, at(16_000))
	assert.Equal(t, Relocked, d.Outcome)
	assert.False(t, g.Active())
	pk, _, _ := g.LastAccepted()
	assert.Equal(t, 70.06, pk)
}

func TestGuard_NoRelockWhileCandidatesScatter(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(50, at(0))

	g.Check(70, at(1000))
	g.Check(90, at(16_000))
	d := g.Check(70, at(17_000))
	assert.Equal(t, Rejected, d.Outcome)
	assert.True(t, g.Active())
}

func TestGuard_RelockDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelockAfterSec = 0
	g := New(cfg)
	g.Check(50, at(0))
	g.Check(70, at(1000))

	assert.Equal(t, Rejected, g.Check(70, at(20_000)).Outcome)
}

func TestGuard_RelockAcceptsIncomparablePK(t *testing.T) {
	g := New(DefaultConfig())
	assert.Equal(t, FirstFix, g.Relock(490, at(0)).Outcome)

	g.Check(700, at(1000))
	require.True(t, g.Active())

	d := g.Relock(0.1, at(2000))
	assert.Equal(t, Relocked, d.Outcome)
	assert.Equal(t, 0.1, d.PK)
	assert.False(t, g.Active())

	// The new value is the reference from now on.
	assert.Equal(t, Accepted, g.Check(0.12, at(3000)).Outcome)
}

func TestGuard_Reset(t *testing.T) {
	g := New(DefaultConfig())
	g.Check(50, at(0))
	g.Check(70, at(1000))
	g.Reset()

	assert.False(t, g.Active())
	_, _, ok := g.LastAccepted()
	assert.False(t, ok)
	assert.Equal(t, FirstFix, g.Check(70, at(2000)).Outcome)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "rejected_jump", Rejected.String())
	assert.Equal(t, "relocked", Relocked.String())
	assert.Equal(t, "guarding", Guarding.String())
}
