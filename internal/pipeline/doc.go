// Package pipeline is the single owner of the live position state.
//
// Fixes (live or replayed), watchdog ticks and control messages all arrive
// on one bounded channel and are handled in order by the goroutine running
// Pipeline.Run. The jump guard, the quality machine and the direction
// tracker are only touched from that goroutine, so none of them needs a
// lock: ordering is the correctness mechanism.
//
// Thread-safety model:
//   - SubmitFix, SetExpectedDirection, ClearRun, Reset, Stats and the
//     replay controls: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// Per fix the owner goroutine projects onto the ribbon, decides on-track,
// filters the PK through the jump guard, feeds accepted PKs to the quality
// machine and the direction tracker, then evaluates the quality machine and
// publishes through the throttle. A tick only evaluates.
package pipeline
