// Package clock provides the time primitives used by the position pipeline.
//
// Three things live here:
//
//   - Seq: a monotonic logical counter stamping every published event.
//     Ordering of events is always by Seq, never by wall time, so a replay
//     produces the same sequence regardless of how fast it runs.
//   - Clock: the source of wall time and waiting. Production code uses Wall;
//     tests substitute testutil.ManualClock so nothing actually sleeps.
//   - Timer: an explicit arm/cancel/elapsed abstraction over a "started at"
//     instant. Hysteresis timers in the quality state machine are Timers,
//     which keeps every start and stop visible at the call site.
package clock
