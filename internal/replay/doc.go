// Package replay re-injects a recorded fix sequence through the live
// pipeline on a virtual clock.
//
// Each record's virtual timestamp is
//
//	simTs = wallStart + (recordedTs - firstRecordedTs)
//
// and the engine waits (simTs[i] - simTs[i-1]) / speed of wall time before
// feeding it. Watchdog ticks are injected every TickInterval of virtual
// time instead of coming from the wall clock, so two replays of the same
// records publish the same position_state sequence regardless of how fast
// the host runs them.
//
// A Session may carry a Control to pause, seek or change speed while the
// replay runs. Seeking resets the pipeline's tracking state, so the
// published sequence then depends on when the commands arrived.
package replay
