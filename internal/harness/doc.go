// Package harness runs position-pipeline scenarios.
//
// A scenario is a YAML file naming a rail model, a timed list of steps
// (fixes, watchdog ticks, direction changes) and assertions over the events
// the pipeline publishes. Each scenario runs against a fresh pipeline on a
// virtual clock, so a scenario always produces the same trace.
//
// Example:
//
//	name: jump-suppressed
//	description: a single 20 km jump is held back by the jump guard
//	rail: lines/test-line.yaml
//	steps:
//	  - at_ms: 0
//	    fix: {s_km: 10}
//	  - at_ms: 1000
//	    fix: {s_km: 30}
//	assertions:
//	  - type: state_at
//	    at_ms: 1000
//	    state: no_fix
//	    reasons: [jump_guard]
//
// Fix steps give either lat/lon or s_km along the ribbon; offset_m shifts an
// s_km fix north by that many meters to put it off the track.
//
// Traces can be compared against golden files under testdata/golden with
// RunWithGolden.
package harness
