// Package quality decides, fix by fix and tick by tick, how far the live
// position can be trusted.
//
// The Machine has three levels:
//
//	NoFix ──▶ Degraded ──▶ Trusted
//
// Trusted requires a fix that is on track, fresh, moving (or recently
// moved) and not held back by the jump guard. Anything short of that is
// Degraded, and Degraded escalates to NoFix when it lasts longer than the
// orange timeout. The machine is evaluated both when a fix arrives and on a
// periodic watchdog tick, so a silent receiver decays on its own.
//
// Only Trusted makes the live position the reference source; every other
// level falls back to the schedule clock.
package quality
