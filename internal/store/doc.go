// Package store provides SQLite-backed storage for railpos runs.
//
// A run is one live session or one replay. Each run row carries the
// session parameters and, once finished, the replay summary and the trace
// fingerprint. The events table is an append-only log of every event the
// pipeline published during the run.
//
// # Ordering
//
// Events are read back ORDER BY seq ASC. Wall times are stored for display
// only and never used for ordering, so a stored replay reads back in the
// order it was published.
//
// # Idempotency
//
// Writing the same (run_id, seq) twice is a no-op, so a sink retried after a
// transient failure does not duplicate events.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
