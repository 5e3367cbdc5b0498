// Package trace computes content fingerprints of published event streams.
//
// A trace is the ordered list of events a pipeline published. Two traces
// with the same fingerprint are the same run: same sequence numbers, same
// kinds, same payloads. Wall-clock times are excluded so a replay repeated
// at a different moment fingerprints identically.
//
// Key constraints:
//   - Canonical JSON (RFC 8785 key order, NFC strings, no HTML escaping)
//   - No floats in the canonical form; measurements are integer millionths
//   - No nulls; absent optional values are omitted
package trace
