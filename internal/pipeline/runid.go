package pipeline

import "github.com/google/uuid"

// RunIDGenerator generates run identifiers for persisted sessions.
// Implemented by UUIDv7RunIDs (production) and testutil.FixedRunIDs (tests).
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7RunIDs generates time-sortable UUIDv7 run identifiers, so runs
// listed by ID come out in creation order.
//
// Thread-safety: UUIDv7RunIDs is stateless and safe for concurrent use.
type UUIDv7RunIDs struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7RunIDs) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
