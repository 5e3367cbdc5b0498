package testutil

// FixedRunIDs generates the same run ID every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same session replayed with FixedRunIDs produces byte-identical event
// logs.
//
// Thread-safety: FixedRunIDs is stateless and safe for concurrent use.
type FixedRunIDs struct {
	id string
}

// NewFixedRunIDs creates a fixed run ID generator.
// If id is empty, Generate() returns "test-run-default".
func NewFixedRunIDs(id string) *FixedRunIDs {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDs{id: id}
}

// Generate returns the fixed run ID.
//
// Implements pipeline.RunIDGenerator.
func (g *FixedRunIDs) Generate() string {
	return g.id
}
