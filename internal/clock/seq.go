package clock

import "sync/atomic"

// Seq is a monotonic logical clock for event ordering.
//
// Thread-safety: Seq is safe for concurrent use (atomic operations).
// However, the pipeline's single-owner design means only one goroutine
// typically calls Next().
type Seq struct {
	n atomic.Int64
}

// NewSeq creates a new sequence starting at 0.
func NewSeq() *Seq {
	return &Seq{}
}

// NewSeqAt creates a sequence starting at a specific value.
// Used when appending to a persisted run.
func NewSeqAt(start int64) *Seq {
	s := &Seq{}
	s.n.Store(start)
	return s
}

// Next returns the next sequence number and increments the counter.
func (s *Seq) Next() int64 {
	return s.n.Add(1)
}

// Current returns the current sequence number without incrementing.
func (s *Seq) Current() int64 {
	return s.n.Load()
}

// Reset rewinds the sequence to 0. The next call to Next returns 1.
func (s *Seq) Reset() {
	s.n.Store(0)
}
