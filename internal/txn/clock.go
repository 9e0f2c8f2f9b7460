package txn

import "sync/atomic"

// Sequencer hands out commit sequence numbers.
// Implemented by Clock (production) and testutil.DeterministicClock (tests).
type Sequencer interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock for commit ordering.
//
// Every commit and restore is stamped with a strictly increasing seq number.
// This ensures:
// - Deterministic ordering (no wall-clock race conditions)
// - Observers can discard events older than state they already hold
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
