// Package txn implements the transaction coordinator: the single write path
// into a store.
//
// ARCHITECTURE:
//
// Single Transaction Slot:
// At most one transaction is in flight per store. Begin fails fast with
// ErrAlreadyInFlight; BeginWait and the write queue wait for the slot.
//
// Write Queue:
// Submit and Schedule enqueue work onto an unbounded FIFO consumed by one
// writer goroutine, so callers hand writes off without blocking and writes
// apply in submission order.
//
// Change Notifications:
// Every commit and restore produces exactly one ChangeEvent, stamped with a
// logical sequence number. Events are queued while the transaction slot is
// still held and delivered by one dispatcher goroutine, so observers see
// them in commit order.
//
// Transaction Lifecycle:
//  1. Begin captures the before snapshot and opens a store transaction
//  2. Apply runs mutations; a rejection rolls back immediately
//  3. Commit captures the after snapshot and returns an undo Entry
//  4. Restore replaces store content with a snapshot (used by undo/redo)
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Commit sequence numbers come from Clock.Next(), never wall-clock time.
//
// Snapshot Checks:
// Restore verifies the store still matches the snapshot the caller expects
// before replacing content, so out-of-band writes fail loudly.
package txn
