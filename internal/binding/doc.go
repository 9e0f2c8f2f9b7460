// Package binding joins a live query (the read path) and a transactional
// mutation (the write path) into one Property a UI control binds to.
//
// Reads never block: Get returns the best-known State, which is refreshed
// from coordinator change events while the property has subscribers.
// Writes are optimistic: Set updates the state at once, then queues the
// mutation on the coordinator, records the resulting undo entry, and
// re-reads the store once no writes are pending.
package binding
