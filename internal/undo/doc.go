// Package undo keeps the undo and redo stacks of one store.
//
// Entries come from committed transactions (txn.Entry). Undo restores an
// entry's before snapshot and Redo its after snapshot, both as
// non-undoable restores through the coordinator, so they are ordered with
// every other queued write.
//
// Transient entries (intermediate states of one user action, such as the
// keystrokes of a text edit) coalesce into a pending group that becomes a
// single undo step once it is closed by a non-transient entry with the same
// label, an entry with a different label, Flush, or Undo.
package undo
