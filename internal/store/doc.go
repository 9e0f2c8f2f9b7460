// Package store provides the relational stores the transaction coordinator
// writes through.
//
// Two backends implement the Store interface:
//   - Memory: copy-on-write relations guarded by a RWMutex
//   - SQLite: database/sql with mattn/go-sqlite3, one STRICT table per relation
//
// # Snapshots
//
// A Snapshot is an immutable copy of every relation, rows sorted by key.
// Its digest is SHA-256 over RFC 8785 canonical JSON (internal/ir), so two
// snapshots of equal content have equal digests regardless of backend.
// Restoring a snapshot replaces the content of every relation it holds.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All SELECTs are compiled by internal/querysql and ORDER BY the relation
// key with COLLATE BINARY, matching ir.CompareRows.
package store
