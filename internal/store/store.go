package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
)

var (
	// ErrRejected marks a mutation the store refused: constraint violation,
	// unknown relation or attribute, or a value of the wrong type.
	ErrRejected = errors.New("mutation rejected")

	// ErrConflict is returned by Commit when the store changed underneath
	// the write transaction.
	ErrConflict = errors.New("store changed during transaction")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store closed")
)

// Store is a relational store with snapshot and restore support.
// Reads never observe a partially committed write transaction.
type Store interface {
	// Schemes returns the relations the store holds, in declaration order.
	Schemes() []ir.Scheme

	// Query reads committed rows ordered by key.
	Query(ctx context.Context, sel queryir.Select) ([]ir.IRObject, error)

	// Snapshot captures the committed content of every relation.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Restore atomically replaces store content with the snapshot.
	Restore(ctx context.Context, snap *Snapshot) error

	// Begin opens an isolated write transaction.
	Begin(ctx context.Context) (Tx, error)

	Close() error
}

// Tx is a write transaction. Exactly one of Commit or Rollback ends it.
type Tx interface {
	// Mutate applies one mutation and returns the number of affected rows.
	// Rejections wrap ErrRejected.
	Mutate(ctx context.Context, m queryir.Mutation) (int64, error)

	// Query reads rows including this transaction's uncommitted writes.
	Query(ctx context.Context, sel queryir.Select) ([]ir.IRObject, error)

	Commit() error
	Rollback() error
}

// rejectf wraps a rejection reason with ErrRejected.
func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// validateSchemes rejects malformed or duplicate relation declarations.
func validateSchemes(schemes []ir.Scheme) (map[string]ir.Scheme, error) {
	byName := make(map[string]ir.Scheme, len(schemes))
	for _, s := range schemes {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate relation %q", s.Name)
		}
		byName[s.Name] = s
	}
	return byName, nil
}

// sameScheme reports whether two declarations describe the same relation.
func sameScheme(a, b ir.Scheme) bool {
	return a.Name == b.Name && slices.Equal(a.Key, b.Key) && slices.Equal(a.Attributes, b.Attributes)
}
