package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
)

// tables maps relation name to rows keyed by ir.RowKey.
type tables map[string]map[string]ir.IRObject

func (t tables) clone() tables {
	out := make(tables, len(t))
	for name, rows := range t {
		cp := make(map[string]ir.IRObject, len(rows))
		for k, r := range rows {
			cp[k] = r
		}
		out[name] = cp
	}
	return out
}

// Memory is an in-process Store. Committed state is replaced wholesale on
// commit, so readers see either the pre-commit or post-commit content.
type Memory struct {
	schemes []ir.Scheme
	byName  map[string]ir.Scheme

	mu      sync.RWMutex
	data    tables
	version uint64
	cached  *Snapshot
	closed  bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store holding the given relations.
func NewMemory(schemes ...ir.Scheme) (*Memory, error) {
	byName, err := validateSchemes(schemes)
	if err != nil {
		return nil, err
	}
	data := make(tables, len(schemes))
	for _, s := range schemes {
		data[s.Name] = make(map[string]ir.IRObject)
	}
	return &Memory{
		schemes: slices.Clone(schemes),
		byName:  byName,
		data:    data,
	}, nil
}

// Schemes returns the store's relations.
func (m *Memory) Schemes() []ir.Scheme {
	return slices.Clone(m.schemes)
}

// Query reads committed rows.
func (m *Memory) Query(ctx context.Context, sel queryir.Select) ([]ir.IRObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.query(m.data, sel)
}

func (m *Memory) query(data tables, sel queryir.Select) ([]ir.IRObject, error) {
	scheme, ok := m.byName[sel.From]
	if !ok {
		return nil, fmt.Errorf("unknown relation %q", sel.From)
	}
	if err := queryir.Validate(sel, scheme); err != nil {
		return nil, err
	}
	var out []ir.IRObject
	for _, r := range data[sel.From] {
		if queryir.Matches(sel.Filter, r) {
			out = append(out, queryir.Project(scheme, r, sel.Attributes))
		}
	}
	slices.SortFunc(out, func(a, b ir.IRObject) int { return ir.CompareRows(scheme, a, b) })
	return out, nil
}

// Snapshot captures committed content. Snapshots are cached per version.
func (m *Memory) Snapshot(ctx context.Context) (*Snapshot, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	if snap := m.cached; snap != nil {
		m.mu.RUnlock()
		return snap, nil
	}
	version, data := m.version, m.data
	m.mu.RUnlock()

	snap, err := NewSnapshot(m.schemes, flatten(data))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.version == version {
		m.cached = snap
	}
	m.mu.Unlock()
	return snap, nil
}

func flatten(data tables) map[string][]ir.IRObject {
	out := make(map[string][]ir.IRObject, len(data))
	for name, rows := range data {
		list := make([]ir.IRObject, 0, len(rows))
		for _, r := range rows {
			list = append(list, r)
		}
		out[name] = list
	}
	return out
}

// Restore replaces the content of every relation in the snapshot.
// Relations the snapshot does not cover are left untouched.
func (m *Memory) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	next := make(tables)
	for _, s := range snap.Schemes() {
		own, ok := m.byName[s.Name]
		if !ok {
			return fmt.Errorf("restore: unknown relation %q", s.Name)
		}
		if !sameScheme(own, s) {
			return fmt.Errorf("restore: relation %q scheme differs from store", s.Name)
		}
		rows := make(map[string]ir.IRObject, snap.Len(s.Name))
		for _, r := range snap.Rows(s.Name) {
			key, err := ir.RowKey(own, r)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			rows[key] = r
		}
		next[s.Name] = rows
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	data := m.data.clone()
	for name, rows := range next {
		data[name] = rows
	}
	m.data = data
	m.version++
	m.cached = nil
	if len(next) == len(m.schemes) {
		m.cached = snap
	}
	return nil
}

// Begin opens a write transaction over a private copy of the current state.
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memoryTx{store: m, base: m.version, data: m.data}, nil
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memoryTx copies committed tables on first write.
type memoryTx struct {
	store  *Memory
	base   uint64
	data   tables
	copied bool
	done   bool
}

func (tx *memoryTx) Query(ctx context.Context, sel queryir.Select) ([]ir.IRObject, error) {
	if tx.done {
		return nil, fmt.Errorf("transaction already finished")
	}
	return tx.store.query(tx.data, sel)
}

func (tx *memoryTx) Mutate(ctx context.Context, mut queryir.Mutation) (int64, error) {
	if tx.done {
		return 0, fmt.Errorf("transaction already finished")
	}
	scheme, ok := tx.store.byName[queryir.Target(mut)]
	if !ok {
		return 0, rejectf("unknown relation %q", queryir.Target(mut))
	}
	if err := queryir.ValidateMutation(mut, scheme); err != nil {
		return 0, rejectf("%v", err)
	}
	if !tx.copied {
		tx.data = tx.data.clone()
		tx.copied = true
	}
	rows := tx.data[scheme.Name]

	switch mu := mut.(type) {
	case queryir.Insert:
		key, err := ir.RowKey(scheme, mu.Row)
		if err != nil {
			return 0, rejectf("%v", err)
		}
		if _, exists := rows[key]; exists {
			return 0, rejectf("relation %q: duplicate key %s", scheme.Name, key)
		}
		rows[key] = mu.Row.Clone()
		return 1, nil
	case queryir.Update:
		updated := make(map[string]ir.IRObject)
		for key, r := range rows {
			if !queryir.Matches(mu.Filter, r) {
				continue
			}
			next := r.Clone()
			for attr, v := range mu.Set {
				next[attr] = v
			}
			updated[key] = next
		}
		rekey := false
		for attr := range mu.Set {
			rekey = rekey || scheme.IsKey(attr)
		}
		if !rekey {
			for key, r := range updated {
				rows[key] = r
			}
			return int64(len(updated)), nil
		}
		for key := range updated {
			delete(rows, key)
		}
		for _, r := range updated {
			key, err := ir.RowKey(scheme, r)
			if err != nil {
				return 0, rejectf("%v", err)
			}
			if _, exists := rows[key]; exists {
				return 0, rejectf("relation %q: duplicate key %s", scheme.Name, key)
			}
			rows[key] = r
		}
		return int64(len(updated)), nil
	case queryir.Delete:
		var n int64
		for key, r := range rows {
			if queryir.Matches(mu.Filter, r) {
				delete(rows, key)
				n++
			}
		}
		return n, nil
	default:
		return 0, rejectf("unsupported mutation %T", mut)
	}
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	if !tx.copied {
		return nil
	}
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.version != tx.base {
		return ErrConflict
	}
	m.data = tx.data
	m.version++
	m.cached = nil
	return nil
}

func (tx *memoryTx) Rollback() error {
	tx.done = true
	tx.data = nil
	return nil
}
