package store

import (
	"fmt"
	"slices"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
)

// Snapshot is an immutable, content-addressed copy of a store.
type Snapshot struct {
	schemes   []ir.Scheme
	rows      map[string][]ir.IRObject
	digests   map[string]string
	digest    string
	canonical []byte
}

// NewSnapshot builds a snapshot from rows per relation. Rows are validated
// against their scheme, sorted by key and checked for duplicate keys.
// Relations without an entry in rows are empty.
func NewSnapshot(schemes []ir.Scheme, rows map[string][]ir.IRObject) (*Snapshot, error) {
	byName, err := validateSchemes(schemes)
	if err != nil {
		return nil, err
	}
	for name := range rows {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("snapshot: unknown relation %q", name)
		}
	}

	snap := &Snapshot{
		schemes: slices.Clone(schemes),
		rows:    make(map[string][]ir.IRObject, len(schemes)),
		digests: make(map[string]string, len(schemes)),
	}
	whole := make(ir.IRObject, len(schemes))
	for _, s := range schemes {
		sorted := make([]ir.IRObject, 0, len(rows[s.Name]))
		for _, r := range rows[s.Name] {
			if err := s.ValidateRow(r); err != nil {
				return nil, fmt.Errorf("snapshot: %w", err)
			}
			sorted = append(sorted, r.Clone())
		}
		slices.SortFunc(sorted, func(a, b ir.IRObject) int { return ir.CompareRows(s, a, b) })
		for i := 1; i < len(sorted); i++ {
			if ir.CompareRows(s, sorted[i-1], sorted[i]) == 0 {
				key, _ := ir.RowKey(s, sorted[i])
				return nil, fmt.Errorf("snapshot: relation %q has duplicate key %s", s.Name, key)
			}
		}

		arr := make(ir.IRArray, len(sorted))
		for i, r := range sorted {
			arr[i] = r
		}
		relBytes, err := ir.MarshalCanonical(arr)
		if err != nil {
			return nil, fmt.Errorf("snapshot: relation %q: %w", s.Name, err)
		}
		snap.rows[s.Name] = sorted
		snap.digests[s.Name] = ir.Digest(ir.DomainRow, relBytes)
		whole[s.Name] = arr
	}

	canonical, err := ir.MarshalCanonical(whole)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	snap.canonical = canonical
	snap.digest = ir.Digest(ir.DomainSnapshot, canonical)
	return snap, nil
}

// Digest returns the content digest (hex SHA-256).
func (s *Snapshot) Digest() string {
	if s == nil {
		return ""
	}
	return s.digest
}

// Relations returns relation names in declaration order.
func (s *Snapshot) Relations() []string {
	names := make([]string, len(s.schemes))
	for i, sc := range s.schemes {
		names[i] = sc.Name
	}
	return names
}

// Schemes returns the relation schemes the snapshot covers.
func (s *Snapshot) Schemes() []ir.Scheme {
	return slices.Clone(s.schemes)
}

// Scheme looks up one relation scheme.
func (s *Snapshot) Scheme(name string) (ir.Scheme, bool) {
	for _, sc := range s.schemes {
		if sc.Name == name {
			return sc, true
		}
	}
	return ir.Scheme{}, false
}

// Rows returns a copy of a relation's rows in key order.
func (s *Snapshot) Rows(relation string) []ir.IRObject {
	src := s.rows[relation]
	out := make([]ir.IRObject, len(src))
	for i, r := range src {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of rows in a relation.
func (s *Snapshot) Len(relation string) int {
	return len(s.rows[relation])
}

// Query evaluates a Select against the snapshot in memory.
func (s *Snapshot) Query(sel queryir.Select) ([]ir.IRObject, error) {
	scheme, ok := s.Scheme(sel.From)
	if !ok {
		return nil, fmt.Errorf("unknown relation %q", sel.From)
	}
	if err := queryir.Validate(sel, scheme); err != nil {
		return nil, err
	}
	var out []ir.IRObject
	for _, r := range s.rows[sel.From] {
		if queryir.Matches(sel.Filter, r) {
			out = append(out, queryir.Project(scheme, r, sel.Attributes))
		}
	}
	return out, nil
}

// Equal reports whether two snapshots hold identical content.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.digest == other.digest
}

// Canonical returns the canonical JSON the digest is computed over:
// an object keyed by relation name holding each relation's rows.
func (s *Snapshot) Canonical() []byte {
	return slices.Clone(s.canonical)
}

// ChangedRelations lists relations whose content differs between a and b,
// in b's declaration order. Relations present in only one side count as
// changed. A nil side is treated as empty.
func ChangedRelations(a, b *Snapshot) []string {
	var changed []string
	seen := make(map[string]bool)
	if b != nil {
		for _, name := range b.Relations() {
			seen[name] = true
			if a == nil {
				if b.Len(name) > 0 {
					changed = append(changed, name)
				}
				continue
			}
			da, ok := a.digests[name]
			if !ok || da != b.digests[name] {
				changed = append(changed, name)
			}
		}
	}
	if a != nil {
		for _, name := range a.Relations() {
			if !seen[name] && (b != nil || a.Len(name) > 0) {
				changed = append(changed, name)
			}
		}
	}
	return changed
}
