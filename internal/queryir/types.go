package queryir

import "github.com/roach88/relbind/internal/ir"

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
// A nil Predicate matches every row.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select reads rows of one relation.
//
// Semantics:
//
//	SELECT <attributes> FROM <from> WHERE <filter> ORDER BY <key>
//
// Empty Attributes selects every attribute of the scheme. Key attributes
// are always returned so rows keep their identity.
type Select struct {
	From       string
	Filter     Predicate
	Attributes []string
}

// Equals is true when the attribute equals the literal value.
type Equals struct {
	Attr  string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// In is true when the attribute equals any of the values.
// An empty In matches nothing.
type In struct {
	Attr   string
	Values []ir.IRValue
}

func (In) predicateNode() {}

// And is true when every predicate is true (empty = always true).
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Mutation is a single write against one relation. Sealed.
type Mutation interface {
	mutationNode()
}

// Insert adds a complete row. Inserting an existing key is rejected.
type Insert struct {
	Relation string
	Row      ir.IRObject
}

func (Insert) mutationNode() {}

// Update assigns Set to every row matching Filter.
type Update struct {
	Relation string
	Filter   Predicate
	Set      ir.IRObject
}

func (Update) mutationNode() {}

// Delete removes every row matching Filter.
type Delete struct {
	Relation string
	Filter   Predicate
}

func (Delete) mutationNode() {}

// Target returns the relation a mutation writes to.
func Target(m Mutation) string {
	switch mut := m.(type) {
	case Insert:
		return mut.Relation
	case Update:
		return mut.Relation
	case Delete:
		return mut.Relation
	}
	return ""
}

// Eq is shorthand for an Equals predicate.
func Eq(attr string, value ir.IRValue) Equals {
	return Equals{Attr: attr, Value: value}
}

// KeyFilter builds a predicate selecting exactly the row with row's key.
func KeyFilter(scheme ir.Scheme, row ir.IRObject) Predicate {
	preds := make([]Predicate, 0, len(scheme.Key))
	for _, k := range scheme.Key {
		preds = append(preds, Equals{Attr: k, Value: row[k]})
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return And{Predicates: preds}
}
