package queryir

import "github.com/roach88/relbind/internal/ir"

// Matches evaluates pred against a row in memory.
// Attributes missing from the row never match.
func Matches(pred Predicate, row ir.IRObject) bool {
	switch p := pred.(type) {
	case nil:
		return true
	case Equals:
		v, ok := row[p.Attr]
		return ok && ir.Equal(v, p.Value)
	case *Equals:
		return Matches(*p, row)
	case In:
		v, ok := row[p.Attr]
		if !ok {
			return false
		}
		for _, candidate := range p.Values {
			if ir.Equal(v, candidate) {
				return true
			}
		}
		return false
	case *In:
		return Matches(*p, row)
	case And:
		for _, sub := range p.Predicates {
			if !Matches(sub, row) {
				return false
			}
		}
		return true
	case *And:
		return Matches(*p, row)
	default:
		return false
	}
}

// Project returns the requested attributes of row plus its key attributes.
// An empty attribute list returns a copy of the whole row.
func Project(scheme ir.Scheme, row ir.IRObject, attrs []string) ir.IRObject {
	if len(attrs) == 0 {
		return row.Clone()
	}
	out := make(ir.IRObject, len(attrs)+len(scheme.Key))
	for _, k := range scheme.Key {
		out[k] = row[k]
	}
	for _, a := range attrs {
		if v, ok := row[a]; ok {
			out[a] = v
		}
	}
	return out
}

// Columns returns the attributes a Select returns in scheme declaration
// order: the key plus the requested attributes, or everything.
func Columns(scheme ir.Scheme, attrs []string) []string {
	if len(attrs) == 0 {
		return scheme.AttributeNames()
	}
	want := make(map[string]bool, len(attrs)+len(scheme.Key))
	for _, k := range scheme.Key {
		want[k] = true
	}
	for _, a := range attrs {
		want[a] = true
	}
	cols := make([]string, 0, len(want))
	for _, a := range scheme.Attributes {
		if want[a.Name] {
			cols = append(cols, a.Name)
		}
	}
	return cols
}
