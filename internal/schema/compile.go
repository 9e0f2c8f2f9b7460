package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/store"
)

// Relation is one compiled declaration.
type Relation struct {
	Scheme ir.Scheme
	Rows   []ir.IRObject
	Pos    token.Pos
}

// Schema is the set of relations of one document, in declaration order.
type Schema struct {
	Relations []Relation
}

// Schemes returns every relation scheme.
func (s *Schema) Schemes() []ir.Scheme {
	out := make([]ir.Scheme, len(s.Relations))
	for i, r := range s.Relations {
		out[i] = r.Scheme
	}
	return out
}

// Relation looks up a relation by name.
func (s *Schema) Relation(name string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Scheme.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Seed returns the declared rows as a snapshot.
func (s *Schema) Seed() (*store.Snapshot, error) {
	rows := make(map[string][]ir.IRObject, len(s.Relations))
	for _, r := range s.Relations {
		rows[r.Scheme.Name] = r.Rows
	}
	return store.NewSnapshot(s.Schemes(), rows)
}

// CompileString compiles CUE source. filename is used in positions.
func CompileString(src, filename string) (*Schema, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// Compile extracts every relation under the top-level "relation" field.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	relVal := v.LookupPath(cue.ParsePath("relation"))
	if !relVal.Exists() {
		return nil, &CompileError{
			Field:   "relation",
			Message: "no relations declared",
			Pos:     v.Pos(),
		}
	}

	iter, err := relVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	schema := &Schema{}
	seen := make(map[string]bool)
	for iter.Next() {
		rel, err := CompileRelation(iter.Value())
		if err != nil {
			return nil, err
		}
		if seen[rel.Scheme.Name] {
			return nil, &CompileError{
				Field:   "relation." + rel.Scheme.Name,
				Message: "duplicate relation",
				Pos:     rel.Pos,
			}
		}
		seen[rel.Scheme.Name] = true
		schema.Relations = append(schema.Relations, *rel)
	}
	return schema, nil
}

// CompileRelation parses one relation struct. The relation name is the
// struct's label, e.g. the value at path relation.person.
func CompileRelation(v cue.Value) (*Relation, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rel := &Relation{Pos: v.Pos()}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rel.Scheme.Name = labels[len(labels)-1].Unquoted()
	}
	field := "relation." + rel.Scheme.Name

	attrs, err := parseAttributes(v, field)
	if err != nil {
		return nil, err
	}
	rel.Scheme.Attributes = attrs

	key, err := parseKey(v, field)
	if err != nil {
		return nil, err
	}
	rel.Scheme.Key = key

	if err := rel.Scheme.Validate(); err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}

	rows, err := parseRows(v, rel.Scheme, field)
	if err != nil {
		return nil, err
	}
	rel.Rows = rows

	if _, err := store.NewSnapshot([]ir.Scheme{rel.Scheme}, map[string][]ir.IRObject{rel.Scheme.Name: rows}); err != nil {
		return nil, &CompileError{Field: field + ".rows", Message: err.Error(), Pos: v.Pos()}
	}
	return rel, nil
}

// parseAttributes reads the attribute struct in declaration order.
func parseAttributes(v cue.Value, field string) ([]ir.Attribute, error) {
	attrVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrVal.Exists() {
		return nil, &CompileError{
			Field:   field + ".attributes",
			Message: "attributes are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := attrVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var attrs []ir.Attribute
	for iter.Next() {
		typ, err := extractType(iter.Value(), field+".attributes."+iter.Label())
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, ir.Attribute{Name: iter.Label(), Type: typ})
	}
	return attrs, nil
}

// extractType accepts a type name string or a bare CUE kind.
func extractType(v cue.Value, field string) (ir.AttrType, error) {
	if name, err := v.String(); err == nil {
		t := ir.AttrType(name)
		if !t.Valid() {
			return "", &CompileError{
				Field:   field,
				Message: fmt.Sprintf("unknown type %q (want string, int or bool)", name),
				Pos:     v.Pos(),
			}
		}
		return t, nil
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		return ir.TypeString, nil
	case cue.IntKind:
		return ir.TypeInt, nil
	case cue.BoolKind:
		return ir.TypeBool, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   field,
			Message: "float types are forbidden; use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func parseKey(v cue.Value, field string) ([]string, error) {
	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return nil, &CompileError{
			Field:   field + ".key",
			Message: "key is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := keyVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var key []string
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		key = append(key, name)
	}
	return key, nil
}

func parseRows(v cue.Value, scheme ir.Scheme, field string) ([]ir.IRObject, error) {
	rowsVal := v.LookupPath(cue.ParsePath("rows"))
	if !rowsVal.Exists() {
		return nil, nil
	}

	iter, err := rowsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rows []ir.IRObject
	for i := 0; iter.Next(); i++ {
		rowField := fmt.Sprintf("%s.rows[%d]", field, i)
		row, err := parseRow(iter.Value(), rowField)
		if err != nil {
			return nil, err
		}
		if err := scheme.ValidateRow(row); err != nil {
			return nil, &CompileError{Field: rowField, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(v cue.Value, field string) (ir.IRObject, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	row := make(ir.IRObject)
	for iter.Next() {
		val, err := extractValue(iter.Value(), field+"."+iter.Label())
		if err != nil {
			return nil, err
		}
		row[iter.Label()] = val
	}
	return row, nil
}

func extractValue(v cue.Value, field string) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.FloatKind:
		return nil, &CompileError{Field: field, Message: "floats are not allowed", Pos: v.Pos()}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected a concrete string, int or bool, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
