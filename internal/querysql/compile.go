package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
)

// Compiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: every SELECT includes ORDER BY over the relation key for
// deterministic results.
// CRITICAL: all values are parameterized, never interpolated.
type Compiler struct {
	schemes map[string]ir.Scheme
}

// NewCompiler creates a Compiler for the given relations.
func NewCompiler(schemes ...ir.Scheme) *Compiler {
	c := &Compiler{schemes: make(map[string]ir.Scheme, len(schemes))}
	for _, s := range schemes {
		c.schemes[s.Name] = s
	}
	return c
}

func (c *Compiler) scheme(name string) (ir.Scheme, error) {
	s, ok := c.schemes[name]
	if !ok {
		return ir.Scheme{}, fmt.Errorf("unknown relation %q", name)
	}
	return s, nil
}

// Select compiles a Select. The returned columns are the attributes the
// SELECT list produces, in order, for the caller's row scanner.
func (c *Compiler) Select(q queryir.Select) (sql string, params []any, columns []string, err error) {
	s, err := c.scheme(q.From)
	if err != nil {
		return "", nil, nil, err
	}
	if err := queryir.Validate(q, s); err != nil {
		return "", nil, nil, err
	}
	columns = queryir.Columns(s, q.Attributes)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(quoteList(columns))
	b.WriteString(" FROM ")
	b.WriteString(Quote(s.Name))
	if q.Filter != nil {
		where, whereParams, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = whereParams
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderKey(s))
	return b.String(), params, columns, nil
}

// Mutation compiles an Insert, Update or Delete.
func (c *Compiler) Mutation(m queryir.Mutation) (string, []any, error) {
	s, err := c.scheme(queryir.Target(m))
	if err != nil {
		return "", nil, err
	}
	if err := queryir.ValidateMutation(m, s); err != nil {
		return "", nil, err
	}

	switch mut := m.(type) {
	case queryir.Insert:
		return compileInsert(s, mut.Row)
	case queryir.Update:
		return compileUpdate(s, mut)
	case queryir.Delete:
		return compileDelete(s, mut.Filter)
	default:
		return "", nil, fmt.Errorf("unsupported mutation type: %T", m)
	}
}

// CreateTable returns STRICT table DDL for a scheme.
// Booleans are INTEGER columns restricted to 0 and 1.
func CreateTable(s ir.Scheme) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(Quote(s.Name))
	b.WriteString(" (")
	for i, a := range s.Attributes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(Quote(a.Name))
		switch a.Type {
		case ir.TypeString:
			b.WriteString(" TEXT NOT NULL")
		case ir.TypeInt:
			b.WriteString(" INTEGER NOT NULL")
		case ir.TypeBool:
			b.WriteString(" INTEGER NOT NULL CHECK (")
			b.WriteString(Quote(a.Name))
			b.WriteString(" IN (0, 1))")
		}
	}
	b.WriteString(", PRIMARY KEY (")
	b.WriteString(quoteList(s.Key))
	b.WriteString(")) STRICT")
	return b.String()
}

// Quote quotes an SQL identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = Quote(id)
	}
	return strings.Join(quoted, ", ")
}

// orderKey returns the ORDER BY clause body for a relation.
// COLLATE BINARY ensures deterministic text ordering across SQLite versions.
func orderKey(s ir.Scheme) string {
	parts := make([]string, len(s.Key))
	for i, k := range s.Key {
		parts[i] = Quote(k) + " COLLATE BINARY ASC"
	}
	return strings.Join(parts, ", ")
}

func compileInsert(s ir.Scheme, row ir.IRObject) (string, []any, error) {
	cols := s.AttributeNames()
	params := make([]any, len(cols))
	for i, col := range cols {
		p, err := ToParam(row[col])
		if err != nil {
			return "", nil, fmt.Errorf("attribute %q: %w", col, err)
		}
		params[i] = p
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Quote(s.Name), quoteList(cols), placeholders)
	return sql, params, nil
}

func compileUpdate(s ir.Scheme, u queryir.Update) (string, []any, error) {
	var sets []string
	var params []any
	// Scheme order keeps the generated SQL stable.
	for _, a := range s.Attributes {
		v, ok := u.Set[a.Name]
		if !ok {
			continue
		}
		p, err := ToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		sets = append(sets, Quote(a.Name)+" = ?")
		params = append(params, p)
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", Quote(s.Name), strings.Join(sets, ", "))
	if u.Filter != nil {
		where, whereParams, err := compilePredicate(u.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sql += " WHERE " + where
		params = append(params, whereParams...)
	}
	return sql, params, nil
}

func compileDelete(s ir.Scheme, filter queryir.Predicate) (string, []any, error) {
	sql := "DELETE FROM " + Quote(s.Name)
	if filter == nil {
		return sql, nil, nil
	}
	where, params, err := compilePredicate(filter)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	return sql + " WHERE " + where, params, nil
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
// CRITICAL: values NEVER interpolated - always use ? placeholders.
func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		param, err := ToParam(pred.Value)
		if err != nil {
			return "", nil, fmt.Errorf("attribute %q: %w", pred.Attr, err)
		}
		return Quote(pred.Attr) + " = ?", []any{param}, nil
	case *queryir.Equals:
		return compilePredicate(*pred)
	case queryir.In:
		if len(pred.Values) == 0 {
			return "1 = 0", nil, nil
		}
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			param, err := ToParam(v)
			if err != nil {
				return "", nil, fmt.Errorf("attribute %q: %w", pred.Attr, err)
			}
			params[i] = param
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return Quote(pred.Attr) + " IN (" + placeholders + ")", params, nil
	case *queryir.In:
		return compilePredicate(*pred)
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if _, nested := sub.(queryir.And); nested {
				sql = "(" + sql + ")"
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil
	case *queryir.And:
		return compilePredicate(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// ToParam converts an ir.IRValue to a Go native SQL parameter.
// Booleans become 0 or 1 to satisfy STRICT INTEGER columns.
func ToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}

// FromColumn converts a scanned SQLite column back into an IRValue of the
// declared attribute type. The driver returns TEXT as either string or
// []byte depending on the column affinity path.
func FromColumn(t ir.AttrType, raw any) (ir.IRValue, error) {
	switch t {
	case ir.TypeString:
		switch v := raw.(type) {
		case string:
			return ir.IRString(v), nil
		case []byte:
			return ir.IRString(string(v)), nil
		}
	case ir.TypeInt:
		if v, ok := raw.(int64); ok {
			return ir.IRInt(v), nil
		}
	case ir.TypeBool:
		switch v := raw.(type) {
		case int64:
			return ir.IRBool(v != 0), nil
		case bool:
			return ir.IRBool(v), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", raw, t)
}
