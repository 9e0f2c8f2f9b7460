package ir

import (
	"fmt"
	"strings"
)

// AttrType is the declared type of a relation attribute.
type AttrType string

const (
	TypeString AttrType = "string"
	TypeInt    AttrType = "int"
	TypeBool   AttrType = "bool"
)

// Valid reports whether t is one of the supported attribute types.
func (t AttrType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeBool:
		return true
	}
	return false
}

// Accepts reports whether v is a value of type t.
func (t AttrType) Accepts(v IRValue) bool {
	switch t {
	case TypeString:
		_, ok := v.(IRString)
		return ok
	case TypeInt:
		_, ok := v.(IRInt)
		return ok
	case TypeBool:
		_, ok := v.(IRBool)
		return ok
	}
	return false
}

// Attribute is one named, typed column of a relation.
type Attribute struct {
	Name string   `json:"name"`
	Type AttrType `json:"type"`
}

// Scheme describes a relation: its attributes and the attributes forming
// its primary key. Attributes are kept in declaration order.
type Scheme struct {
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
	Key        []string    `json:"key"`
}

// Attribute looks up an attribute by name.
func (s Scheme) Attribute(name string) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// IsKey reports whether name is part of the primary key.
func (s Scheme) IsKey(name string) bool {
	for _, k := range s.Key {
		if k == name {
			return true
		}
	}
	return false
}

// AttributeNames returns attribute names in declaration order.
func (s Scheme) AttributeNames() []string {
	names := make([]string, len(s.Attributes))
	for i, a := range s.Attributes {
		names[i] = a.Name
	}
	return names
}

// Validate checks that the scheme itself is well formed.
func (s Scheme) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("relation name is required")
	}
	if len(s.Attributes) == 0 {
		return fmt.Errorf("relation %q: at least one attribute is required", s.Name)
	}
	seen := make(map[string]bool, len(s.Attributes))
	for _, a := range s.Attributes {
		if a.Name == "" {
			return fmt.Errorf("relation %q: attribute name is required", s.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("relation %q: duplicate attribute %q", s.Name, a.Name)
		}
		seen[a.Name] = true
		if !a.Type.Valid() {
			return fmt.Errorf("relation %q: attribute %q has unknown type %q", s.Name, a.Name, a.Type)
		}
	}
	if len(s.Key) == 0 {
		return fmt.Errorf("relation %q: key is required", s.Name)
	}
	for _, k := range s.Key {
		if !seen[k] {
			return fmt.Errorf("relation %q: key attribute %q is not declared", s.Name, k)
		}
	}
	return nil
}

// ValidateRow checks that row has exactly the scheme's attributes with
// values of the declared types.
func (s Scheme) ValidateRow(row IRObject) error {
	for _, a := range s.Attributes {
		v, ok := row[a.Name]
		if !ok {
			return fmt.Errorf("relation %q: missing attribute %q", s.Name, a.Name)
		}
		if !a.Type.Accepts(v) {
			return fmt.Errorf("relation %q: attribute %q expects %s, got %T", s.Name, a.Name, a.Type, v)
		}
	}
	for _, name := range row.SortedKeys() {
		if _, ok := s.Attribute(name); !ok {
			return fmt.Errorf("relation %q: unknown attribute %q", s.Name, name)
		}
	}
	return nil
}

// ValidateSet checks a partial row used as the SET clause of an update.
// Key attributes may be set; stores re-key the updated rows.
func (s Scheme) ValidateSet(set IRObject) error {
	if len(set) == 0 {
		return fmt.Errorf("relation %q: update sets no attributes", s.Name)
	}
	for _, name := range set.SortedKeys() {
		a, ok := s.Attribute(name)
		if !ok {
			return fmt.Errorf("relation %q: unknown attribute %q", s.Name, name)
		}
		if !a.Type.Accepts(set[name]) {
			return fmt.Errorf("relation %q: attribute %q expects %s, got %T", s.Name, name, a.Type, set[name])
		}
	}
	return nil
}

// RowKey returns the canonical identity of row under scheme: the canonical
// JSON array of its key values in key order.
func RowKey(s Scheme, row IRObject) (string, error) {
	key := make(IRArray, len(s.Key))
	for i, k := range s.Key {
		v, ok := row[k]
		if !ok {
			return "", fmt.Errorf("relation %q: row has no key attribute %q", s.Name, k)
		}
		key[i] = v
	}
	b, err := MarshalCanonical(key)
	if err != nil {
		return "", fmt.Errorf("relation %q: encode key: %w", s.Name, err)
	}
	return string(b), nil
}

// CompareRows orders rows by their key attributes. Integers compare
// numerically, strings by bytes and false sorts before true, which is the
// order SQLite produces for ORDER BY ... COLLATE BINARY.
func CompareRows(s Scheme, a, b IRObject) int {
	for _, k := range s.Key {
		if c := compareValues(a[k], b[k]); c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b IRValue) int {
	switch av := a.(type) {
	case IRInt:
		if bv, ok := b.(IRInt); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case IRString:
		if bv, ok := b.(IRString); ok {
			return strings.Compare(string(av), string(bv))
		}
	case IRBool:
		if bv, ok := b.(IRBool); ok {
			switch {
			case av == bv:
				return 0
			case !bool(av):
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}
