package ir

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personScheme() Scheme {
	return Scheme{
		Name: "person",
		Attributes: []Attribute{
			{Name: "id", Type: TypeInt},
			{Name: "name", Type: TypeString},
			{Name: "editable", Type: TypeBool},
		},
		Key: []string{"id"},
	}
}

func TestSchemeValidate(t *testing.T) {
	require.NoError(t, personScheme().Validate())

	tests := []struct {
		name   string
		mutate func(*Scheme)
		msg    string
	}{
		{"no name", func(s *Scheme) { s.Name = "" }, "name is required"},
		{"no attributes", func(s *Scheme) { s.Attributes = nil }, "at least one attribute"},
		{"duplicate", func(s *Scheme) { s.Attributes = append(s.Attributes, Attribute{Name: "id", Type: TypeInt}) }, "duplicate"},
		{"bad type", func(s *Scheme) { s.Attributes[1].Type = "float" }, "unknown type"},
		{"no key", func(s *Scheme) { s.Key = nil }, "key is required"},
		{"undeclared key", func(s *Scheme) { s.Key = []string{"uuid"} }, "not declared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := personScheme()
			s.Attributes = slices.Clone(s.Attributes)
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidateRow(t *testing.T) {
	s := personScheme()
	ok := IRObject{"id": IRInt(1), "name": IRString("Fred"), "editable": IRBool(true)}
	require.NoError(t, s.ValidateRow(ok))

	missing := IRObject{"id": IRInt(1), "name": IRString("Fred")}
	assert.ErrorContains(t, s.ValidateRow(missing), `missing attribute "editable"`)

	wrongType := IRObject{"id": IRString("1"), "name": IRString("Fred"), "editable": IRBool(true)}
	assert.ErrorContains(t, s.ValidateRow(wrongType), "expects int")

	extra := ok.Clone()
	extra["age"] = IRInt(40)
	assert.ErrorContains(t, s.ValidateRow(extra), `unknown attribute "age"`)
}

func TestValidateSet(t *testing.T) {
	s := personScheme()
	require.NoError(t, s.ValidateSet(IRObject{"name": IRString("Wilma")}))

	assert.ErrorContains(t, s.ValidateSet(IRObject{}), "sets no attributes")
	require.NoError(t, s.ValidateSet(IRObject{"id": IRInt(2)}))
	assert.ErrorContains(t, s.ValidateSet(IRObject{"id": IRString("2")}), "expects int")
	assert.ErrorContains(t, s.ValidateSet(IRObject{"nickname": IRString("x")}), "unknown attribute")
	assert.ErrorContains(t, s.ValidateSet(IRObject{"editable": IRString("yes")}), "expects bool")
}

func TestRowKey(t *testing.T) {
	s := personScheme()
	key, err := RowKey(s, IRObject{"id": IRInt(7), "name": IRString("x")})
	require.NoError(t, err)
	assert.Equal(t, "[7]", key)

	_, err = RowKey(s, IRObject{"name": IRString("x")})
	assert.ErrorContains(t, err, "no key attribute")

	composite := Scheme{
		Name:       "membership",
		Attributes: []Attribute{{Name: "group", Type: TypeString}, {Name: "member", Type: TypeInt}},
		Key:        []string{"group", "member"},
	}
	key, err = RowKey(composite, IRObject{"group": IRString("a"), "member": IRInt(2)})
	require.NoError(t, err)
	assert.Equal(t, `["a",2]`, key)
}

func TestCompareRows(t *testing.T) {
	s := personScheme()
	rows := []IRObject{
		{"id": IRInt(10)},
		{"id": IRInt(9)},
		{"id": IRInt(-1)},
	}
	slices.SortFunc(rows, func(a, b IRObject) int { return CompareRows(s, a, b) })
	assert.Equal(t, []IRObject{{"id": IRInt(-1)}, {"id": IRInt(9)}, {"id": IRInt(10)}}, rows)

	assert.Equal(t, -1, compareValues(IRBool(false), IRBool(true)))
	assert.Equal(t, 1, compareValues(IRString("b"), IRString("a")))
	assert.Equal(t, 0, compareValues(IRString("a"), IRString("a")))
}
