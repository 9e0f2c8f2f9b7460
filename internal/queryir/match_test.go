package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/relbind/internal/ir"
)

func personScheme() ir.Scheme {
	return ir.Scheme{
		Name: "person",
		Attributes: []ir.Attribute{
			{Name: "id", Type: ir.TypeInt},
			{Name: "name", Type: ir.TypeString},
			{Name: "editable", Type: ir.TypeBool},
		},
		Key: []string{"id"},
	}
}

func TestMatches(t *testing.T) {
	fred := ir.IRObject{"id": ir.IRInt(1), "name": ir.IRString("Fred"), "editable": ir.IRBool(true)}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"nil matches all", nil, true},
		{"equals", Eq("name", ir.IRString("Fred")), true},
		{"equals pointer", &Equals{Attr: "name", Value: ir.IRString("Fred")}, true},
		{"equals mismatch", Eq("name", ir.IRString("Wilma")), false},
		{"equals wrong type", Eq("id", ir.IRString("1")), false},
		{"missing attribute", Eq("age", ir.IRInt(1)), false},
		{"in", In{Attr: "id", Values: []ir.IRValue{ir.IRInt(3), ir.IRInt(1)}}, true},
		{"in miss", In{Attr: "id", Values: []ir.IRValue{ir.IRInt(3)}}, false},
		{"empty in", In{Attr: "id"}, false},
		{"empty and", And{}, true},
		{"and", And{Predicates: []Predicate{Eq("id", ir.IRInt(1)), Eq("editable", ir.IRBool(true))}}, true},
		{"and one false", And{Predicates: []Predicate{Eq("id", ir.IRInt(1)), Eq("editable", ir.IRBool(false))}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.pred, fred))
		})
	}
}

func TestKeyFilter(t *testing.T) {
	s := personScheme()
	row := ir.IRObject{"id": ir.IRInt(2), "name": ir.IRString("Wilma")}
	assert.Equal(t, Eq("id", ir.IRInt(2)), KeyFilter(s, row))

	s.Key = []string{"id", "name"}
	pred := KeyFilter(s, row)
	assert.Equal(t, And{Predicates: []Predicate{Eq("id", ir.IRInt(2)), Eq("name", ir.IRString("Wilma"))}}, pred)
	assert.True(t, Matches(pred, row))
}

func TestProjectAndColumns(t *testing.T) {
	s := personScheme()
	row := ir.IRObject{"id": ir.IRInt(1), "name": ir.IRString("Fred"), "editable": ir.IRBool(true)}

	assert.Equal(t, ir.IRObject{"id": ir.IRInt(1), "editable": ir.IRBool(true)}, Project(s, row, []string{"editable"}))
	assert.Equal(t, row, Project(s, row, nil))

	assert.Equal(t, []string{"id", "editable"}, Columns(s, []string{"editable"}))
	assert.Equal(t, []string{"id", "name", "editable"}, Columns(s, nil))
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "person", Target(Insert{Relation: "person"}))
	assert.Equal(t, "person", Target(Update{Relation: "person"}))
	assert.Equal(t, "person", Target(Delete{Relation: "person"}))
}
