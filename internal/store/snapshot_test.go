package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
)

func TestNewSnapshot_SortsAndDigests(t *testing.T) {
	schemes := []ir.Scheme{personScheme()}
	a, err := NewSnapshot(schemes, map[string][]ir.IRObject{
		"person": {person(2, "Wilma", true), person(1, "Fred", false)},
	})
	require.NoError(t, err)
	b, err := NewSnapshot(schemes, map[string][]ir.IRObject{
		"person": {person(1, "Fred", false), person(2, "Wilma", true)},
	})
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Len(t, a.Digest(), 64)
	assert.Equal(t, []ir.IRObject{person(1, "Fred", false), person(2, "Wilma", true)}, a.Rows("person"))
	assert.Equal(t,
		`{"person":[{"editable":false,"id":1,"name":"Fred"},{"editable":true,"id":2,"name":"Wilma"}]}`,
		string(a.Canonical()))
}

func TestNewSnapshot_Rejects(t *testing.T) {
	schemes := []ir.Scheme{personScheme()}

	_, err := NewSnapshot(schemes, map[string][]ir.IRObject{"pet": nil})
	assert.ErrorContains(t, err, "unknown relation")

	_, err = NewSnapshot(schemes, map[string][]ir.IRObject{"person": {{"id": ir.IRInt(1)}}})
	assert.ErrorContains(t, err, "missing attribute")

	_, err = NewSnapshot(schemes, map[string][]ir.IRObject{"person": {person(1, "a", true), person(1, "b", true)}})
	assert.ErrorContains(t, err, "duplicate key")
}

func TestSnapshot_RowsAreCopies(t *testing.T) {
	snap, err := NewSnapshot([]ir.Scheme{personScheme()}, map[string][]ir.IRObject{
		"person": {person(1, "Fred", true)},
	})
	require.NoError(t, err)

	rows := snap.Rows("person")
	rows[0]["name"] = ir.IRString("changed")
	assert.Equal(t, ir.IRString("Fred"), snap.Rows("person")[0]["name"])
}

func TestSnapshot_Query(t *testing.T) {
	snap, err := NewSnapshot([]ir.Scheme{personScheme()}, map[string][]ir.IRObject{
		"person": {person(1, "Fred", false), person(2, "Wilma", true), person(3, "Betty", true)},
	})
	require.NoError(t, err)

	rows, err := snap.Query(queryir.Select{From: "person", Filter: queryir.Eq("editable", ir.IRBool(true)), Attributes: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, []ir.IRObject{
		{"id": ir.IRInt(2), "name": ir.IRString("Wilma")},
		{"id": ir.IRInt(3), "name": ir.IRString("Betty")},
	}, rows)

	_, err = snap.Query(queryir.Select{From: "pet"})
	assert.Error(t, err)
}

func TestChangedRelations(t *testing.T) {
	schemes := []ir.Scheme{personScheme(), petScheme()}
	empty, err := NewSnapshot(schemes, nil)
	require.NoError(t, err)
	withPerson, err := NewSnapshot(schemes, map[string][]ir.IRObject{"person": {person(1, "Fred", true)}})
	require.NoError(t, err)

	assert.Empty(t, ChangedRelations(empty, empty))
	assert.Equal(t, []string{"person"}, ChangedRelations(empty, withPerson))
	assert.Equal(t, []string{"person"}, ChangedRelations(withPerson, empty))
	assert.Equal(t, []string{"person"}, ChangedRelations(nil, withPerson))
	assert.Empty(t, ChangedRelations(nil, empty))

	onlyPet, err := NewSnapshot([]ir.Scheme{petScheme()}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"person"}, ChangedRelations(withPerson, onlyPet), "empty pet matches on both sides")

	withPet, err := NewSnapshot(schemes, map[string][]ir.IRObject{"pet": {{"name": ir.IRString("Dino"), "owner": ir.IRInt(1)}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "pet"}, ChangedRelations(withPerson, withPet))
	assert.Equal(t, []string{"person", "pet"}, ChangedRelations(onlyPet, withPet), "person exists only in withPet")
}
