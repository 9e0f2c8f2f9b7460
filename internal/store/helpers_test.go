package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

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

func petScheme() ir.Scheme {
	return ir.Scheme{
		Name: "pet",
		Attributes: []ir.Attribute{
			{Name: "name", Type: ir.TypeString},
			{Name: "owner", Type: ir.TypeInt},
		},
		Key: []string{"name"},
	}
}

func person(id int64, name string, editable bool) ir.IRObject {
	return ir.IRObject{"id": ir.IRInt(id), "name": ir.IRString(name), "editable": ir.IRBool(editable)}
}

// createTestSQLite opens a SQLite store in a temp dir.
func createTestSQLite(t *testing.T, schemes ...ir.Scheme) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path, schemes...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type backend struct {
	name string
	open func(t *testing.T, schemes ...ir.Scheme) Store
}

// backends lists every Store implementation for conformance tests.
func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T, schemes ...ir.Scheme) Store {
			t.Helper()
			s, err := NewMemory(schemes...)
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T, schemes ...ir.Scheme) Store {
			t.Helper()
			return createTestSQLite(t, schemes...)
		}},
	}
}
