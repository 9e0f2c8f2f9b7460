package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relbind/internal/testutil"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			sc, result, err := RunFile(context.Background(), path, WithLogger(testutil.Logger(t)))
			require.NoError(t, err)
			assert.Equal(t, name, sc.Name, "scenario name matches file name")
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			require.NoError(t, AssertGolden(t, sc.Name, result))
		})
	}
}

func TestRunWithGolden_IsRepeatable(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/rename_undo_redo.yaml")
	require.NoError(t, err)

	for range 2 {
		result, err := RunWithGolden(t, sc)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	}
}

func TestMarshalTrace_Canonical(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Kind: EventCommit, Seq: 2, Label: "Rename", TxID: "tx-2", Relations: []string{"person"}},
		{Kind: EventRejected, Seq: 2, Label: "Rename", Error: "MUTATION_REJECTED"},
	}

	data, err := MarshalTrace("example", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"example","trace":[`+
			`{"kind":"commit","label":"Rename","relations":["person"],"seq":2,"tx":"tx-2"},`+
			`{"error":"MUTATION_REJECTED","kind":"rejected","label":"Rename","seq":2}]}`,
		string(data))
}
