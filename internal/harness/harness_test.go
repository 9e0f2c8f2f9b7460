package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relbind/internal/testutil"
)

const peopleCUE = `
relation: person: {
	key: ["id"]
	attributes: {id: "int", name: "string", editable: "bool"}
	rows: [
		{id: 1, name: "Fred", editable: false},
		{id: 2, name: "Wilma", editable: true},
	]
}
`

func wilma() Target {
	return Target{Relation: "person", Where: map[string]any{"id": 2}, Attr: "name"}
}

func run(t *testing.T, sc *Scenario) *Result {
	t.Helper()
	if sc.SchemaCUE == "" && sc.Schema == "" {
		sc.SchemaCUE = peopleCUE
	}
	if sc.Description == "" {
		sc.Description = "inline scenario"
	}
	result, err := Run(context.Background(), sc, WithLogger(testutil.Logger(t)))
	require.NoError(t, err)
	return result
}

func TestRun_RenameRoundTrip(t *testing.T) {
	for _, backend := range []string{BackendMemory, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			result := run(t, &Scenario{
				Name:    "round_trip",
				Backend: backend,
				Steps: []Step{
					{Write: &WriteStep{Target: wilma(), Value: "Betty", Label: "Rename"}},
					{Undo: &HistoryStep{ExpectLabel: "Rename"}},
					{Redo: &HistoryStep{ExpectLabel: "Rename"}},
					{Expect: &ExpectStep{Target: wilma(), Kind: "resolved", Value: "Betty"}},
				},
				Assertions: []Assertion{
					{Type: AssertFinalState, Relation: "person", Where: map[string]any{"id": 2}, Expect: map[string]any{"name": "Betty"}},
				},
			})
			assert.True(t, result.Pass, "errors: %v", result.Errors)

			require.Len(t, result.Trace, 4)
			assert.Equal(t, []string{EventRestore, EventCommit, EventRestore, EventRestore},
				[]string{result.Trace[0].Kind, result.Trace[1].Kind, result.Trace[2].Kind, result.Trace[3].Kind})
			assert.Equal(t, "Redo Rename", result.Trace[3].Label)

			require.Len(t, result.State["person"], 2)
			assert.Equal(t, "Betty", result.State["person"][1]["name"])
		})
	}
}

func TestRun_StepFailuresAreReported(t *testing.T) {
	result := run(t, &Scenario{
		Name: "failures",
		Steps: []Step{
			{Undo: &HistoryStep{}},
			{Write: &WriteStep{Target: Target{Relation: "pet", Attr: "name"}, Value: "Dino"}},
			{Write: &WriteStep{Target: wilma(), Value: "Betty", ExpectError: "MUTATION_REJECTED"}},
			{Expect: &ExpectStep{Target: wilma(), Kind: "resolved", Value: "Wilma"}},
		},
		Assertions: []Assertion{{Type: AssertTraceCount, Kind: EventCommit, Count: 1}},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "steps[0] (undo)")
	assert.Contains(t, result.Errors[0], "nothing to undo")
	assert.Contains(t, result.Errors[1], `unknown relation "pet"`)
	assert.Contains(t, result.Errors[2], "got none")
	assert.Contains(t, result.Errors[3], "expected value Wilma, got Betty")
}

func TestRun_ExpectStates(t *testing.T) {
	result := run(t, &Scenario{
		Name: "states",
		Steps: []Step{
			{Expect: &ExpectStep{Target: Target{Relation: "person", Attr: "editable"}, Kind: "multiple"}},
			{Expect: &ExpectStep{Target: Target{Relation: "person", Where: map[string]any{"id": 9}, Attr: "name"}, Kind: "none"}},
			{Expect: &ExpectStep{Target: Target{Relation: "person", Where: map[string]any{"id": 1, "editable": false}, Attr: "name"}, Kind: "resolved", Value: "Fred"}},
			{Expect: &ExpectStep{Target: Target{Relation: "person", Where: map[string]any{"age": 1}, Attr: "name"}, Kind: "failed"}},
		},
		Assertions: []Assertion{{Type: AssertTraceCount, Kind: EventCommit, Count: 0}},
	})
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TransientGroupUndoesAsOne(t *testing.T) {
	var steps []Step
	for _, v := range []string{"B", "Be", "Bet", "Betty"} {
		steps = append(steps, Step{Write: &WriteStep{Target: wilma(), Value: v, Label: "Rename", Transient: true}})
	}
	steps = append(steps,
		Step{Undo: &HistoryStep{ExpectLabel: "Rename"}},
		Step{Expect: &ExpectStep{Target: wilma(), Kind: "resolved", Value: "Wilma"}},
		Step{Redo: &HistoryStep{}},
		Step{Expect: &ExpectStep{Target: wilma(), Kind: "resolved", Value: "Betty"}},
	)

	result := run(t, &Scenario{
		Name:  "transient",
		Steps: steps,
		Assertions: []Assertion{
			{Type: AssertTraceCount, Kind: EventCommit, Count: 4},
			{Type: AssertTraceCount, Kind: EventRestore, Label: "Undo Rename", Count: 1},
		},
	})
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_InvalidScenario(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{Name: "x"})
	assert.ErrorContains(t, err, "invalid scenario")

	_, err = Run(context.Background(), &Scenario{
		Name:        "bad_schema",
		Description: "d",
		SchemaCUE:   "relation: person: {key: [\"id\"]}",
		Steps:       []Step{{Flush: &FlushStep{}}},
		Assertions:  []Assertion{{Type: AssertTraceCount}},
	})
	assert.Error(t, err)
}
