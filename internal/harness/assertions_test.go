package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/schema"
	"github.com/roach88/relbind/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Kind: EventRestore, Seq: 1, Label: "Reset", TxID: "tx-1"},
		{Kind: EventCommit, Seq: 2, Label: "Rename", TxID: "tx-2"},
		{Kind: EventRejected, Seq: 2, Label: "Rename", Error: "MUTATION_REJECTED"},
		{Kind: EventCommit, Seq: 3, Label: "Rename", TxID: "tx-4"},
		{Kind: EventRestore, Seq: 4, Label: "Undo Rename", TxID: "tx-5"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceContains(trace, Assertion{Kind: EventRejected}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Kind: EventRestore, Label: "Undo Rename"}))

	err := assertTraceContains(trace, Assertion{Kind: EventRestore, Label: "Redo Rename"})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), `kind restore and label "Redo Rename"`)
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceOrder(trace, Assertion{Labels: []string{"Reset", "Rename", "Undo Rename"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Labels: []string{"Reset", "Undo Rename"}}))

	err := assertTraceOrder(trace, Assertion{Labels: []string{"Undo Rename", "Rename"}})
	assert.ErrorContains(t, err, "should be before")

	err = assertTraceOrder(trace, Assertion{Labels: []string{"Rename", "Redo Rename"}})
	assert.ErrorContains(t, err, "missing label: Redo Rename")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: EventCommit, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Label: "Rename", Count: 3}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Count: 5}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: "commit", Label: "Undo Rename", Count: 0}))

	err := assertTraceCount(trace, Assertion{Kind: EventCommit, Count: 1})
	assert.ErrorContains(t, err, "1 occurrences of kind commit")
	assert.ErrorContains(t, err, "Actual: 2 occurrences")
}

func seededStore(t *testing.T) store.Store {
	t.Helper()
	sch, err := schema.CompileString(peopleCUE, "people.cue")
	require.NoError(t, err)
	st, err := store.NewMemory(sch.Schemes()...)
	require.NoError(t, err)
	seed, err := sch.Seed()
	require.NoError(t, err)
	require.NoError(t, st.Restore(context.Background(), seed))
	return st
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{
			name:      "single row",
			assertion: Assertion{Relation: "person", Where: map[string]any{"id": 1}, Expect: map[string]any{"name": "Fred", "editable": false}},
		},
		{
			name:      "every matching row",
			assertion: Assertion{Relation: "person", Where: map[string]any{"editable": true}, Expect: map[string]any{"name": "Wilma"}},
		},
		{
			name:      "value mismatch",
			assertion: Assertion{Relation: "person", Where: map[string]any{"id": 2}, Expect: map[string]any{"name": "Betty"}},
			wantErr:   "name = Wilma",
		},
		{
			name:      "all rows must agree",
			assertion: Assertion{Relation: "person", Expect: map[string]any{"editable": true}},
			wantErr:   "editable = false",
		},
		{
			name:      "no rows",
			assertion: Assertion{Relation: "person", Where: map[string]any{"id": 3}, Expect: map[string]any{"name": "Barney"}},
			wantErr:   "row not found",
		},
		{
			name:      "unknown attribute",
			assertion: Assertion{Relation: "person", Where: map[string]any{"id": 1}, Expect: map[string]any{"age": 40}},
			wantErr:   `attribute "age" to exist`,
		},
		{
			name:      "unknown relation",
			assertion: Assertion{Relation: "pet", Expect: map[string]any{"name": "Dino"}},
			wantErr:   "query error",
		},
		{
			name:      "type mismatch",
			assertion: Assertion{Relation: "person", Where: map[string]any{"id": 1}, Expect: map[string]any{"editable": 0}},
			wantErr:   "editable = 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWherePredicate(t *testing.T) {
	p, err := wherePredicate(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = wherePredicate(map[string]any{"id": 2})
	require.NoError(t, err)
	assert.Equal(t, queryir.Eq("id", ir.IRInt(2)), p)

	p, err = wherePredicate(map[string]any{"name": "Fred", "id": 1})
	require.NoError(t, err)
	assert.Equal(t, queryir.And{Predicates: []queryir.Predicate{
		queryir.Eq("id", ir.IRInt(1)),
		queryir.Eq("name", ir.IRString("Fred")),
	}}, p)

	_, err = wherePredicate(map[string]any{"ratio": 0.5})
	assert.Error(t, err)
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Kind: EventCommit, Count: 2},
		{Type: AssertTraceCount, Kind: EventCommit, Count: 9},
		{Type: AssertFinalState, Relation: "person", Expect: map[string]any{"name": "x"}},
		{Type: "bogus"},
	}, nil)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[1], "final_state requires a store")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}
