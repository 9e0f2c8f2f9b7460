package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s seq=%d %q\n", i+1, ev.Kind, ev.Seq, ev.Label)
		}
	}
	return buf.String()
}

func matchesEvent(ev TraceEvent, a Assertion) bool {
	return (a.Kind == "" || ev.Kind == a.Kind) && (a.Label == "" || ev.Label == a.Label)
}

func describeEvent(a Assertion) string {
	var parts []string
	if a.Kind != "" {
		parts = append(parts, "kind "+a.Kind)
	}
	if a.Label != "" {
		parts = append(parts, fmt.Sprintf("label %q", a.Label))
	}
	if len(parts) == 0 {
		return "any event"
	}
	return strings.Join(parts, " and ")
}

// assertTraceContains checks that some event matches kind and label.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchesEvent(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeEvent(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that labels first appear in the given order.
// Labels don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Label]; !seen && slices.Contains(a.Labels, ev.Label) {
			positions[ev.Label] = i + 1 // 1-indexed for readability
		}
	}

	for _, label := range a.Labels {
		if positions[label] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all labels present: %v", a.Labels),
				Actual:   fmt.Sprintf("missing label: %s", label),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Labels); i++ {
		prev, curr := a.Labels[i-1], a.Labels[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("labels in order: %v", a.Labels),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchesEvent(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describeEvent(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks that at least one row matches Where and every
// matching row carries the Expect values (subset semantics).
func assertFinalState(ctx context.Context, st store.Store, a Assertion) error {
	filter, err := wherePredicate(a.Where)
	if err != nil {
		return err
	}
	expect, err := ir.ObjectFromGo(a.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	rows, err := st.Query(ctx, queryir.Select{From: a.Relation, Filter: filter})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query relation %s", a.Relation),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if len(rows) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Relation, formatWhere(a.Where)),
			Actual:   "row not found",
		}
	}

	for _, row := range rows {
		for _, key := range expect.SortedKeys() {
			actual, exists := row[key]
			if !exists {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("attribute %q to exist", key),
					Actual:   fmt.Sprintf("attribute %q not present in %s", key, a.Relation),
				}
			}
			if !ir.Equal(expect[key], actual) {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("%s = %v where %s", key, ir.ToGo(expect[key]), formatWhere(a.Where)),
					Actual:   fmt.Sprintf("%s = %v", key, ir.ToGo(actual)),
				}
			}
		}
	}
	return nil
}

// formatWhere creates a human-readable description of where conditions.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// AssertionContext provides store access for final_state assertions.
type AssertionContext struct {
	Store store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a store", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
