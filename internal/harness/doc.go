// Package harness runs YAML scenarios against a live session: a compiled
// schema, a store backend, bound properties and the undo manager.
//
// # Scenario Format
//
//	name: rename_undo_redo
//	description: "Renaming and undoing restores the previous name"
//	schema: ../schemas/people        # CUE directory, relative to the file
//	backend: memory                  # or sqlite
//	steps:
//	  - write:
//	      relation: person
//	      where: {id: 2}
//	      attr: name
//	      value: Betty
//	      label: Rename
//	  - undo: {expect_label: Rename}
//	  - redo
//	  - flush
//	  - expect:
//	      relation: person
//	      where: {id: 2}
//	      attr: name
//	      kind: resolved
//	      value: Betty
//	assertions:
//	  - type: final_state
//	    relation: person
//	    where: {id: 2}
//	    expect: {name: Betty}
//	  - type: trace_count
//	    kind: restore
//	    count: 3
//
// Inline CUE may be given with schema_cue instead of schema.
//
// # Assertion Types
//
//   - trace_contains: an event with the given kind and/or label occurred
//   - trace_order: labels occur in the given order
//   - trace_count: exactly N events match kind and/or label
//   - final_state: every row matching where has the expected values
//
// # Deterministic Traces
//
// Every scenario uses testutil.DeterministicClock and sequential
// transaction IDs, and the harness waits for the coordinator to settle
// after each step. Identical scenarios produce identical traces, which
// RunWithGolden compares against testdata/golden/<name>.golden.
package harness
