// Package queryir provides the abstract query and mutation representation
// used between property bindings and store backends.
//
// The IR is deliberately small and portable: a Select reads rows from one
// relation, filtered by Equals, In and And predicates; Insert, Update and
// Delete describe writes. The memory store evaluates it directly with
// Matches, the SQLite store compiles it through internal/querysql.
//
// SEALED INTERFACES:
//
// Predicate and Mutation are sealed interfaces using the marker method
// pattern, so backends can switch exhaustively:
//
//	switch m := mut.(type) {
//	case Insert:
//	case Update:
//	case Delete:
//	}
//
// All literal values are ir.IRValue types (no floats, no NULL comparisons).
package queryir
