package binding

import (
	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
)

// Mutator turns a written value into mutations.
type Mutator[T comparable] func(v T) ([]queryir.Mutation, error)

// UpdateAttr sets attr on every row query matches, so one write collapses a
// Multiple selection to a single value.
func UpdateAttr[T comparable](query queryir.Select, attr string, encode func(T) ir.IRValue) Mutator[T] {
	return func(v T) ([]queryir.Mutation, error) {
		return []queryir.Mutation{queryir.Update{
			Relation: query.From,
			Filter:   query.Filter,
			Set:      ir.IRObject{attr: encode(v)},
		}}, nil
	}
}

// UpdateString is UpdateAttr for string attributes.
func UpdateString(query queryir.Select, attr string) Mutator[string] {
	return UpdateAttr(query, attr, func(v string) ir.IRValue { return ir.IRString(v) })
}

// UpdateInt is UpdateAttr for int attributes.
func UpdateInt(query queryir.Select, attr string) Mutator[int64] {
	return UpdateAttr(query, attr, func(v int64) ir.IRValue { return ir.IRInt(v) })
}

// UpdateBool is UpdateAttr for bool attributes.
func UpdateBool(query queryir.Select, attr string) Mutator[bool] {
	return UpdateAttr(query, attr, func(v bool) ir.IRValue { return ir.IRBool(v) })
}
