package binding

import (
	"fmt"

	"github.com/roach88/relbind/internal/ir"
)

// CommonValue summarizes one attribute across rows: None, Resolved with the
// shared Value, or Multiple.
type CommonValue[T comparable] struct {
	Kind  Kind
	Value T
}

// Common folds values into a CommonValue.
func Common[T comparable](values []T) CommonValue[T] {
	if len(values) == 0 {
		return CommonValue[T]{Kind: None}
	}
	first := values[0]
	for _, v := range values[1:] {
		if v != first {
			return CommonValue[T]{Kind: Multiple}
		}
	}
	return CommonValue[T]{Kind: Resolved, Value: first}
}

func (c CommonValue[T]) state() State[T] {
	return State[T]{Kind: c.Kind, Value: c.Value}
}

// Extractor turns query rows into a CommonValue.
type Extractor[T comparable] func(rows []ir.IRObject) (CommonValue[T], error)

// One extracts attr from every row with decode.
func One[T comparable](attr string, decode func(ir.IRValue) (T, error)) Extractor[T] {
	return func(rows []ir.IRObject) (CommonValue[T], error) {
		values := make([]T, 0, len(rows))
		for _, r := range rows {
			raw, ok := r[attr]
			if !ok {
				return CommonValue[T]{}, fmt.Errorf("row has no attribute %q", attr)
			}
			v, err := decode(raw)
			if err != nil {
				return CommonValue[T]{}, fmt.Errorf("attribute %q: %w", attr, err)
			}
			values = append(values, v)
		}
		return Common(values), nil
	}
}

// OneString extracts a string attribute.
func OneString(attr string) Extractor[string] {
	return One(attr, DecodeString)
}

// OneInt extracts an int attribute.
func OneInt(attr string) Extractor[int64] {
	return One(attr, DecodeInt)
}

// OneBool extracts a bool attribute.
func OneBool(attr string) Extractor[bool] {
	return One(attr, DecodeBool)
}

// DecodeString, DecodeInt and DecodeBool convert scalar IR values for One.
func DecodeString(v ir.IRValue) (string, error) {
	s, ok := v.(ir.IRString)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return string(s), nil
}

func DecodeInt(v ir.IRValue) (int64, error) {
	n, ok := v.(ir.IRInt)
	if !ok {
		return 0, fmt.Errorf("expected int, got %T", v)
	}
	return int64(n), nil
}

func DecodeBool(v ir.IRValue) (bool, error) {
	b, ok := v.(ir.IRBool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return bool(b), nil
}
