package binding

import "fmt"

// Kind classifies a property's state.
type Kind int

const (
	// Unresolved means no read has completed yet.
	Unresolved Kind = iota

	// None means the query matched no rows.
	None

	// Resolved means every matched row agrees on one value.
	Resolved

	// Multiple means matched rows disagree. It is a valid state, not an
	// error; bound controls show a mixed indicator.
	Multiple

	// Failed means the read itself failed; Err says why.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Unresolved:
		return "unresolved"
	case None:
		return "none"
	case Resolved:
		return "resolved"
	case Multiple:
		return "multiple"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State is a property's current value. Value is set only for Resolved.
type State[T comparable] struct {
	Kind  Kind
	Value T
	Err   error
}

// Equal compares kinds, values and error presence.
func (s State[T]) Equal(o State[T]) bool {
	if s.Kind != o.Kind || s.Value != o.Value {
		return false
	}
	if (s.Err == nil) != (o.Err == nil) {
		return false
	}
	return s.Err == nil || s.Err.Error() == o.Err.Error()
}

func (s State[T]) String() string {
	switch s.Kind {
	case Resolved:
		return fmt.Sprintf("resolved(%v)", s.Value)
	case Failed:
		return fmt.Sprintf("failed(%v)", s.Err)
	default:
		return s.Kind.String()
	}
}

func resolved[T comparable](v T) State[T] {
	return State[T]{Kind: Resolved, Value: v}
}

func failed[T comparable](err error) State[T] {
	return State[T]{Kind: Failed, Err: err}
}
