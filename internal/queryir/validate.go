package queryir

import (
	"errors"
	"fmt"

	"github.com/roach88/relbind/internal/ir"
)

// Validate checks a Select against the scheme it reads.
// All problems are reported, joined into one error.
func Validate(sel Select, scheme ir.Scheme) error {
	v := &validator{scheme: scheme}
	if sel.From != scheme.Name {
		v.addf("select from %q validated against relation %q", sel.From, scheme.Name)
	}
	for _, a := range sel.Attributes {
		if _, ok := scheme.Attribute(a); !ok {
			v.addf("unknown attribute %q", a)
		}
	}
	v.validatePredicate(sel.Filter)
	return v.err()
}

// ValidateMutation checks a mutation against the scheme it writes.
func ValidateMutation(m Mutation, scheme ir.Scheme) error {
	v := &validator{scheme: scheme}
	if target := Target(m); target != scheme.Name {
		v.addf("mutation of %q validated against relation %q", target, scheme.Name)
	}
	switch mut := m.(type) {
	case Insert:
		if err := scheme.ValidateRow(mut.Row); err != nil {
			v.errs = append(v.errs, err)
		}
	case Update:
		if err := scheme.ValidateSet(mut.Set); err != nil {
			v.errs = append(v.errs, err)
		}
		v.validatePredicate(mut.Filter)
	case Delete:
		v.validatePredicate(mut.Filter)
	default:
		v.addf("unknown mutation type %T", m)
	}
	return v.err()
}

// validator accumulates problems during traversal.
type validator struct {
	scheme ir.Scheme
	errs   []error
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) err() error {
	return errors.Join(v.errs...)
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.validateValue(pred.Attr, pred.Value)
	case *Equals:
		v.validatePredicate(*pred)
	case In:
		if _, ok := v.scheme.Attribute(pred.Attr); !ok {
			v.addf("unknown attribute %q", pred.Attr)
			return
		}
		for _, val := range pred.Values {
			v.validateValue(pred.Attr, val)
		}
	case *In:
		v.validatePredicate(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case *And:
		v.validatePredicate(*pred)
	default:
		v.addf("unknown predicate type %T", p)
	}
}

func (v *validator) validateValue(attr string, val ir.IRValue) {
	a, ok := v.scheme.Attribute(attr)
	if !ok {
		v.addf("unknown attribute %q", attr)
		return
	}
	if !a.Type.Accepts(val) {
		v.addf("attribute %q expects %s, got %T", attr, a.Type, val)
	}
}
