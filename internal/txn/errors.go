package txn

import (
	"errors"
	"fmt"
)

// Code categorizes coordinator errors.
type Code string

const (
	// CodeAlreadyInFlight indicates Begin found another open transaction.
	CodeAlreadyInFlight Code = "ALREADY_IN_FLIGHT"

	// CodeMutationRejected indicates the store refused a mutation.
	CodeMutationRejected Code = "MUTATION_REJECTED"

	// CodeRestoreFailed indicates a snapshot could not be restored.
	CodeRestoreFailed Code = "RESTORE_FAILED"

	// CodeClosed indicates the coordinator has stopped accepting work.
	CodeClosed Code = "CLOSED"

	// CodeStoreFailed indicates a store error other than a rejection.
	CodeStoreFailed Code = "STORE_FAILED"
)

// Error represents a failure detected by the coordinator.
//
// Error includes structured fields for diagnostics. errors.Is matches on
// Code, so callers can test against the sentinel values below.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Label is the transaction's action name, if any.
	Label string

	// TxID identifies the affected transaction, if one was opened.
	TxID string

	// Err is the underlying cause.
	Err error
}

// Sentinels for errors.Is.
var (
	ErrAlreadyInFlight = &Error{Code: CodeAlreadyInFlight, Message: "another transaction is in flight"}
	ErrClosed          = &Error{Code: CodeClosed, Message: "coordinator stopped"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Label != "" {
		msg += fmt.Sprintf(" (label=%s)", e.Label)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsRejected returns true if the error is a mutation rejection.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error) bool {
	return hasCode(err, CodeMutationRejected)
}

// IsRestoreError returns true if the error is a restore failure.
func IsRestoreError(err error) bool {
	return hasCode(err, CodeRestoreFailed)
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
