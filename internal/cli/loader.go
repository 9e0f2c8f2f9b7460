package cli

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/relbind/internal/schema"
)

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchema loads and compiles the CUE schema in dir. Failures are
// returned as a *LoadError carrying a stable code.
func LoadSchema(dir string) (*schema.Schema, error) {
	sch, err := schema.LoadDir(dir)
	if err != nil {
		return nil, convertLoadError(err)
	}
	return sch, nil
}

// convertLoadError maps schema errors to LoadErrors with position info.
func convertLoadError(err error) *LoadError {
	switch {
	case errors.Is(err, schema.ErrNotFound):
		return &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, schema.ErrNoFiles):
		return &LoadError{Code: ErrCodeNoFiles, Message: err.Error()}
	}

	var compileErr *schema.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field, compileErr.Message),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeStoreFailed = "E007" // Database open or read error

	// Relation validation errors
	ErrCodeAttributes  = "E101" // Missing or invalid attributes
	ErrCodeKey         = "E102" // Missing or invalid key
	ErrCodeRows        = "E103" // Invalid seed rows
	ErrCodeInvalidType = "E104" // Invalid attribute type (e.g., float)
	ErrCodeRelation    = "E105" // Invalid or duplicate relation
	ErrCodeNoRelations = "E106" // No relations declared

	// Scenario errors
	ErrCodeScenario       = "E201" // Scenario could not be loaded or run
	ErrCodeScenarioFailed = "E202" // Scenario ran and failed
	ErrCodeGoldenMismatch = "E203" // Trace differs from golden file
)

// MapFieldToErrorCode maps a compile error field to an error code. The
// message separates type errors from other attribute errors.
func MapFieldToErrorCode(field, message string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "relation":
		return ErrCodeNoRelations
	case strings.Contains(field, ".rows"):
		return ErrCodeRows
	case strings.HasSuffix(field, ".key"):
		return ErrCodeKey
	case strings.Contains(field, ".attributes"):
		if strings.Contains(message, "type") {
			return ErrCodeInvalidType
		}
		return ErrCodeAttributes
	case strings.HasPrefix(field, "relation."):
		return ErrCodeRelation
	default:
		return ErrCodeGeneric
	}
}
