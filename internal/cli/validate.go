package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/relbind/internal/schema"
)

// RelationSummary describes one compiled relation.
type RelationSummary struct {
	Name       string   `json:"name"`
	Key        []string `json:"key"`
	Attributes int      `json:"attributes"`
	Rows       int      `json:"rows"`
}

// ValidationError is one validation failure with its source line.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Relations []RelationSummary `json:"relations,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// RenderText implements TextRenderer.
func (r ValidationResult) RenderText(w io.Writer) {
	if !r.Valid {
		fmt.Fprintln(w, "FAIL validation failed")
		fmt.Fprintln(w)
		for _, e := range r.Errors {
			if e.Line > 0 {
				fmt.Fprintf(w, "%s:%d\n", e.File, e.Line)
			}
			fmt.Fprintf(w, "  %s: %s\n\n", e.Code, e.Message)
		}
		return
	}
	fmt.Fprintf(w, "OK %d relation(s) valid\n", len(r.Relations))
	for _, rel := range r.Relations {
		fmt.Fprintf(w, "  %-20s key=(%s) attributes=%d rows=%d\n",
			rel.Name, strings.Join(rel.Key, ", "), rel.Attributes, rel.Rows)
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate a CUE relation schema",
		Long: `Compile the CUE relations in a directory and check their seed rows.

Reports every relation with its key, attribute count and row count.
Exits 1 when the schema is invalid and 2 when it cannot be read.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	sch, err := LoadSchema(schemaDir)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			return formatter.Fail(ErrCodeGeneric, err.Error(), nil)
		}
		if loadErr.Code == ErrCodeNotFound || loadErr.Code == ErrCodeNoFiles {
			return formatter.Fail(loadErr.Code, loadErr.Message, nil)
		}
		result := ValidationResult{Errors: []ValidationError{toValidationError(loadErr)}}
		return formatter.Failure(loadErr.Code, loadErr.Message, result)
	}

	result := ValidationResult{Valid: true, Relations: summarize(sch)}
	for _, rel := range result.Relations {
		formatter.VerboseLog("relation %s: %d attribute(s), %d row(s)", rel.Name, rel.Attributes, rel.Rows)
	}
	return formatter.Success(result)
}

func toValidationError(e *LoadError) ValidationError {
	v := ValidationError{Code: e.Code, Message: e.Message}
	if e.Pos.IsValid() {
		v.File = e.Pos.Filename()
		v.Line = e.Pos.Line()
	}
	return v
}

func summarize(sch *schema.Schema) []RelationSummary {
	out := make([]RelationSummary, 0, len(sch.Relations))
	for _, rel := range sch.Relations {
		out = append(out, RelationSummary{
			Name:       rel.Scheme.Name,
			Key:        rel.Scheme.Key,
			Attributes: len(rel.Scheme.Attributes),
			Rows:       len(rel.Rows),
		})
	}
	return out
}
