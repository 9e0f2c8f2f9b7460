package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Scenario defines a conformance scenario: a schema, a sequence of edits
// through bound properties, and assertions on the trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a directory of CUE relation declarations. Relative paths
	// are resolved against the scenario file's directory.
	Schema string `yaml:"schema,omitempty"`

	// SchemaCUE is inline CUE, used instead of Schema.
	SchemaCUE string `yaml:"schema_cue,omitempty"`

	// Backend selects the store: "memory" (default) or "sqlite".
	Backend string `yaml:"backend,omitempty"`

	// Steps run in order. The harness waits for every queued write and
	// notification to settle between steps.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of its fields. In YAML, undo, redo and flush may be
// written as bare strings.
type Step struct {
	Write  *WriteStep   `yaml:"write,omitempty"`
	Undo   *HistoryStep `yaml:"undo,omitempty"`
	Redo   *HistoryStep `yaml:"redo,omitempty"`
	Flush  *FlushStep   `yaml:"flush,omitempty"`
	Expect *ExpectStep  `yaml:"expect,omitempty"`
}

// Target addresses one attribute of the rows matching Where.
type Target struct {
	Relation string         `yaml:"relation"`
	Where    map[string]any `yaml:"where,omitempty"`
	Attr     string         `yaml:"attr"`
}

// WriteStep binds a property to Target and sets it.
type WriteStep struct {
	Target `yaml:",inline"`

	Value any `yaml:"value"`

	// Label names the undo step. Default: "Set <attr>".
	Label string `yaml:"label,omitempty"`

	// Transient marks the write as part of a continuous edit.
	Transient bool `yaml:"transient,omitempty"`

	// ExpectError, if set, must be a substring of the write's error.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// HistoryStep is an undo or redo.
type HistoryStep struct {
	// ExpectLabel, if set, must equal the label of the undone step.
	ExpectLabel string `yaml:"expect_label,omitempty"`

	// ExpectError, if set, must be a substring of the error.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// FlushStep closes the pending transient group.
type FlushStep struct{}

// ExpectStep binds a property to Target and checks its state.
type ExpectStep struct {
	Target `yaml:",inline"`

	// Kind is one of none, resolved, multiple or failed.
	Kind string `yaml:"kind"`

	// Value is checked when Kind is resolved.
	Value any `yaml:"value,omitempty"`
}

// Op names the step's operation.
func (s Step) Op() string {
	switch {
	case s.Write != nil:
		return "write"
	case s.Undo != nil:
		return "undo"
	case s.Redo != nil:
		return "redo"
	case s.Flush != nil:
		return "flush"
	case s.Expect != nil:
		return "expect"
	default:
		return ""
	}
}

func (s Step) count() int {
	n := 0
	for _, set := range []bool{s.Write != nil, s.Undo != nil, s.Redo != nil, s.Flush != nil, s.Expect != nil} {
		if set {
			n++
		}
	}
	return n
}

// UnmarshalYAML accepts the bare forms "undo", "redo" and "flush" and
// decodes mappings strictly.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		switch node.Value {
		case "undo":
			s.Undo = &HistoryStep{}
		case "redo":
			s.Redo = &HistoryStep{}
		case "flush":
			s.Flush = &FlushStep{}
		default:
			return fmt.Errorf("line %d: unknown step %q", node.Line, node.Value)
		}
		return nil
	}

	type plain Step
	var p plain
	if err := decodeStrict(node, &p); err != nil {
		return err
	}
	*s = Step(p)
	// "undo:" with no value decodes to nil.
	if s.count() == 0 && node.Kind == yaml.MappingNode && len(node.Content) == 2 {
		switch node.Content[0].Value {
		case "undo":
			s.Undo = &HistoryStep{}
		case "redo":
			s.Redo = &HistoryStep{}
		case "flush":
			s.Flush = &FlushStep{}
		}
	}
	return nil
}

// decodeStrict decodes node rejecting unknown fields. yaml.Node.Decode does
// not inherit KnownFields from the outer decoder.
func decodeStrict(node *yaml.Node, v any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Kind and Label select trace events (trace_contains, trace_count).
	// Empty matches any.
	Kind  string `yaml:"kind,omitempty"`
	Label string `yaml:"label,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Labels is the expected label order (trace_order).
	Labels []string `yaml:"labels,omitempty"`

	// Relation, Where and Expect describe a final_state check: every row
	// matching Where must carry the Expect values.
	Relation string         `yaml:"relation,omitempty"`
	Where    map[string]any `yaml:"where,omitempty"`
	Expect   map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and validates a scenario YAML file. A relative Schema
// is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if sc.Schema != "" && !filepath.IsAbs(sc.Schema) {
		sc.Schema = filepath.Join(filepath.Dir(path), sc.Schema)
	}
	if err := validateScenario(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if sc.Schema != "" {
		if _, err := os.Stat(sc.Schema); err != nil {
			return nil, fmt.Errorf("invalid scenario: schema directory not found: %s", sc.Schema)
		}
	}
	return sc, nil
}

// ParseScenario decodes YAML with strict field checking. It does not
// resolve paths or validate; LoadScenario does both.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &sc, nil
}

// FindScenarios returns the *.yaml and *.yml files in dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	slices.Sort(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Schema == "") == (s.SchemaCUE == "") {
		return fmt.Errorf("exactly one of schema or schema_cue is required")
	}
	switch s.Backend {
	case "", BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	switch s.count() {
	case 0:
		return fmt.Errorf("steps[%d]: empty step", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: a step has exactly one operation", index)
	}
	switch {
	case s.Write != nil:
		if err := validateTarget(index, s.Write.Target); err != nil {
			return err
		}
		if s.Write.Value == nil {
			return fmt.Errorf("steps[%d].write: value is required", index)
		}
	case s.Expect != nil:
		if err := validateTarget(index, s.Expect.Target); err != nil {
			return err
		}
		switch s.Expect.Kind {
		case "none", "multiple", "failed":
		case "resolved":
			if s.Expect.Value == nil {
				return fmt.Errorf("steps[%d].expect: value is required for kind resolved", index)
			}
		default:
			return fmt.Errorf("steps[%d].expect: unknown kind %q", index, s.Expect.Kind)
		}
	}
	return nil
}

func validateTarget(index int, t Target) error {
	if t.Relation == "" {
		return fmt.Errorf("steps[%d]: relation is required", index)
	}
	if t.Attr == "" {
		return fmt.Errorf("steps[%d]: attr is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" && a.Label == "" {
			return fmt.Errorf("assertions[%d]: kind or label is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Labels) == 0 {
			return fmt.Errorf("assertions[%d]: labels list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Relation == "" {
			return fmt.Errorf("assertions[%d]: relation is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
