package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/relbind/internal/ir"
)

// TraceSnapshot is the golden form of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to plain values accepted by
// ir.MarshalCanonical.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"kind": ev.Kind,
			"seq":  ev.Seq,
		}
		if ev.Label != "" {
			m["label"] = ev.Label
		}
		if ev.TxID != "" {
			m["tx"] = ev.TxID
		}
		if len(ev.Relations) > 0 {
			rels := make([]any, len(ev.Relations))
			for j, r := range ev.Relations {
				rels[j] = r
			}
			m["relations"] = rels
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		traceList[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	return ir.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass as well.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
