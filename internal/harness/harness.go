package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roach88/relbind/internal/binding"
	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/schema"
	"github.com/roach88/relbind/internal/session"
	"github.com/roach88/relbind/internal/store"
	"github.com/roach88/relbind/internal/testutil"
	"github.com/roach88/relbind/internal/txn"
)

// DefaultSettleTimeout bounds the wait for queued work after each step.
const DefaultSettleTimeout = 5 * time.Second

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger passed to the session. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithSettleTimeout sets how long a step may wait for the coordinator.
func WithSettleTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.settle = d
	}
}

// Harness executes one scenario against a fresh session with a
// deterministic clock and sequential transaction IDs.
type Harness struct {
	schema  *schema.Schema
	session *session.Session
	logger  *slog.Logger
	settle  time.Duration

	mu    sync.Mutex
	trace []TraceEvent
	clock *testutil.DeterministicClock
}

// Run executes a scenario and returns its result. A returned error means
// the scenario could not be executed at all; step and assertion failures
// are reported in the Result.
//
// Execution flow:
//  1. Compile the schema and open a fresh store for the backend
//  2. Seed the store from the schema's rows
//  3. Execute steps, settling the coordinator after each one
//  4. Evaluate assertions against the trace and final state
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	if err := validateScenario(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	h := &Harness{
		logger: slog.New(slog.DiscardHandler),
		settle: DefaultSettleTimeout,
		clock:  testutil.NewDeterministicClock(),
	}
	for _, opt := range opts {
		opt(h)
	}

	sch, err := compileSchema(sc)
	if err != nil {
		return nil, err
	}
	h.schema = sch

	st, cleanup, err := openBackend(sc.Backend, sch.Schemes())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	h.session = session.New(st,
		session.WithLogger(h.logger),
		session.WithTxnOptions(
			txn.WithClock(h.clock),
			txn.WithIDGenerator(testutil.NewSequentialIDs("tx")),
		),
	)
	if err := h.session.Run(ctx); err != nil {
		return nil, err
	}
	defer h.session.Close()

	sub := h.session.Coordinator().Subscribe(nil, h.observe)
	defer sub.Cancel()

	seed, err := sch.Seed()
	if err != nil {
		return nil, fmt.Errorf("seed rows: %w", err)
	}
	if err := h.session.Reset(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed store: %w", err)
	}
	if err := h.sync(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range sc.Steps {
		if err := h.execute(ctx, step); err != nil {
			result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, step.Op(), err))
		}
		if err := h.sync(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.logger.Debug("scenario step done", "scenario", sc.Name, "step", i, "op", step.Op())
	}

	h.mu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	h.mu.Unlock()

	snap, err := h.session.Store().Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("final snapshot: %w", err)
	}
	for _, name := range snap.Relations() {
		rows := make([]map[string]any, 0, snap.Len(name))
		for _, r := range snap.Rows(name) {
			rows = append(rows, ir.ToGo(r).(map[string]any))
		}
		result.State[name] = rows
	}

	actx := &AssertionContext{Ctx: ctx, Store: h.session.Store()}
	for _, msg := range EvaluateAssertions(result, sc.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// RunFile loads and runs the scenario at path.
func RunFile(ctx context.Context, path string, opts ...Option) (*Scenario, *Result, error) {
	sc, err := LoadScenario(path)
	if err != nil {
		return nil, nil, err
	}
	res, err := Run(ctx, sc, opts...)
	return sc, res, err
}

func compileSchema(sc *Scenario) (*schema.Schema, error) {
	if sc.SchemaCUE != "" {
		return schema.CompileString(sc.SchemaCUE, sc.Name+".cue")
	}
	return schema.LoadDir(sc.Schema)
}

// openBackend opens a store. SQLite scenarios get a private temporary
// database removed by cleanup.
func openBackend(backend string, schemes []ir.Scheme) (store.Store, func(), error) {
	switch backend {
	case "", BackendMemory:
		st, err := store.NewMemory(schemes...)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case BackendSQLite:
		dir, err := os.MkdirTemp("", "relbind-scenario-*")
		if err != nil {
			return nil, nil, fmt.Errorf("create temp dir: %w", err)
		}
		st, err := store.OpenSQLite(filepath.Join(dir, "scenario.db"), schemes...)
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		return st, func() { os.RemoveAll(dir) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// observe records commits and restores from the dispatcher goroutine.
func (h *Harness) observe(ev txn.ChangeEvent) {
	var kind string
	switch ev.Kind {
	case txn.KindCommit:
		kind = EventCommit
	case txn.KindRestore:
		kind = EventRestore
	default:
		return
	}
	h.record(TraceEvent{
		Kind:      kind,
		Seq:       ev.Seq,
		Label:     ev.Label,
		TxID:      ev.TxID,
		Relations: ev.Relations,
	})
}

func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, ev)
}

func (h *Harness) sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.settle)
	defer cancel()
	if err := h.session.Coordinator().Sync(ctx); err != nil {
		return fmt.Errorf("coordinator did not settle: %w", err)
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Write != nil:
		return h.write(ctx, step.Write)
	case step.Undo != nil:
		label, err := h.session.Undo().Undo(ctx)
		return checkHistory(step.Undo, label, err)
	case step.Redo != nil:
		label, err := h.session.Undo().Redo(ctx)
		return checkHistory(step.Redo, label, err)
	case step.Flush != nil:
		h.session.Undo().Flush()
		return nil
	case step.Expect != nil:
		return h.expect(ctx, step.Expect)
	default:
		return errors.New("empty step")
	}
}

func (h *Harness) write(ctx context.Context, w *WriteStep) error {
	prop, err := h.bind(w.Target, w.Label)
	if err != nil {
		return err
	}
	value, err := ir.FromGo(w.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	var opts []binding.SetOption
	if w.Transient {
		opts = append(opts, binding.Transient())
	}

	var res txn.WriteResult
	select {
	case res = <-prop.Set(value, opts...):
	case <-ctx.Done():
		return ctx.Err()
	}

	if res.Err != nil {
		h.record(TraceEvent{
			Kind:  EventRejected,
			Seq:   h.clock.Current(),
			Label: prop.Label(),
			Error: errorCode(res.Err),
		})
	}
	return checkError(w.ExpectError, res.Err)
}

func (h *Harness) expect(ctx context.Context, e *ExpectStep) error {
	prop, err := h.bind(e.Target, "")
	if err != nil {
		return err
	}
	stop := prop.Subscribe(func(binding.State[ir.IRValue]) {})
	defer stop()
	if err := h.sync(ctx); err != nil {
		return err
	}

	got := prop.Get()
	if got.Kind.String() != e.Kind {
		return fmt.Errorf("expected state %s, got %s", e.Kind, got)
	}
	if got.Kind != binding.Resolved {
		return nil
	}
	want, err := ir.FromGo(e.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if !ir.Equal(want, got.Value) {
		return fmt.Errorf("expected value %v, got %v", ir.ToGo(want), ir.ToGo(got.Value))
	}
	return nil
}

// bind creates a property over one scalar attribute of the target rows.
func (h *Harness) bind(t Target, label string) (*binding.Property[ir.IRValue], error) {
	rel, ok := h.schema.Relation(t.Relation)
	if !ok {
		return nil, fmt.Errorf("unknown relation %q", t.Relation)
	}
	if _, ok := rel.Scheme.Attribute(t.Attr); !ok {
		return nil, fmt.Errorf("relation %q has no attribute %q", t.Relation, t.Attr)
	}
	filter, err := wherePredicate(t.Where)
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = "Set " + t.Attr
	}

	sel := queryir.Select{From: t.Relation, Filter: filter, Attributes: []string{t.Attr}}
	extract := binding.One(t.Attr, decodeScalar)
	mutate := binding.UpdateAttr(sel, t.Attr, func(v ir.IRValue) ir.IRValue { return v })
	return binding.Bind(h.session.Coordinator(), h.session.Undo(), sel, extract, mutate, label), nil
}

func decodeScalar(v ir.IRValue) (ir.IRValue, error) {
	switch v.(type) {
	case ir.IRString, ir.IRInt, ir.IRBool:
		return v, nil
	default:
		return nil, fmt.Errorf("attribute value %T is not a scalar", v)
	}
}

// wherePredicate turns a YAML where map into an equality conjunction.
// A nil map selects every row.
func wherePredicate(where map[string]any) (queryir.Predicate, error) {
	if len(where) == 0 {
		return nil, nil
	}
	obj, err := ir.ObjectFromGo(where)
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	keys := obj.SortedKeys()
	if len(keys) == 1 {
		return queryir.Eq(keys[0], obj[keys[0]]), nil
	}
	preds := make([]queryir.Predicate, 0, len(keys))
	for _, k := range keys {
		preds = append(preds, queryir.Eq(k, obj[k]))
	}
	return queryir.And{Predicates: preds}, nil
}

func checkHistory(step *HistoryStep, label string, err error) error {
	if err := checkError(step.ExpectError, err); err != nil {
		return err
	}
	if err == nil && step.ExpectLabel != "" && label != step.ExpectLabel {
		return fmt.Errorf("expected label %q, got %q", step.ExpectLabel, label)
	}
	return nil
}

func checkError(want string, got error) error {
	switch {
	case want == "" && got != nil:
		return fmt.Errorf("unexpected error: %w", got)
	case want != "" && got == nil:
		return fmt.Errorf("expected error containing %q, got none", want)
	case want != "" && !strings.Contains(got.Error(), want):
		return fmt.Errorf("expected error containing %q, got %q", want, got.Error())
	}
	return nil
}

// errorCode reduces err to a stable string for traces.
func errorCode(err error) string {
	var e *txn.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return "ERROR"
}
