package txn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/relbind/internal/store"
)

const tracerName = "github.com/roach88/relbind/internal/txn"

// Entry is the undo record of one committed transaction: restoring Before
// undoes it, restoring After redoes it.
type Entry struct {
	ID     string
	Label  string
	Seq    int64
	Before *store.Snapshot
	After  *store.Snapshot
}

// Coordinator is the single write path into a store.
//
// Thread-safety model:
//   - Begin/BeginWait/Restore/Perform: safe from any goroutine, serialized by
//     the transaction slot
//   - Submit/Schedule: safe from any goroutine, executed by the Run loop
//   - Subscribe: safe from any goroutine; callbacks run on the dispatcher
//   - Run: must be called from exactly one goroutine
type Coordinator struct {
	store  store.Store
	clock  Sequencer
	ids    IDGenerator
	logger *slog.Logger
	tracer trace.Tracer

	// slot holds a token while a transaction is in flight.
	slot chan struct{}

	// publishMu orders snapshot capture with event enqueueing so queued
	// snapshots never go backwards.
	publishMu sync.Mutex

	work   *fifo[work]
	events *fifo[delivery]

	subsMu  sync.Mutex
	subs    []*Subscription
	nextSub int64

	running atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the sequencer used to stamp commits.
func WithClock(clock Sequencer) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithIDGenerator sets the transaction ID generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = ids
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// Default: the global provider, a no-op unless one is installed.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// New creates a Coordinator for s. Call Run to start processing queued work
// and delivering change events.
func New(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  s,
		clock:  NewClock(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		slot:   make(chan struct{}, 1),
		work:   newFIFO[work](),
		events: newFIFO[delivery](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying store for reads.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger {
	return c.logger
}

// Snapshot captures the current committed store content.
func (c *Coordinator) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	return c.store.Snapshot(ctx)
}

// Begin opens a transaction, failing with ErrAlreadyInFlight if another
// transaction is open. Read through Tx.Query while it is open: an in-memory
// SQLite store has one connection, so store reads and Snapshot calls from
// the goroutine holding the transaction block until it ends.
func (c *Coordinator) Begin(ctx context.Context, label string) (*Tx, error) {
	return c.begin(ctx, label, false)
}

// BeginWait opens a transaction, waiting for the slot if one is in flight.
func (c *Coordinator) BeginWait(ctx context.Context, label string) (*Tx, error) {
	return c.begin(ctx, label, true)
}

func (c *Coordinator) acquire(ctx context.Context, wait bool) error {
	if !wait {
		select {
		case c.slot <- struct{}{}:
			return nil
		default:
			return ErrAlreadyInFlight
		}
	}
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	<-c.slot
}

func (c *Coordinator) begin(ctx context.Context, label string, wait bool) (*Tx, error) {
	if err := c.acquire(ctx, wait); err != nil {
		if errors.Is(err, ErrAlreadyInFlight) {
			return nil, &Error{Code: CodeAlreadyInFlight, Message: ErrAlreadyInFlight.Message, Label: label}
		}
		return nil, err
	}

	id := c.ids.Generate()
	ctx, span := c.tracer.Start(ctx, "txn.transaction", trace.WithAttributes(
		attribute.String("txn.id", id),
		attribute.String("txn.label", label),
	))

	before, err := c.store.Snapshot(ctx)
	if err != nil {
		c.release()
		return nil, endSpan(span, &Error{Code: CodeStoreFailed, Message: "capture before snapshot", Label: label, TxID: id, Err: err})
	}
	stx, err := c.store.Begin(ctx)
	if err != nil {
		c.release()
		return nil, endSpan(span, &Error{Code: CodeStoreFailed, Message: "open store transaction", Label: label, TxID: id, Err: err})
	}

	c.logger.Debug("transaction begun", "tx", id, "label", label)
	return &Tx{coord: c, id: id, label: label, before: before, stx: stx, span: span}, nil
}

// Perform runs fn inside a transaction and commits it, the synchronous
// counterpart of Submit. Returns a nil entry if fn changed nothing.
func (c *Coordinator) Perform(ctx context.Context, label string, fn func(ctx context.Context, tx *Tx) error) (*Entry, error) {
	tx, err := c.BeginWait(ctx, label)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx.Commit(ctx)
}

// Restore replaces store content with target as one non-undoable
// transaction. The store must still match expect (nil skips the check).
// Any failure is an *Error with CodeRestoreFailed and leaves the store as it
// was.
func (c *Coordinator) Restore(ctx context.Context, label string, expect, target *store.Snapshot) (*Entry, error) {
	if target == nil {
		return nil, c.restoreFailed(label, "", "nil target snapshot", nil)
	}
	if err := c.acquire(ctx, true); err != nil {
		return nil, c.restoreFailed(label, "", "acquire transaction slot", err)
	}
	defer c.release()

	id := c.ids.Generate()
	ctx, span := c.tracer.Start(ctx, "txn.restore", trace.WithAttributes(
		attribute.String("txn.id", id),
		attribute.String("txn.label", label),
	))
	defer span.End()

	current, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, recordSpan(span, c.restoreFailed(label, id, "capture current snapshot", err))
	}
	if expect != nil && !current.Equal(expect) {
		return nil, recordSpan(span, c.restoreFailed(label, id, "store does not match the expected snapshot", nil))
	}
	if err := c.store.Restore(ctx, target); err != nil {
		return nil, recordSpan(span, c.restoreFailed(label, id, "restore snapshot", err))
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	after, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, recordSpan(span, c.restoreFailed(label, id, "capture restored snapshot", err))
	}
	if !after.Equal(target) {
		return nil, recordSpan(span, c.restoreFailed(label, id, "restored content does not match target", nil))
	}

	seq := c.clock.Next()
	entry := &Entry{ID: id, Label: label, Seq: seq, Before: current, After: after}
	relations := store.ChangedRelations(current, after)
	c.events.Enqueue(delivery{event: ChangeEvent{
		Seq:       seq,
		TxID:      id,
		Label:     label,
		Kind:      KindRestore,
		Relations: relations,
		Snapshot:  after,
	}})

	c.logger.Info("snapshot restored", "tx", id, "label", label, "seq", seq, "relations", relations)
	return entry, nil
}

func (c *Coordinator) restoreFailed(label, id, msg string, err error) error {
	e := &Error{Code: CodeRestoreFailed, Message: msg, Label: label, TxID: id, Err: err}
	c.logger.Error("restore failed", "tx", id, "label", label, "error", e)
	return e
}

// Run starts the writer and dispatcher loops.
// Blocks until context is cancelled or Stop() is called and all queued work
// and events are drained.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	c.logger.Info("coordinator starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.dispatchLoop(gctx) })
	err := g.Wait()

	c.logger.Info("coordinator stopped", "error", err)
	return err
}

// Stop stops accepting queued work. Run returns once the queue and pending
// change events are drained.
func (c *Coordinator) Stop() {
	c.work.Close()
}

func endSpan(span trace.Span, err error) error {
	recordSpan(span, err)
	span.End()
	return err
}

func recordSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
