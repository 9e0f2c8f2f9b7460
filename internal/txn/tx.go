package txn

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/store"
)

var errFinished = errors.New("transaction already finished")

// Tx is an open transaction. It is not safe for concurrent use; exactly one
// of Commit or Rollback ends it, and a rejected Apply ends it too.
type Tx struct {
	coord    *Coordinator
	id       string
	label    string
	before   *store.Snapshot
	stx      store.Tx
	span     trace.Span
	affected int64
	done     bool
}

// ID returns the transaction ID.
func (t *Tx) ID() string { return t.id }

// Label returns the action name the transaction was opened with.
func (t *Tx) Label() string { return t.label }

// Before returns the snapshot captured when the transaction began.
func (t *Tx) Before() *store.Snapshot { return t.before }

// Query reads rows including this transaction's uncommitted writes.
func (t *Tx) Query(ctx context.Context, sel queryir.Select) ([]ir.IRObject, error) {
	if t.done {
		return nil, errFinished
	}
	return t.stx.Query(ctx, sel)
}

// Apply applies mutations in order. If the store rejects one, the whole
// transaction is rolled back, leaving the store equal to Before, and an
// *Error with CodeMutationRejected is returned.
func (t *Tx) Apply(ctx context.Context, muts ...queryir.Mutation) error {
	if t.done {
		return errFinished
	}
	for _, m := range muts {
		n, err := t.stx.Mutate(ctx, m)
		if err != nil {
			code, msg := CodeStoreFailed, "store error"
			if errors.Is(err, store.ErrRejected) {
				code, msg = CodeMutationRejected, "mutation rejected"
			}
			e := &Error{Code: code, Message: msg, Label: t.label, TxID: t.id, Err: err}
			t.coord.logger.Warn("transaction rolled back", "tx", t.id, "label", t.label, "relation", queryir.Target(m), "error", err)
			recordSpan(t.span, e)
			t.abort()
			return e
		}
		t.affected += n
		t.coord.logger.Debug("mutation applied", "tx", t.id, "relation", queryir.Target(m), "rows", n)
	}
	return nil
}

// Commit finalizes the transaction and returns its undo entry. A
// transaction that changed nothing is discarded: Commit returns a nil entry
// and no change event is published.
func (t *Tx) Commit(ctx context.Context) (*Entry, error) {
	if t.done {
		return nil, errFinished
	}
	c := t.coord
	if t.affected == 0 {
		c.logger.Debug("empty transaction discarded", "tx", t.id, "label", t.label)
		t.abort()
		return nil, nil
	}

	t.done = true
	defer t.span.End()
	defer c.release()

	if err := t.stx.Commit(); err != nil {
		e := &Error{Code: CodeStoreFailed, Message: "commit failed", Label: t.label, TxID: t.id, Err: err}
		c.logger.Error("commit failed", "tx", t.id, "label", t.label, "error", err)
		return nil, recordSpan(t.span, e)
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	after, err := c.store.Snapshot(ctx)
	if err != nil {
		e := &Error{Code: CodeStoreFailed, Message: "capture after snapshot", Label: t.label, TxID: t.id, Err: err}
		c.logger.Error("transaction committed without undo entry", "tx", t.id, "label", t.label, "error", err)
		return nil, recordSpan(t.span, e)
	}
	if after.Equal(t.before) {
		c.logger.Debug("transaction changed nothing", "tx", t.id, "label", t.label)
		return nil, nil
	}

	seq := c.clock.Next()
	relations := store.ChangedRelations(t.before, after)
	c.events.Enqueue(delivery{event: ChangeEvent{
		Seq:       seq,
		TxID:      t.id,
		Label:     t.label,
		Kind:      KindCommit,
		Relations: relations,
		Snapshot:  after,
	}})
	t.span.SetAttributes(attribute.Int64("txn.seq", seq))

	c.logger.Info("transaction committed", "tx", t.id, "label", t.label, "seq", seq, "relations", relations)
	return &Entry{ID: t.id, Label: t.label, Seq: seq, Before: t.before, After: after}, nil
}

// Rollback discards the transaction. Safe to call after Commit or a
// rejected Apply.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.coord.logger.Debug("transaction rolled back", "tx", t.id, "label", t.label)
	return t.abort()
}

func (t *Tx) abort() error {
	t.done = true
	err := t.stx.Rollback()
	t.coord.release()
	t.span.End()
	return err
}
