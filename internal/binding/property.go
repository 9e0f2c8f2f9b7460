package binding

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/store"
	"github.com/roach88/relbind/internal/txn"
)

// Recorder receives undo entries of committed writes. Implemented by
// undo.Manager.
type Recorder interface {
	Record(entry *txn.Entry, transient bool)
	Flush()
}

// Property is a bidirectional binding of one query to one mutator.
//
// Thread-safety: all methods are safe for concurrent use. Subscriber
// callbacks may run on the caller's goroutine (Set, Subscribe) or on the
// coordinator's goroutines, but never concurrently with each other.
// Subscribers see states in publish order and always end on the latest.
type Property[T comparable] struct {
	coord    *txn.Coordinator
	recorder Recorder
	query    queryir.Select
	extract  Extractor[T]
	mutate   Mutator[T]
	label    string
	logger   *slog.Logger

	mu      sync.Mutex
	state   State[T]
	seq     int64
	pending int
	subs    map[int]func(State[T])
	nextSub int
	sub     *txn.Subscription

	// version counts publishes; delivered is the last version handed to
	// subscribers. greet holds subscribers still owed their first state.
	version    uint64
	delivered  uint64
	delivering bool
	greet      []int
}

// Bind creates a property reading query through extract and writing through
// mutate in transactions named label. recorder may be nil for writes that
// are not undoable.
func Bind[T comparable](coord *txn.Coordinator, recorder Recorder, query queryir.Select, extract Extractor[T], mutate Mutator[T], label string) *Property[T] {
	return &Property[T]{
		coord:    coord,
		recorder: recorder,
		query:    query,
		extract:  extract,
		mutate:   mutate,
		label:    label,
		logger:   coord.Logger().With("property", label, "relation", query.From),
		subs:     make(map[int]func(State[T])),
	}
}

// Label returns the transaction label used for writes.
func (p *Property[T]) Label() string { return p.label }

// Get returns the best-known state without blocking.
func (p *Property[T]) Get() State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pending returns the number of queued or in-flight writes.
func (p *Property[T]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Subscribe calls fn with the current state and again on every change.
// The first subscriber attaches a coordinator subscription; the last
// unsubscribe releases it. Unsubscribing never affects queued writes or
// undo history.
func (p *Property[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	if p.sub == nil {
		p.sub = p.coord.Subscribe([]string{p.query.From}, p.onChange)
	}
	p.greet = append(p.greet, id)
	p.mu.Unlock()

	p.deliver()

	var once sync.Once
	return func() {
		once.Do(func() { p.unsubscribe(id) })
	}
}

func (p *Property[T]) unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
	if len(p.subs) == 0 && p.sub != nil {
		p.sub.Cancel()
		p.sub = nil
		p.logger.Debug("query subscription released")
	}
}

// SetOption modifies a single Set.
type SetOption func(*setOptions)

type setOptions struct {
	transient bool
}

// Transient marks an intermediate write of one user action. Transient
// writes coalesce into the undo step of the write that ends the action.
func Transient() SetOption {
	return func(o *setOptions) {
		o.transient = true
	}
}

// Set writes v. The state updates immediately and the mutation is queued;
// the returned channel receives the write's outcome. Writes apply in the
// order Set is called.
func (p *Property[T]) Set(v T, opts ...SetOption) <-chan txn.WriteResult {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}

	muts, err := p.mutate(v)
	if err != nil {
		res := make(chan txn.WriteResult, 1)
		res <- txn.WriteResult{Err: err}
		return res
	}

	p.mu.Lock()
	p.pending++
	p.publishLocked(resolved(v))
	p.mu.Unlock()
	p.deliver()

	return p.coord.Submit(txn.Job{
		Label: p.label,
		Apply: func(ctx context.Context, tx *txn.Tx) error {
			return tx.Apply(ctx, muts...)
		},
		OnCommit: func(entry *txn.Entry) {
			if p.recorder != nil {
				p.recorder.Record(entry, o.transient)
			}
		},
		OnDone: func(res txn.WriteResult) {
			if res.Err == nil && res.Entry == nil && !o.transient && p.recorder != nil {
				p.recorder.Flush()
			}
			p.writeDone(res)
		},
	})
}

// writeDone runs on the writer goroutine after each write.
func (p *Property[T]) writeDone(res txn.WriteResult) {
	if res.Err != nil {
		p.logger.Warn("write failed", "error", res.Err)
	}

	p.mu.Lock()
	p.pending--
	idle := p.pending == 0
	sub := p.sub
	p.mu.Unlock()
	if !idle {
		return
	}

	if sub != nil {
		sub.Refresh()
		return
	}
	snap, err := p.coord.Snapshot(context.Background())
	p.apply(p.evaluate(snap, err), -1)
}

func (p *Property[T]) onChange(ev txn.ChangeEvent) {
	p.apply(p.evaluate(ev.Snapshot, ev.Err), ev.Seq)
}

// apply installs a state read from the store unless writes are pending or
// the read is older than one already applied. seq < 0 skips the age check.
func (p *Property[T]) apply(next State[T], seq int64) {
	p.mu.Lock()
	if seq >= 0 {
		if seq < p.seq {
			p.mu.Unlock()
			return
		}
		p.seq = seq
	}
	if p.pending > 0 || !p.publishLocked(next) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.deliver()
}

func (p *Property[T]) evaluate(snap *store.Snapshot, err error) State[T] {
	if err != nil {
		return failed[T](err)
	}
	rows, err := snap.Query(p.query)
	if err != nil {
		return failed[T](err)
	}
	cv, err := p.extract(rows)
	if err != nil {
		return failed[T](err)
	}
	return cv.state()
}

// publishLocked replaces the state, reporting whether it changed.
func (p *Property[T]) publishLocked(next State[T]) bool {
	if p.state.Equal(next) {
		return false
	}
	p.state = next
	p.version++
	return true
}

// deliver hands the latest state to subscribers. One goroutine delivers at
// a time; a call that finds delivery running leaves the work to it, which
// also covers a subscriber calling Set from inside its callback.
func (p *Property[T]) deliver() {
	p.mu.Lock()
	if p.delivering {
		p.mu.Unlock()
		return
	}
	p.delivering = true
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.delivering = false
			p.mu.Unlock()
			panic(r)
		}
	}()
	for {
		var fns []func(State[T])
		switch {
		case p.delivered < p.version:
			fns = p.subscribersLocked()
			p.delivered = p.version
		case len(p.greet) > 0:
			for _, id := range p.greet {
				if fn, ok := p.subs[id]; ok {
					fns = append(fns, fn)
				}
			}
		default:
			p.delivering = false
			p.mu.Unlock()
			return
		}
		p.greet = nil
		st := p.state
		p.mu.Unlock()
		notify(fns, st)
		p.mu.Lock()
	}
}

func (p *Property[T]) subscribersLocked() []func(State[T]) {
	ids := make([]int, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(State[T]), len(ids))
	for i, id := range ids {
		fns[i] = p.subs[id]
	}
	return fns
}

func notify[T comparable](fns []func(State[T]), st State[T]) {
	for _, fn := range fns {
		fn(st)
	}
}
