package txn

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/roach88/relbind/internal/store"
)

// ChangeKind says what produced a ChangeEvent.
type ChangeKind string

const (
	// KindSubscribed is the targeted event that brings one subscription up
	// to date, sent on Subscribe and Refresh.
	KindSubscribed ChangeKind = "subscribed"

	// KindCommit follows a committed transaction.
	KindCommit ChangeKind = "commit"

	// KindRestore follows a snapshot restore (undo, redo or reset).
	KindRestore ChangeKind = "restore"
)

// ChangeEvent describes store content after a change.
type ChangeEvent struct {
	// Seq is the commit sequence number the snapshot reflects.
	Seq int64

	// TxID and Label identify the transaction; empty for KindSubscribed.
	TxID  string
	Label string

	Kind ChangeKind

	// Relations lists the relations whose content changed. For
	// KindSubscribed it is every relation the subscription observes.
	Relations []string

	// Snapshot is the committed content after the change.
	Snapshot *store.Snapshot

	// Err is set when a KindSubscribed snapshot could not be captured.
	Err error
}

// Touches reports whether the event changed the relation.
func (e ChangeEvent) Touches(relation string) bool {
	return slices.Contains(e.Relations, relation)
}

// delivery is a queued event; target restricts it to one subscription.
// A delivery with done set is a barrier and carries no event.
type delivery struct {
	event  ChangeEvent
	target *Subscription
	done   chan struct{}
}

// Subscription receives change events for a set of relations.
type Subscription struct {
	coord     *Coordinator
	id        int64
	relations []string
	fn        func(ChangeEvent)
	cancelled atomic.Bool

	// since is the sequence number current at registration. Broadcast
	// events at or below it predate the subscription.
	since int64
}

// Subscribe registers fn for events touching any of relations (nil means
// every relation). fn immediately receives a KindSubscribed event with the
// current content, then one event per relevant commit or restore, in
// commit order, on the dispatcher goroutine.
func (c *Coordinator) Subscribe(relations []string, fn func(ChangeEvent)) *Subscription {
	sub := &Subscription{coord: c, relations: slices.Clone(relations), fn: fn}

	// Registration and the first KindSubscribed event happen under
	// publishMu so no commit can be queued between them.
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	sub.since = c.clock.Current()
	c.subsMu.Lock()
	c.nextSub++
	sub.id = c.nextSub
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()

	c.logger.Debug("subscription added", "subscription", sub.id, "relations", relations, "since", sub.since)
	sub.refreshLocked()
	return sub
}

// Refresh queues a KindSubscribed event carrying the current content for
// this subscription only. Events already queued are delivered first.
func (s *Subscription) Refresh() {
	if s.cancelled.Load() {
		return
	}
	s.coord.publishMu.Lock()
	defer s.coord.publishMu.Unlock()
	s.refreshLocked()
}

func (s *Subscription) refreshLocked() {
	c := s.coord
	snap, err := c.store.Snapshot(context.Background())
	relations := s.relations
	if relations == nil && snap != nil {
		relations = snap.Relations()
	}
	ok := c.events.Enqueue(delivery{
		event: ChangeEvent{
			Seq:       c.clock.Current(),
			Kind:      KindSubscribed,
			Relations: slices.Clone(relations),
			Snapshot:  snap,
			Err:       err,
		},
		target: s,
	})
	if !ok {
		c.logger.Debug("refresh dropped: dispatcher stopped", "subscription", s.id)
	}
}

// Cancel stops delivery. Events already being delivered may still arrive.
func (s *Subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	c := s.coord
	c.subsMu.Lock()
	c.subs = slices.DeleteFunc(c.subs, func(o *Subscription) bool { return o == s })
	c.subsMu.Unlock()
	c.logger.Debug("subscription cancelled", "subscription", s.id)
}

func (s *Subscription) wants(ev ChangeEvent) bool {
	if s.relations == nil {
		return true
	}
	for _, r := range ev.Relations {
		if slices.Contains(s.relations, r) {
			return true
		}
	}
	return false
}

// dispatchLoop delivers queued events until the queue is closed and drained.
func (c *Coordinator) dispatchLoop(ctx context.Context) error {
	for {
		if d, ok := c.events.TryDequeue(); ok {
			c.deliver(d)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-c.events.Wait():
			if !open && c.events.Len() == 0 {
				return nil
			}
		}
	}
}

func (c *Coordinator) deliver(d delivery) {
	if d.done != nil {
		close(d.done)
		return
	}
	if d.target != nil {
		c.notify(d.target, d.event)
		return
	}
	c.subsMu.Lock()
	subs := slices.Clone(c.subs)
	c.subsMu.Unlock()
	for _, sub := range subs {
		if d.event.Seq > sub.since && sub.wants(d.event) {
			c.notify(sub, d.event)
		}
	}
}

func (c *Coordinator) notify(sub *Subscription, ev ChangeEvent) {
	if sub.cancelled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panicked", "subscription", sub.id, "seq", ev.Seq, "panic", r)
		}
	}()
	sub.fn(ev)
}

// Sync waits until all work queued before the call has run and every
// change event it produced has been delivered. Requires Run.
func (c *Coordinator) Sync(ctx context.Context) error {
	select {
	case err := <-c.Schedule(func(context.Context) error { return nil }):
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan struct{})
	if !c.events.Enqueue(delivery{done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
