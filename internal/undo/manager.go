package undo

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/relbind/internal/txn"
)

// Sentinel errors. An empty stack is an expected condition; hosts should
// disable the corresponding action instead of reporting it.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrBlocked       = errors.New("blocked by delegate")
)

// Delegate lets a host veto undo or redo, for example while an edit is in
// progress.
type Delegate interface {
	SafeToUndo() bool
	SafeToRedo() bool
}

// State is what a host needs to render undo and redo menu items.
type State struct {
	CanUndo   bool
	CanRedo   bool
	UndoLabel string
	RedoLabel string
	UndoDepth int
	RedoDepth int
}

// Manager is the undo/redo state machine of one store.
//
// Thread-safety: all methods are safe for concurrent use. Undo and Redo run
// on the coordinator's writer goroutine and require Coordinator.Run.
type Manager struct {
	coord    *txn.Coordinator
	levels   int
	delegate Delegate
	logger   *slog.Logger

	mu      sync.Mutex
	undo    []*txn.Entry
	redo    []*txn.Entry
	pending *txn.Entry

	listenerMu   sync.Mutex
	listeners    map[int]func(State)
	nextListener int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLevels caps the undo stack depth; the oldest entries are dropped.
// 0 means unlimited.
func WithLevels(n int) Option {
	return func(m *Manager) {
		m.levels = n
	}
}

// WithDelegate installs a host delegate that gates undo and redo.
func WithDelegate(d Delegate) Option {
	return func(m *Manager) {
		m.delegate = d
	}
}

// WithLogger sets the structured logger. Default: the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a Manager restoring through coord.
func New(coord *txn.Coordinator, opts ...Option) *Manager {
	m := &Manager{
		coord:     coord,
		logger:    coord.Logger(),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record registers a committed entry and clears the redo stack. A nil entry
// is ignored. Transient entries join the pending group.
func (m *Manager) Record(entry *txn.Entry, transient bool) {
	if entry == nil {
		return
	}

	m.mu.Lock()
	m.redo = nil
	if m.pending != nil && m.pending.Label != entry.Label {
		m.pushLocked(m.pending)
		m.pending = nil
	}
	switch {
	case transient && m.pending == nil:
		group := *entry
		m.pending = &group
	case transient:
		m.pending.After = entry.After
		m.pending.Seq = entry.Seq
	case m.pending != nil:
		merged := *entry
		merged.Before = m.pending.Before
		m.pending = nil
		m.pushLocked(&merged)
	default:
		m.pushLocked(entry)
	}
	m.mu.Unlock()

	m.logger.Debug("undo entry recorded", "tx", entry.ID, "label", entry.Label, "transient", transient)
	m.changed()
}

// Flush closes the pending transient group, making it one undo step.
func (m *Manager) Flush() {
	m.mu.Lock()
	flushed := m.flushLocked()
	m.mu.Unlock()
	if flushed {
		m.changed()
	}
}

func (m *Manager) flushLocked() bool {
	if m.pending == nil {
		return false
	}
	m.pushLocked(m.pending)
	m.pending = nil
	return true
}

// pushLocked adds an undo step. A group whose writes cancel out is dropped.
func (m *Manager) pushLocked(e *txn.Entry) {
	if e.Before.Equal(e.After) {
		m.logger.Debug("undo step changed nothing", "tx", e.ID, "label", e.Label)
		return
	}
	m.undo = append(m.undo, e)
	if m.levels > 0 && len(m.undo) > m.levels {
		m.undo = slices.Delete(m.undo, 0, len(m.undo)-m.levels)
	}
}

// Clear drops both stacks and the pending group.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.undo, m.redo, m.pending = nil, nil, nil
	m.mu.Unlock()
	m.changed()
}

// Undo restores the store to the state before the most recent undo step and
// returns its label. Queued writes submitted earlier are applied first.
// A failed restore leaves both stacks unchanged and returns the
// txn.CodeRestoreFailed error.
func (m *Manager) Undo(ctx context.Context) (string, error) {
	return m.schedule(ctx, m.undoNow)
}

// Redo reapplies the most recently undone step and returns its label.
func (m *Manager) Redo(ctx context.Context) (string, error) {
	return m.schedule(ctx, m.redoNow)
}

func (m *Manager) schedule(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var label string
	done := m.coord.Schedule(func(ctx context.Context) error {
		var err error
		label, err = fn(ctx)
		return err
	})
	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
		return label, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) undoNow(ctx context.Context) (string, error) {
	m.mu.Lock()
	flushed := m.flushLocked()
	if len(m.undo) == 0 {
		m.mu.Unlock()
		m.logger.Debug("undo with empty stack")
		return "", ErrNothingToUndo
	}
	if m.delegate != nil && !m.delegate.SafeToUndo() {
		m.mu.Unlock()
		if flushed {
			m.changed()
		}
		return "", ErrBlocked
	}

	entry := m.undo[len(m.undo)-1]
	if _, err := m.coord.Restore(ctx, "Undo "+entry.Label, entry.After, entry.Before); err != nil {
		m.mu.Unlock()
		if flushed {
			m.changed()
		}
		return "", err
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, entry)
	m.mu.Unlock()

	m.logger.Info("undo", "tx", entry.ID, "label", entry.Label)
	m.changed()
	return entry.Label, nil
}

func (m *Manager) redoNow(ctx context.Context) (string, error) {
	m.mu.Lock()
	if len(m.redo) == 0 {
		m.mu.Unlock()
		m.logger.Debug("redo with empty stack")
		return "", ErrNothingToRedo
	}
	if m.delegate != nil && !m.delegate.SafeToRedo() {
		m.mu.Unlock()
		return "", ErrBlocked
	}

	entry := m.redo[len(m.redo)-1]
	if _, err := m.coord.Restore(ctx, "Redo "+entry.Label, entry.Before, entry.After); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, entry)
	m.mu.Unlock()

	m.logger.Info("redo", "tx", entry.ID, "label", entry.Label)
	m.changed()
	return entry.Label, nil
}

// State reports stack status for menu enablement.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{UndoDepth: len(m.undo), RedoDepth: len(m.redo)}
	if m.pending != nil {
		st.UndoDepth++
		st.UndoLabel = m.pending.Label
	} else if n := len(m.undo); n > 0 {
		st.UndoLabel = m.undo[n-1].Label
	}
	if n := len(m.redo); n > 0 {
		st.RedoLabel = m.redo[n-1].Label
	}
	st.CanUndo = st.UndoDepth > 0 && (m.delegate == nil || m.delegate.SafeToUndo())
	st.CanRedo = st.RedoDepth > 0 && (m.delegate == nil || m.delegate.SafeToRedo())
	return st
}

// CanUndo reports whether Undo would do something.
func (m *Manager) CanUndo() bool { return m.State().CanUndo }

// CanRedo reports whether Redo would do something.
func (m *Manager) CanRedo() bool { return m.State().CanRedo }

// UndoLabel names the step Undo would revert, or "".
func (m *Manager) UndoLabel() string { return m.State().UndoLabel }

// RedoLabel names the step Redo would reapply, or "".
func (m *Manager) RedoLabel() string { return m.State().RedoLabel }

// OnChange registers fn to be called with the new State after every change
// to the stacks. The returned func removes it.
func (m *Manager) OnChange(fn func(State)) (cancel func()) {
	m.listenerMu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenerMu.Lock()
			delete(m.listeners, id)
			m.listenerMu.Unlock()
		})
	}
}

func (m *Manager) changed() {
	m.listenerMu.Lock()
	if len(m.listeners) == 0 {
		m.listenerMu.Unlock()
		return
	}
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(State), len(ids))
	for i, id := range ids {
		fns[i] = m.listeners[id]
	}
	m.listenerMu.Unlock()

	st := m.State()
	for _, fn := range fns {
		fn(st)
	}
}

// Do runs fn as one undoable action: it is queued like any other write and
// its entry is recorded in commit order. Returns a nil entry if fn changed
// nothing.
func (m *Manager) Do(ctx context.Context, label string, fn func(ctx context.Context, tx *txn.Tx) error) (*txn.Entry, error) {
	res := m.coord.Submit(txn.Job{
		Label:    label,
		Apply:    fn,
		OnCommit: func(e *txn.Entry) { m.Record(e, false) },
	})
	select {
	case r := <-res:
		return r.Entry, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
