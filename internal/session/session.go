// Package session wires one store, its coordinator and its undo manager
// for a single document.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/relbind/internal/binding"
	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/store"
	"github.com/roach88/relbind/internal/txn"
	"github.com/roach88/relbind/internal/undo"
)

// Session owns the per-document collaborators. There are no package-level
// singletons; open one Session per document.
type Session struct {
	store  store.Store
	coord  *txn.Coordinator
	undo   *undo.Manager
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
	closed bool
}

type config struct {
	txnOpts  []txn.Option
	undoOpts []undo.Option
	logger   *slog.Logger
}

// Option configures a Session.
type Option func(*config)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTxnOptions passes options to the coordinator.
func WithTxnOptions(opts ...txn.Option) Option {
	return func(c *config) {
		c.txnOpts = append(c.txnOpts, opts...)
	}
}

// WithUndoOptions passes options to the undo manager.
func WithUndoOptions(opts ...undo.Option) Option {
	return func(c *config) {
		c.undoOpts = append(c.undoOpts, opts...)
	}
}

// New creates a session over s. The session takes ownership of s and
// closes it in Close.
func New(s store.Store, opts ...Option) *Session {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	txnOpts := append([]txn.Option{txn.WithLogger(cfg.logger)}, cfg.txnOpts...)
	coord := txn.New(s, txnOpts...)
	return &Session{
		store:  s,
		coord:  coord,
		undo:   undo.New(coord, cfg.undoOpts...),
		logger: cfg.logger,
	}
}

// Store returns the session's store.
func (s *Session) Store() store.Store { return s.store }

// Coordinator returns the session's transaction coordinator.
func (s *Session) Coordinator() *txn.Coordinator { return s.coord }

// Undo returns the session's undo manager.
func (s *Session) Undo() *undo.Manager { return s.undo }

// Run starts the coordinator in the background. It returns immediately;
// Close stops it.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	if s.done != nil {
		return errors.New("session already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- s.coord.Run(ctx)
	}()
	return nil
}

// Close drains queued writes and pending notifications, stops the
// coordinator and closes the store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done, cancel := s.done, s.cancel
	s.mu.Unlock()

	var runErr error
	if done != nil {
		s.coord.Stop()
		runErr = <-done
		cancel()
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}
	if err := s.store.Close(); err != nil {
		return errors.Join(runErr, fmt.Errorf("closing store: %w", err))
	}
	return runErr
}

// BindString binds a string attribute of the rows sel matches, recording
// writes in the session's undo history.
func (s *Session) BindString(sel queryir.Select, attr, label string) *binding.Property[string] {
	return binding.Bind(s.coord, s.undo, sel, binding.OneString(attr), binding.UpdateString(sel, attr), label)
}

// BindInt binds an int attribute.
func (s *Session) BindInt(sel queryir.Select, attr, label string) *binding.Property[int64] {
	return binding.Bind(s.coord, s.undo, sel, binding.OneInt(attr), binding.UpdateInt(sel, attr), label)
}

// BindBool binds a bool attribute.
func (s *Session) BindBool(sel queryir.Select, attr, label string) *binding.Property[bool] {
	return binding.Bind(s.coord, s.undo, sel, binding.OneBool(attr), binding.UpdateBool(sel, attr), label)
}

// Reset replaces store content with snap as a non-undoable restore and
// clears the undo history. It runs on the writer queue after writes already
// submitted, so none of them lands on top of the reset or back in the
// history. The session must be running.
func (s *Session) Reset(ctx context.Context, snap *store.Snapshot) error {
	done := s.coord.Schedule(func(ctx context.Context) error {
		if _, err := s.coord.Restore(ctx, "Reset", nil, snap); err != nil {
			return err
		}
		s.undo.Clear()
		return nil
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
