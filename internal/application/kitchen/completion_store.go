// Package kitchen contains the application services of the kitchen display:
// order synchronization and the shared completion store.
package kitchen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// CompletionStore is the single shared record of which line items are done.
//
// Reads are lock-free: the current set is published through an atomic pointer
// and never mutated after publication. Writers clone, apply, publish, persist
// and notify while holding writeMu, so snapshots reach the repository in the
// same order they were applied.
type CompletionStore struct {
	repo    kitchen.SnapshotRepository
	state   atomic.Pointer[kitchen.CompletionSet]
	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []listenerEntry
	nextID      uint64

	logger  *zap.Logger
	metrics *telemetry.Metrics
}

type listenerEntry struct {
	id uint64
	fn kitchen.ChangeListener
}

// CompletionStoreOption configures a CompletionStore
type CompletionStoreOption func(*CompletionStore)

// WithStoreLogger sets the logger
func WithStoreLogger(logger *zap.Logger) CompletionStoreOption {
	return func(s *CompletionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreMetrics records persistence failures into m
func WithStoreMetrics(m *telemetry.Metrics) CompletionStoreOption {
	return func(s *CompletionStore) {
		s.metrics = m
	}
}

// NewCompletionStore creates an empty store backed by repo. Call Load to
// restore the persisted snapshot.
func NewCompletionStore(repo kitchen.SnapshotRepository, opts ...CompletionStoreOption) *CompletionStore {
	s := &CompletionStore{
		repo:   repo,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("completion_store")

	empty := make(kitchen.CompletionSet)
	s.state.Store(&empty)
	return s
}

// Load replaces the in-memory state with the persisted snapshot. A missing or
// unreadable snapshot leaves the store empty; it is logged and never fatal.
func (s *CompletionStore) Load(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loaded := make(kitchen.CompletionSet)
	defer func() { s.state.Store(&loaded) }()

	if s.repo == nil {
		return
	}

	wire, err := s.repo.Load(ctx)
	switch {
	case err == nil:
		loaded = kitchen.FromWire(wire)
		s.logger.Info("Loaded completion snapshot", zap.Int("orders", len(loaded)))
	case errors.Is(err, kitchen.ErrSnapshotNotFound):
		s.logger.Info("No completion snapshot found, starting empty")
	default:
		s.logger.Warn("Completion snapshot unreadable, starting empty", zap.Error(err))
	}
}

// Snapshot returns the current immutable set. Callers must not modify it.
func (s *CompletionStore) Snapshot() kitchen.CompletionSet {
	return *s.state.Load()
}

// Get returns a copy of the state in wire form: order ID to sorted item IDs
func (s *CompletionStore) Get() map[string][]string {
	return s.Snapshot().ToWire()
}

// IsCompleted reports whether the item is currently marked complete
func (s *CompletionStore) IsCompleted(orderID, itemID string) bool {
	return s.Snapshot().Contains(orderID, itemID)
}

// SetCompletion applies a toggle, persists the full snapshot and notifies
// listeners. Setting a flag to the value it already has still persists and
// notifies. The only error is kitchen.ErrInvalidToggle; a persistence failure
// is logged and the in-memory state stays authoritative.
func (s *CompletionStore) SetCompletion(ctx context.Context, change kitchen.Change) error {
	if err := change.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot().Clone()
	next.Apply(change)
	s.state.Store(&next)

	// a client hanging up mid-toggle must not leave the snapshot behind memory
	_ = s.persistLocked(context.WithoutCancel(ctx), next)
	s.notify(ctx, change)
	return nil
}

// Persist writes the current state to the repository
func (s *CompletionStore) Persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.persistLocked(ctx, s.Snapshot())
}

func (s *CompletionStore) persistLocked(ctx context.Context, set kitchen.CompletionSet) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Save(ctx, set.ToWire()); err != nil {
		s.metrics.IncPersistFailure()
		s.logger.Error("Failed to persist completion snapshot", zap.Error(err))
		return err
	}
	return nil
}

// Subscribe registers a listener for applied changes and returns a function
// that removes it. Listeners run inside the writer section, in registration
// order, and must not block.
func (s *CompletionStore) Subscribe(listener kitchen.ChangeListener) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: listener})

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *CompletionStore) notify(ctx context.Context, change kitchen.Change) {
	s.listenersMu.RLock()
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l.fn(ctx, change)
	}
}
