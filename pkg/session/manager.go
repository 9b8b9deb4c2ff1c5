package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// Mounted is a live request owned by this replica.
type Mounted interface {
	Request() domain.ImageRequest
	Snapshot() domain.RenderState
	Teardown()
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type liveEntry struct {
	mounted   Mounted
	createdAt time.Time
}

// Manager orchestrates snapshot persistence for mounted requests.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	mu    sync.Mutex            // guards locks and live
	locks map[string]*lockEntry // per-request write locks
	live  map[string]liveEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager backed by store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		live:    make(map[string]liveEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(requestID) after unlocking.
func (m *Manager) acquire(requestID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[requestID]
	if !exists {
		entry = &lockEntry{}
		m.locks[requestID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[requestID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, requestID)
	}
}

// WithLock executes fn while holding the write lock for the request.
func (m *Manager) WithLock(ctx context.Context, requestID string, fn func(context.Context) error) error {
	entry := m.acquire(requestID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(requestID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, requestID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"request_id", requestID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Track registers a live request and persists its initial snapshot.
func (m *Manager) Track(ctx context.Context, requestID string, mounted Mounted) error {
	m.mu.Lock()
	if _, exists := m.live[requestID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("request %s already tracked", requestID)
	}
	m.live[requestID] = liveEntry{mounted: mounted, createdAt: m.now().UTC()}
	m.mu.Unlock()

	return m.Sync(ctx, requestID)
}

// Sync persists the current snapshot of a live request.
// Untracked IDs are ignored, so late transitions of released requests are dropped.
func (m *Manager) Sync(ctx context.Context, requestID string) error {
	return m.WithLock(ctx, requestID, func(ctx context.Context) error {
		m.mu.Lock()
		entry, ok := m.live[requestID]
		m.mu.Unlock()
		if !ok {
			return nil
		}

		snap := &domain.Snapshot{
			RequestID: requestID,
			Request:   entry.mounted.Request(),
			Render:    entry.mounted.Snapshot(),
			CreatedAt: entry.createdAt,
			UpdatedAt: m.now().UTC(),
		}
		if err := m.store.Save(ctx, requestID, snap); err != nil {
			return fmt.Errorf("failed to persist snapshot: %w", err)
		}
		return nil
	})
}

// TransitionHook returns a hook persisting the snapshot after every transition.
func (m *Manager) TransitionHook() func(context.Context, *domain.TransitionEvent) {
	return func(ctx context.Context, e *domain.TransitionEvent) {
		if err := m.Sync(ctx, e.RequestID); err != nil {
			m.logger.Warn("Snapshot sync failed", "request_id", e.RequestID, "state", e.To, "err", err)
		}
	}
}

// Live returns the locally mounted request, if any.
func (m *Manager) Live(requestID string) (Mounted, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.live[requestID]
	return entry.mounted, ok
}

// LiveCount returns the number of requests mounted on this replica.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Get returns the persisted snapshot of a request mounted on any replica.
func (m *Manager) Get(ctx context.Context, requestID string) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	err := m.WithLock(ctx, requestID, func(ctx context.Context) error {
		var err error
		snap, err = m.store.Load(ctx, requestID)
		return err
	})
	return snap, err
}

// Release tears down a local request and removes its snapshot.
// Requests mounted elsewhere only lose their snapshot.
func (m *Manager) Release(ctx context.Context, requestID string) error {
	m.mu.Lock()
	entry, ok := m.live[requestID]
	delete(m.live, requestID)
	m.mu.Unlock()

	if ok {
		entry.mounted.Teardown()
	}

	return m.WithLock(ctx, requestID, func(ctx context.Context) error {
		if !ok {
			if _, err := m.store.Load(ctx, requestID); err != nil {
				return err
			}
		}
		return m.store.Delete(ctx, requestID)
	})
}

// Close releases every local request.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Release(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}
