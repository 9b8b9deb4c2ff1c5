package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/glimpse/pkg/adapters/memory"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/ports"
	"github.com/aretw0/glimpse/pkg/session"
)

// fakeMount is a Mounted whose state the test drives.
type fakeMount struct {
	mu        sync.Mutex
	state     domain.LoadState
	teardowns int
}

func (f *fakeMount) Request() domain.ImageRequest {
	return domain.NewImageRequest("/img/a.jpg")
}

func (f *fakeMount) Snapshot() domain.RenderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.RenderState{State: f.state, Loaded: f.state == domain.StateLoaded}
}

func (f *fakeMount) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	f.state = domain.StateDisposed
}

func (f *fakeMount) set(s domain.LoadState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// slowStore simulates latency to provoke race conditions if locking is missing.
type slowStore struct {
	*memory.Store
	mu     sync.Mutex
	active int
	peak   int
}

func (s *slowStore) Save(ctx context.Context, id string, snap *domain.Snapshot) error {
	s.mu.Lock()
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return s.Store.Save(ctx, id, snap)
}

func TestManager_TrackAndSync(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	m := &fakeMount{state: domain.StateIdle}

	require.NoError(t, mgr.Track(ctx, "r1", m))
	assert.Error(t, mgr.Track(ctx, "r1", m), "duplicate track must fail")

	snap, err := mgr.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, snap.Render.State)
	assert.Equal(t, "/img/a.jpg", snap.Request.SourceURL)
	created := snap.CreatedAt

	m.set(domain.StateLoaded)
	mgr.TransitionHook()(ctx, &domain.TransitionEvent{RequestID: "r1", To: domain.StateLoaded})

	snap, err = mgr.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, snap.Render.Loaded)
	assert.Equal(t, created, snap.CreatedAt)
	assert.Equal(t, 1, mgr.LiveCount())
}

func TestManager_SyncIgnoresUntracked(t *testing.T) {
	store := memory.NewStore()
	mgr := session.NewManager(store)

	require.NoError(t, mgr.Sync(context.Background(), "ghost"))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestManager_Release(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	m := &fakeMount{state: domain.StateObserving}
	require.NoError(t, mgr.Track(ctx, "r1", m))

	require.NoError(t, mgr.Release(ctx, "r1"))
	assert.Equal(t, 1, m.teardowns)
	_, live := mgr.Live("r1")
	assert.False(t, live)

	// The disposal transition arrives after release and must not resurrect the snapshot.
	mgr.TransitionHook()(ctx, &domain.TransitionEvent{RequestID: "r1", To: domain.StateDisposed})
	_, err := mgr.Get(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)

	assert.ErrorIs(t, mgr.Release(ctx, "r1"), domain.ErrRequestNotFound)
}

func TestManager_ReleaseRemoteSnapshot(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "remote", &domain.Snapshot{RequestID: "remote"}))

	mgr := session.NewManager(store)
	require.NoError(t, mgr.Release(ctx, "remote"))

	_, err := store.Load(ctx, "remote")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestManager_SerializesWrites(t *testing.T) {
	store := &slowStore{Store: memory.NewStore()}
	mgr := session.NewManager(store)
	ctx := context.Background()
	require.NoError(t, mgr.Track(ctx, "race-test", &fakeMount{}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, mgr.Sync(ctx, "race-test"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.peak, "writes for one request must not overlap")
}

func TestManager_Close(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	a, b := &fakeMount{}, &fakeMount{}
	require.NoError(t, mgr.Track(ctx, "a", a))
	require.NoError(t, mgr.Track(ctx, "b", b))

	require.NoError(t, mgr.Close(ctx))
	assert.Equal(t, 1, a.teardowns)
	assert.Equal(t, 1, b.teardowns)
	assert.Equal(t, 0, mgr.LiveCount())

	ids, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	return nil, errors.New("redis down")
}

func TestManager_DistributedLockFailure(t *testing.T) {
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(failingLocker{}))
	err := mgr.Track(context.Background(), "r1", &fakeMount{})
	assert.ErrorContains(t, err, "failed to acquire distributed lock")
}
