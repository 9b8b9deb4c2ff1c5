package runtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/glimpse/internal/runtime"
	"github.com/aretw0/glimpse/pkg/adapters/loader"
	"github.com/aretw0/glimpse/pkg/adapters/visibility"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
	"github.com/aretw0/glimpse/pkg/placeholder"
	"github.com/aretw0/glimpse/pkg/ports"
	"github.com/aretw0/glimpse/pkg/urlcompose"
)

const (
	source      = "https://example.com/img/a.jpg"
	transformed = "https://example.com/img/a.jpg?w=400&q=80&f=nextgen"
	target      = domain.TargetID("hero")
)

// manualLoader records load attempts and lets the test complete them.
type manualLoader struct {
	mu    sync.Mutex
	calls []attempt
}

type attempt struct {
	ctx  context.Context
	url  string
	done ports.LoadCallback
}

func (m *manualLoader) Load(ctx context.Context, url string, done ports.LoadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, attempt{ctx: ctx, url: url, done: done})
}

func (m *manualLoader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *manualLoader) at(t *testing.T, i int) attempt {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(t, len(m.calls), i, "expected load attempt #%d", i)
	return m.calls[i]
}

// recorder captures user callbacks and lifecycle events.
type recorder struct {
	mu          sync.Mutex
	loads       []domain.LoadInfo
	errs        []domain.LoadInfo
	transitions []string
	stale       []domain.CompletionEvent
}

func (r *recorder) callbacks() domain.Callbacks {
	return domain.Callbacks{
		OnLoad: func(info domain.LoadInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.loads = append(r.loads, info)
		},
		OnError: func(info domain.LoadInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, info)
		},
	}
}

func (r *recorder) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transitions = append(r.transitions, e.From.String()+"->"+e.To.String())
		},
		OnStaleCompletion: func(_ context.Context, e *domain.CompletionEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.stale = append(r.stale, *e)
		},
	}
}

func (r *recorder) counts() (loads, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loads), len(r.errs)
}

func newRequest(priority bool) domain.ImageRequest {
	req := domain.NewImageRequest(source)
	req.Width = 400
	req.Quality = 80
	req.Priority = priority
	return req
}

func newConfig(vis ports.VisibilityPort, l ports.AssetLoader, rec *recorder) runtime.Config {
	return runtime.Config{
		Visibility:   vis,
		Loader:       l,
		Formats:      negotiate.New(negotiate.Static(true)),
		Composer:     urlcompose.New("example.com"),
		Placeholders: placeholder.New(),
		Hooks:        rec.hooks(),
	}
}

func newController(t *testing.T, req domain.ImageRequest, cfg runtime.Config, rec *recorder) *runtime.Controller {
	t.Helper()
	c, err := runtime.NewController("req-1", req, target, rec.callbacks(), cfg)
	require.NoError(t, err)
	return c
}

func TestController_LazyLoadsOnVisibility(t *testing.T) {
	rec := &recorder{}
	obs := visibility.NewObserver()
	l := &manualLoader{}
	c := newController(t, newRequest(false), newConfig(obs, l, rec), rec)

	snap := c.Snapshot()
	assert.NotEmpty(t, snap.Placeholder.DataURI, "placeholder must be available before mount")
	assert.Empty(t, snap.DeliveryURL)

	require.NoError(t, c.Mount(context.Background()))
	assert.Equal(t, domain.StateObserving, c.State())
	assert.Equal(t, 0, l.count(), "lazy request must not load before visibility")
	assert.Equal(t, 1, obs.Pending())

	obs.Report(target, domain.Intersection{Ratio: 0.5})
	assert.Equal(t, domain.StateLoading, c.State())
	assert.Equal(t, 0, obs.Pending(), "subscription must be released after firing")
	assert.Equal(t, transformed, l.at(t, 0).url)
	assert.Equal(t, transformed, c.Snapshot().DeliveryURL)

	l.at(t, 0).done(domain.AssetInfo{ContentType: "image/webp"}, nil)

	snap = c.Snapshot()
	assert.True(t, snap.Loaded)
	assert.Equal(t, domain.StateLoaded, snap.State)
	loads, errs := rec.counts()
	assert.Equal(t, 1, loads)
	assert.Equal(t, 0, errs)
	assert.Equal(t, transformed, rec.loads[0].DeliveryURL)
	assert.False(t, rec.loads[0].Fallback)
	assert.Equal(t, []string{"idle->observing", "observing->loading", "loading->loaded"}, rec.transitions)
}

func TestController_PriorityLoadsOnMount(t *testing.T) {
	rec := &recorder{}
	obs := visibility.NewObserver()
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(obs, l, rec), rec)

	require.NoError(t, c.Mount(context.Background()))

	assert.Equal(t, domain.StateLoading, c.State())
	assert.Equal(t, 0, obs.Pending(), "priority request must not observe")
	assert.Equal(t, 1, l.count())
	assert.Equal(t, []string{"idle->loading"}, rec.transitions)
}

func TestController_EagerSkipsObservation(t *testing.T) {
	rec := &recorder{}
	obs := visibility.NewObserver()
	l := &manualLoader{}
	req := newRequest(false)
	req.Loading = domain.LoadingEager
	c := newController(t, req, newConfig(obs, l, rec), rec)

	require.NoError(t, c.Mount(context.Background()))
	assert.Equal(t, domain.StateLoading, c.State())
	assert.Equal(t, 0, obs.Pending())
}

func TestController_FallbackToOriginal(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))

	first := l.at(t, 0)
	first.done(domain.AssetInfo{}, errors.New("502"))

	assert.Equal(t, domain.StateFallbackLoading, c.State())
	assert.Error(t, first.ctx.Err(), "failed attempt context must be released")
	second := l.at(t, 1)
	assert.Equal(t, source, second.url)
	assert.Equal(t, source, c.Snapshot().DeliveryURL)

	second.done(domain.AssetInfo{ContentType: "image/jpeg"}, nil)

	assert.Equal(t, domain.StateLoaded, c.State())
	loads, errs := rec.counts()
	require.Equal(t, 1, loads)
	assert.Equal(t, 0, errs, "recovered failure must not surface")
	assert.True(t, rec.loads[0].Fallback)
	assert.Equal(t, source, rec.loads[0].DeliveryURL)
	assert.Equal(t, []string{"idle->loading", "loading->errored", "errored->fallback_loading", "fallback_loading->loaded"}, rec.transitions)
}

func TestController_FallbackFailureIsTerminal(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))

	l.at(t, 0).done(domain.AssetInfo{}, errors.New("502"))
	l.at(t, 1).done(domain.AssetInfo{}, errors.New("404"))

	snap := c.Snapshot()
	assert.Equal(t, domain.StateFallbackErrored, snap.State)
	assert.True(t, snap.Unavailable)
	assert.False(t, snap.Loaded)
	assert.Equal(t, 2, l.count(), "no further retries after fallback failure")

	loads, errs := rec.counts()
	assert.Equal(t, 0, loads)
	require.Equal(t, 1, errs)
	assert.ErrorIs(t, rec.errs[0].Err, domain.ErrOriginalAssetLoad)
	assert.ErrorContains(t, rec.errs[0].Err, "404")
}

func TestController_UntransformedFailureSkipsFallback(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	req := domain.NewImageRequest("https://other.org/a.jpg")
	req.Width = 400
	req.Priority = true
	c := newController(t, req, newConfig(visibility.NewImmediate(), l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))

	first := l.at(t, 0)
	assert.Equal(t, "https://other.org/a.jpg", first.url, "cross-origin source is loaded unchanged")
	first.done(domain.AssetInfo{}, errors.New("boom"))

	assert.Equal(t, domain.StateErrored, c.State())
	assert.Equal(t, 1, l.count(), "identical URL must not be retried")
	_, errs := rec.counts()
	assert.Equal(t, 1, errs)
	assert.False(t, rec.errs[0].Fallback)
}

func TestController_DuplicateCompletionIgnored(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))

	done := l.at(t, 0).done
	done(domain.AssetInfo{}, nil)
	done(domain.AssetInfo{}, nil)
	done(domain.AssetInfo{}, errors.New("late"))

	loads, errs := rec.counts()
	assert.Equal(t, 1, loads)
	assert.Equal(t, 0, errs)
	assert.Equal(t, domain.StateLoaded, c.State())
}

func TestController_TeardownBeforeVisibility(t *testing.T) {
	rec := &recorder{}
	obs := visibility.NewObserver()
	l := &manualLoader{}
	c := newController(t, newRequest(false), newConfig(obs, l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))
	require.Equal(t, 1, obs.Pending())

	c.Teardown()
	c.Teardown()

	assert.Equal(t, domain.StateDisposed, c.State())
	assert.Equal(t, 0, obs.Pending(), "subscription must be released")
	assert.Zero(t, obs.Report(target, domain.Intersection{Ratio: 1}))
	assert.Equal(t, 0, l.count())
}

func TestController_TeardownDiscardsLateCompletion(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))

	pending := l.at(t, 0)
	c.Teardown()
	assert.Error(t, pending.ctx.Err(), "in-flight load must be aborted")

	pending.done(domain.AssetInfo{}, nil)
	pending.done(domain.AssetInfo{}, errors.New("late"))

	loads, errs := rec.counts()
	assert.Equal(t, 0, loads)
	assert.Equal(t, 0, errs)
	assert.Empty(t, rec.stale, "disposed requests report nothing")
	assert.Equal(t, domain.StateDisposed, c.State())
	assert.ErrorIs(t, c.Mount(context.Background()), domain.ErrDisposed)
	assert.ErrorIs(t, c.Update(newRequest(false)), domain.ErrDisposed)
}

func TestController_UpdateSupersedesInFlight(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))
	old := l.at(t, 0)

	next := newRequest(true)
	next.SourceURL = "https://example.com/img/b.jpg"
	require.NoError(t, c.Update(next))

	assert.Error(t, old.ctx.Err())
	current := l.at(t, 1)
	assert.Equal(t, "https://example.com/img/b.jpg?w=400&q=80&f=nextgen", current.url)

	old.done(domain.AssetInfo{}, nil)
	assert.Equal(t, domain.StateLoading, c.State(), "stale completion must not settle the new request")
	require.Len(t, rec.stale, 1)
	assert.Equal(t, transformed, rec.stale[0].URL)
	assert.True(t, rec.stale[0].Succeeded)

	current.done(domain.AssetInfo{}, nil)
	assert.Equal(t, domain.StateLoaded, c.State())
	loads, _ := rec.counts()
	require.Equal(t, 1, loads)
	assert.Equal(t, "https://example.com/img/b.jpg", rec.loads[0].SourceURL)
}

func TestController_UpdateSameIdentityIsNoop(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), l, rec), rec)
	require.NoError(t, c.Mount(context.Background()))

	same := newRequest(true)
	same.Threshold = domain.ViewportThreshold{RootMargin: 10}
	require.NoError(t, c.Update(same))

	assert.Equal(t, 1, l.count())
	assert.NoError(t, l.at(t, 0).ctx.Err())
}

func TestController_UpdateRejectsInvalidRequest(t *testing.T) {
	rec := &recorder{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), &manualLoader{}, rec), rec)

	bad := newRequest(true)
	bad.Quality = 120
	assert.ErrorIs(t, c.Update(bad), domain.ErrInvalidRequest)
}

func TestController_ImmediatePortLoadsDuringMount(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(false), newConfig(visibility.NewImmediate(), l, rec), rec)

	require.NoError(t, c.Mount(context.Background()))

	assert.Equal(t, domain.StateLoading, c.State())
	assert.Equal(t, 1, l.count())
	assert.Equal(t, []string{"idle->observing", "observing->loading"}, rec.transitions)
}

func TestController_SynchronousLoaderCompletesInsideMount(t *testing.T) {
	rec := &recorder{}
	scripted := loader.NewScripted(true).Set(transformed, false)
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), scripted, rec), rec)

	require.NoError(t, c.Mount(context.Background()))

	assert.Equal(t, domain.StateLoaded, c.State())
	assert.Equal(t, []string{transformed, source}, scripted.Calls())
	loads, _ := rec.counts()
	assert.Equal(t, 1, loads)
}

func TestController_MountTwice(t *testing.T) {
	rec := &recorder{}
	c := newController(t, newRequest(false), newConfig(visibility.NewObserver(), &manualLoader{}, rec), rec)
	require.NoError(t, c.Mount(context.Background()))
	assert.ErrorIs(t, c.Mount(context.Background()), domain.ErrInvalidTransition)
}

func TestController_LoadTimeoutTriggersFallback(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	cfg := newConfig(visibility.NewImmediate(), l, rec)
	cfg.LoadTimeout = 10 * time.Millisecond
	c := newController(t, newRequest(true), cfg, rec)
	require.NoError(t, c.Mount(context.Background()))

	require.Eventually(t, func() bool {
		_, errs := rec.counts()
		return errs == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.StateFallbackErrored, c.State())
	assert.Equal(t, 2, l.count())
	assert.ErrorIs(t, rec.errs[0].Err, domain.ErrLoadTimeout)

	// A real completion after the deadline is stale.
	l.at(t, 1).done(domain.AssetInfo{}, nil)
	assert.Equal(t, domain.StateFallbackErrored, c.State())
}

func TestController_ProbeRunsOncePerProcess(t *testing.T) {
	var runs atomic.Int32
	probe := negotiate.ProbeFunc(func() (bool, error) {
		runs.Add(1)
		return true, nil
	})
	formats := negotiate.New(probe)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &recorder{}
			cfg := newConfig(visibility.NewImmediate(), &manualLoader{}, rec)
			cfg.Formats = formats
			c := newController(t, newRequest(true), cfg, rec)
			assert.NoError(t, c.Mount(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
}

func TestNewController_Validation(t *testing.T) {
	rec := &recorder{}

	cfg := newConfig(visibility.NewImmediate(), nil, rec)
	_, err := runtime.NewController("x", newRequest(false), target, rec.callbacks(), cfg)
	assert.ErrorContains(t, err, "asset loader is required")

	cfg = newConfig(visibility.NewImmediate(), &manualLoader{}, rec)
	_, err = runtime.NewController("x", domain.NewImageRequest(""), target, rec.callbacks(), cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

// blockingFetcher holds every fetch until its context ends.
type blockingFetcher struct {
	started chan string
}

func (b *blockingFetcher) Fetch(ctx context.Context, url string) (domain.AssetInfo, error) {
	b.started <- url
	<-ctx.Done()
	return domain.AssetInfo{}, ctx.Err()
}

func TestController_MountContextCancelDisposesInFlight(t *testing.T) {
	rec := &recorder{}
	fetcher := &blockingFetcher{started: make(chan string, 2)}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), loader.NewAsync(fetcher), rec), rec)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Mount(ctx))
	assert.Equal(t, transformed, <-fetcher.started)

	cancel()

	require.Eventually(t, func() bool { return c.State() == domain.StateDisposed }, time.Second, 5*time.Millisecond)
	// Give a stray fallback attempt the chance to show up.
	time.Sleep(20 * time.Millisecond)

	loads, errs := rec.counts()
	assert.Zero(t, loads)
	assert.Zero(t, errs)
	assert.Empty(t, fetcher.started, "no fallback attempt after cancellation")
	assert.False(t, c.Snapshot().Unavailable)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"idle->loading", "loading->disposed"}, rec.transitions)
}

func TestController_MountContextCancelReleasesSubscription(t *testing.T) {
	rec := &recorder{}
	obs := visibility.NewObserver()
	l := &manualLoader{}
	c := newController(t, newRequest(false), newConfig(obs, l, rec), rec)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Mount(ctx))
	require.Equal(t, 1, obs.Pending())

	cancel()

	require.Eventually(t, func() bool { return c.State() == domain.StateDisposed }, time.Second, 5*time.Millisecond)
	assert.Zero(t, obs.Pending())
	assert.Zero(t, obs.Report(target, domain.Intersection{Ratio: 1}))
	assert.Zero(t, l.count())
}

func TestController_CancelledCompletionIsNotAnAssetFailure(t *testing.T) {
	rec := &recorder{}
	l := &manualLoader{}
	c := newController(t, newRequest(true), newConfig(visibility.NewImmediate(), l, rec), rec)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Mount(ctx))
	cancel()

	// The completion may race the disposal triggered by the cancelled context.
	l.at(t, 0).done(domain.AssetInfo{}, context.Canceled)

	require.Eventually(t, func() bool { return c.State() == domain.StateDisposed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, l.count())
	loads, errs := rec.counts()
	assert.Zero(t, loads)
	assert.Zero(t, errs)
}
