package glimpse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/internal/runtime"
	"github.com/aretw0/glimpse/pkg/adapters/loader"
	"github.com/aretw0/glimpse/pkg/adapters/visibility"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
	"github.com/aretw0/glimpse/pkg/observability"
	"github.com/aretw0/glimpse/pkg/placeholder"
	"github.com/aretw0/glimpse/pkg/ports"
	"github.com/aretw0/glimpse/pkg/session"
	"github.com/aretw0/glimpse/pkg/urlcompose"
)

// Pipeline is the high-level entry point of the library.
// It holds the shared collaborators and mounts one controller per image request.
type Pipeline struct {
	negotiator  *negotiate.Negotiator
	probe       ports.CapabilityProbe
	composer    *urlcompose.Composer
	synth       *placeholder.Synthesizer
	visibility  ports.VisibilityPort
	loader      ports.AssetLoader
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	loadTimeout time.Duration
	sessions    *session.Manager
	metrics     *observability.Metrics
	hostOrigin  string
	formatName  string
}

// Option defines a functional option for configuring the Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(p *Pipeline) {
		p.hooks = hooks
	}
}

// WithHostOrigin sets the origin whose assets honor the transformation query contract.
func WithHostOrigin(origin string) Option {
	return func(p *Pipeline) {
		p.hostOrigin = origin
	}
}

// WithFormatName overrides the format parameter value sent for next-gen requests.
func WithFormatName(name string) Option {
	return func(p *Pipeline) {
		p.formatName = name
	}
}

// WithNegotiator injects a format negotiator instead of the process-wide default.
func WithNegotiator(n *negotiate.Negotiator) Option {
	return func(p *Pipeline) {
		p.negotiator = n
	}
}

// WithProbe builds a dedicated negotiator around probe.
func WithProbe(probe ports.CapabilityProbe) Option {
	return func(p *Pipeline) {
		p.probe = probe
	}
}

// WithVisibility injects the viewport visibility port (default: visibility.Immediate).
func WithVisibility(v ports.VisibilityPort) Option {
	return func(p *Pipeline) {
		p.visibility = v
	}
}

// WithLoader injects the asset loader (default: HTTP fetches on background goroutines).
func WithLoader(l ports.AssetLoader) Option {
	return func(p *Pipeline) {
		p.loader = l
	}
}

// WithFetcher loads assets through f on background goroutines.
func WithFetcher(f ports.Fetcher) Option {
	return func(p *Pipeline) {
		p.loader = loader.NewAsync(f)
	}
}

// WithSynthesizer injects a placeholder synthesizer.
func WithSynthesizer(s *placeholder.Synthesizer) Option {
	return func(p *Pipeline) {
		p.synth = s
	}
}

// WithLoadTimeout bounds every load attempt. An expired attempt counts as a failure.
func WithLoadTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.loadTimeout = d
	}
}

// WithSessions persists a snapshot of every mounted request through m.
func WithSessions(m *session.Manager) Option {
	return func(p *Pipeline) {
		p.sessions = m
	}
}

// WithMetrics records Prometheus metrics for every mounted request.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New initializes a Pipeline.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{formatName: domain.DefaultFormatParamTag}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if p.loadTimeout < 0 {
		return nil, fmt.Errorf("load timeout must not be negative (got %s)", p.loadTimeout)
	}

	if p.metrics != nil {
		p.hooks = observability.ChainHooks(p.hooks, p.metrics.Hooks())
	}

	switch {
	case p.negotiator != nil && p.probe != nil:
		return nil, fmt.Errorf("WithNegotiator and WithProbe are mutually exclusive")
	case p.probe != nil:
		p.negotiator = negotiate.New(p.probe,
			negotiate.WithLogger(p.logger),
			negotiate.WithLifecycleHooks(p.hooks),
		)
	case p.negotiator == nil:
		p.negotiator = negotiate.Default()
	}

	p.composer = urlcompose.New(p.hostOrigin)
	p.composer.FormatName = p.formatName
	if p.synth == nil {
		p.synth = placeholder.New()
	}
	if p.visibility == nil {
		p.visibility = visibility.NewImmediate()
	}
	if p.loader == nil {
		p.loader = loader.NewAsync(loader.NewHTTPFetcher(loader.WithLogger(p.logger)))
	}
	return p, nil
}

// Mount creates the controller for req and starts it.
func (p *Pipeline) Mount(ctx context.Context, req domain.ImageRequest, target domain.TargetID, cb domain.Callbacks) (*Image, error) {
	id := uuid.NewString()

	hooks := p.hooks
	if p.sessions != nil {
		hooks = observability.ChainHooks(hooks, domain.LifecycleHooks{OnTransition: p.sessions.TransitionHook()})
	}
	if p.metrics != nil {
		cb = p.metrics.Observe(cb)
	}

	ctrl, err := runtime.NewController(id, req, target, cb, runtime.Config{
		Visibility:   p.visibility,
		Loader:       p.loader,
		Formats:      p.negotiator,
		Composer:     p.composer,
		Placeholders: p.synth,
		Hooks:        hooks,
		Logger:       p.logger,
		LoadTimeout:  p.loadTimeout,
	})
	if err != nil {
		return nil, err
	}

	if p.sessions != nil {
		if err := p.sessions.Track(ctx, id, ctrl); err != nil {
			return nil, fmt.Errorf("failed to track request: %w", err)
		}
	}
	if err := ctrl.Mount(ctx); err != nil {
		return nil, err
	}

	p.logger.Debug("Request mounted", "request_id", id, "src", req.SourceURL, "target", target)
	return &Image{ctrl: ctrl, pipeline: p}, nil
}

// Compose returns the delivery URL the pipeline would request for req.
func (p *Pipeline) Compose(req domain.ImageRequest) (string, domain.NegotiatedFormat) {
	format := p.negotiator.Resolve(req)
	return p.composer.Compose(req.SourceURL, urlcompose.ForRequest(req, format)), format
}

// ComposeWithProbe is Compose negotiated against probe instead of the pipeline's
// negotiator, e.g. a client's Accept header on a server-rendered target.
func (p *Pipeline) ComposeWithProbe(req domain.ImageRequest, probe ports.CapabilityProbe) (string, domain.NegotiatedFormat) {
	format := negotiate.New(probe, negotiate.WithLogger(p.logger)).Resolve(req)
	return p.composer.Compose(req.SourceURL, urlcompose.ForRequest(req, format)), format
}

// Placeholder returns the placeholder token for the given dimensions.
func (p *Pipeline) Placeholder(width, height int) domain.PlaceholderToken {
	return p.synth.Synthesize(width, height)
}

// Sessions returns the configured session manager, or nil.
func (p *Pipeline) Sessions() *session.Manager {
	return p.sessions
}

// Close releases every request tracked by the session manager.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.sessions == nil {
		return nil
	}
	return p.sessions.Close(ctx)
}

// Image is a mounted image request.
type Image struct {
	ctrl     *runtime.Controller
	pipeline *Pipeline
}

// ID returns the request identifier.
func (i *Image) ID() string {
	return i.ctrl.ID()
}

// State returns the current load state.
func (i *Image) State() domain.LoadState {
	return i.ctrl.State()
}

// Request returns the active request.
func (i *Image) Request() domain.ImageRequest {
	return i.ctrl.Request()
}

// Snapshot returns the render state.
func (i *Image) Snapshot() domain.RenderState {
	return i.ctrl.Snapshot()
}

// Update retargets the image. See runtime.Controller.Update.
func (i *Image) Update(req domain.ImageRequest) error {
	return i.ctrl.Update(req)
}

// Teardown disposes the image. Idempotent.
func (i *Image) Teardown() {
	if i.pipeline.sessions == nil {
		i.ctrl.Teardown()
		return
	}
	if _, live := i.pipeline.sessions.Live(i.ID()); !live {
		i.ctrl.Teardown()
		return
	}
	if err := i.pipeline.sessions.Release(context.Background(), i.ID()); err != nil {
		i.pipeline.logger.Warn("Failed to release request", "request_id", i.ID(), "err", err)
	}
}
