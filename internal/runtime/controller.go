package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/placeholder"
	"github.com/aretw0/glimpse/pkg/ports"
	"github.com/aretw0/glimpse/pkg/urlcompose"
)

// FormatResolver decides the encoding to request for an image request.
// *negotiate.Negotiator implements it.
type FormatResolver interface {
	Resolve(req domain.ImageRequest) domain.NegotiatedFormat
}

// Config carries the collaborators of a Controller.
type Config struct {
	Visibility   ports.VisibilityPort
	Loader       ports.AssetLoader
	Formats      FormatResolver
	Composer     *urlcompose.Composer
	Placeholders *placeholder.Synthesizer
	Hooks        domain.LifecycleHooks
	Logger       *slog.Logger

	// LoadTimeout bounds each load attempt. Zero waits indefinitely.
	LoadTimeout time.Duration
}

func (cfg Config) validate() error {
	switch {
	case cfg.Visibility == nil:
		return errors.New("visibility port is required")
	case cfg.Loader == nil:
		return errors.New("asset loader is required")
	case cfg.Formats == nil:
		return errors.New("format resolver is required")
	case cfg.Composer == nil:
		return errors.New("url composer is required")
	case cfg.Placeholders == nil:
		return errors.New("placeholder synthesizer is required")
	}
	return nil
}

// Controller is the per-request load state machine.
// It is safe for concurrent use: port callbacks may arrive from any goroutine.
// Ports and user callbacks are never invoked while the internal lock is held.
type Controller struct {
	id     string
	target domain.TargetID
	cfg    Config
	cb     domain.Callbacks
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	req         domain.ImageRequest
	state       domain.LoadState
	mounted     bool
	generation  uint64 // bumped when Update supersedes the request
	token       uint64 // active load attempt, 0 when none
	seq         uint64
	deliveryURL string
	fallback    bool
	notified    bool
	placeholder domain.PlaceholderToken

	sub        ports.Subscription
	subscribed bool

	cancelLoad context.CancelFunc
	timer      *time.Timer
}

// NewController creates an idle controller for req.
func NewController(id string, req domain.ImageRequest, target domain.TargetID, cb domain.Callbacks, cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	return &Controller{
		id:          id,
		target:      target,
		cfg:         cfg,
		cb:          cb,
		logger:      cfg.Logger.With("request_id", id),
		req:         req,
		state:       domain.StateIdle,
		placeholder: cfg.Placeholders.Synthesize(req.Width, req.Height),
	}, nil
}

// ID returns the request identifier.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current LoadState.
func (c *Controller) State() domain.LoadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Request returns the active image request.
func (c *Controller) Request() domain.ImageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

// Snapshot returns the render state consumed by the rendering layer.
func (c *Controller) Snapshot() domain.RenderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.RenderState{
		Placeholder: c.placeholder,
		DeliveryURL: c.deliveryURL,
		Loaded:      c.state == domain.StateLoaded,
		Unavailable: c.state == domain.StateErrored || c.state == domain.StateFallbackErrored,
		State:       c.state,
	}
}

// Mount starts the request. Priority and eager requests enter Loading before Mount
// returns; others subscribe to the visibility port. Cancelling ctx disposes the
// controller without invoking any callback.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.StateDisposed {
		c.mu.Unlock()
		return domain.ErrDisposed
	}
	if c.mounted {
		c.mu.Unlock()
		return fmt.Errorf("%w: request %s already mounted", domain.ErrInvalidTransition, c.id)
	}
	c.mounted = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	context.AfterFunc(c.ctx, c.Teardown)
	c.start()
	return nil
}

// start dispatches the mount event for the current generation.
func (c *Controller) start() {
	c.mu.Lock()
	gen, req := c.generation, c.req
	c.mu.Unlock()

	eager := req.SkipsObservation()
	var url string
	if eager {
		url = c.compose(req)
	}

	c.mu.Lock()
	if gen != c.generation || c.state != domain.StateIdle {
		c.mu.Unlock()
		return
	}
	acts, trs := c.transitionLocked(domain.Event{Kind: domain.EventMount, Priority: eager}, input{url: url})
	c.mu.Unlock()

	c.emit(trs)
	c.perform(acts)
}

// Update retargets the controller. A request with a different identity supersedes
// the current one: its subscription is released, its in-flight attempt voided and
// the new request is mounted from Idle. Same-identity updates are ignored.
func (c *Controller) Update(req domain.ImageRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == domain.StateDisposed {
		c.mu.Unlock()
		return domain.ErrDisposed
	}
	if c.req.SameIdentity(req) {
		c.mu.Unlock()
		return nil
	}

	var acts []action
	if c.subscribed {
		acts = append(acts, action{kind: actCancelSubscription, sub: c.sub})
		c.subscribed = false
	}
	c.endAttemptLocked()
	prev := c.state

	c.generation++
	c.req = req
	c.state = domain.StateIdle
	c.deliveryURL = ""
	c.fallback = false
	c.notified = false
	c.placeholder = c.cfg.Placeholders.Synthesize(req.Width, req.Height)
	mounted := c.mounted
	c.mu.Unlock()

	c.logger.Debug("Request superseded", "from_state", prev, "src", req.SourceURL)
	c.perform(acts)
	if mounted {
		c.start()
	}
	return nil
}

// Teardown disposes the controller. The visibility subscription is released and
// every callback arriving afterwards is ignored. Idempotent.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.state == domain.StateDisposed {
		c.mu.Unlock()
		return
	}
	acts, trs := c.disposeLocked()
	c.mu.Unlock()

	c.emit(trs)
	c.perform(acts)
}

// disposeLocked moves to Disposed and cancels the mount context. Must be called with c.mu held.
func (c *Controller) disposeLocked() ([]action, []domain.TransitionEvent) {
	acts, trs := c.transitionLocked(domain.Event{Kind: domain.EventDispose}, input{})
	if c.cancel != nil {
		c.cancel()
	}
	return acts, trs
}

func (c *Controller) compose(req domain.ImageRequest) string {
	format := c.cfg.Formats.Resolve(req)
	return c.cfg.Composer.Compose(req.SourceURL, urlcompose.ForRequest(req, format))
}

func (c *Controller) handleVisible(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != domain.StateObserving {
		c.mu.Unlock()
		c.logger.Debug("Ignoring visibility trigger", "generation", gen)
		return
	}
	// The port releases a subscription once it fires.
	c.subscribed = false
	req := c.req
	c.mu.Unlock()

	url := c.compose(req)

	c.mu.Lock()
	if gen != c.generation || c.state != domain.StateObserving {
		c.mu.Unlock()
		return
	}
	acts, trs := c.transitionLocked(domain.Event{Kind: domain.EventVisible}, input{url: url})
	c.mu.Unlock()

	c.emit(trs)
	c.perform(acts)
}

func (c *Controller) handleCompletion(gen, token uint64, url string, info domain.AssetInfo, err error) {
	c.mu.Lock()
	if c.state == domain.StateDisposed {
		c.mu.Unlock()
		c.logger.Debug("Discarding completion after teardown", "url", url)
		return
	}
	if gen != c.generation || token != c.token {
		active := c.token
		c.mu.Unlock()
		c.logger.Debug("Discarding stale completion", "url", url, "token", token, "active", active)
		if c.cfg.Hooks.OnStaleCompletion != nil {
			c.cfg.Hooks.OnStaleCompletion(context.Background(), &domain.CompletionEvent{
				Timestamp: time.Now(),
				RequestID: c.id,
				URL:       url,
				Token:     token,
				Active:    active,
				Succeeded: err == nil,
			})
		}
		return
	}

	if c.ctx != nil && c.ctx.Err() != nil {
		// The host abandoned the request: a failure caused by cancellation is not an asset failure.
		acts, trs := c.disposeLocked()
		c.mu.Unlock()
		c.logger.Debug("Mount context done, disposing", "url", url, "err", c.ctx.Err())
		c.emit(trs)
		c.perform(acts)
		return
	}

	ev := domain.Event{Kind: domain.EventLoadSucceeded}
	if err != nil {
		ev = domain.Event{Kind: domain.EventLoadFailed, Untransformed: url == c.req.SourceURL}
	}
	acts, trs := c.transitionLocked(ev, input{url: url, info: info, err: err})
	c.mu.Unlock()

	c.emit(trs)
	c.perform(acts)
}

// input carries event payloads into transitionLocked.
type input struct {
	url  string
	info domain.AssetInfo
	err  error
}

type actionKind int

const (
	actSubscribe actionKind = iota
	actCancelSubscription
	actLoad
	actNotifyLoad
	actNotifyError
)

// action is a side effect planned under the lock and performed after releasing it.
type action struct {
	kind      actionKind
	gen       uint64
	token     uint64
	url       string
	ctx       context.Context
	threshold domain.ViewportThreshold
	sub       ports.Subscription
	info      domain.LoadInfo
}

// transitionLocked applies ev to the state machine. Must be called with c.mu held.
func (c *Controller) transitionLocked(ev domain.Event, in input) ([]action, []domain.TransitionEvent) {
	from := c.state
	step, err := domain.Next(from, ev)
	if err != nil {
		c.logger.Debug("Ignoring event", "event", ev.Kind, "state", from, "err", err)
		return nil, nil
	}
	c.state = step.To()

	var acts []action
	for _, eff := range step.Effects {
		switch eff {
		case domain.EffectSubscribe:
			acts = append(acts, action{kind: actSubscribe, gen: c.generation, threshold: c.req.Threshold})

		case domain.EffectCancelSubscription:
			if c.subscribed {
				acts = append(acts, action{kind: actCancelSubscription, sub: c.sub})
				c.subscribed = false
			}

		case domain.EffectStartLoad:
			acts = append(acts, c.beginAttemptLocked(in.url))

		case domain.EffectStartFallback:
			c.logger.Warn("Transformed asset failed, retrying original",
				"url", in.url,
				"err", fmt.Errorf("%w: %w", domain.ErrTransformedAssetLoad, in.err),
			)
			c.endAttemptLocked()
			c.fallback = true
			acts = append(acts, c.beginAttemptLocked(c.req.SourceURL))

		case domain.EffectAbortLoad:
			c.endAttemptLocked()

		case domain.EffectNotifyLoad:
			c.endAttemptLocked()
			if !c.notified {
				c.notified = true
				acts = append(acts, action{kind: actNotifyLoad, info: c.loadInfoLocked(in, nil)})
			}

		case domain.EffectNotifyError:
			c.endAttemptLocked()
			if !c.notified {
				c.notified = true
				cause := fmt.Errorf("%w: %w", domain.ErrOriginalAssetLoad, in.err)
				c.logger.Warn("Image unavailable", "url", in.url, "err", cause)
				acts = append(acts, action{kind: actNotifyError, info: c.loadInfoLocked(in, cause)})
			}
		}
	}

	now := time.Now()
	trs := make([]domain.TransitionEvent, 0, len(step.Path))
	prev := from
	for _, to := range step.Path {
		trs = append(trs, domain.TransitionEvent{
			Timestamp: now,
			RequestID: c.id,
			From:      prev,
			To:        to,
			Cause:     ev.Kind,
			URL:       c.deliveryURL,
		})
		prev = to
	}
	return acts, trs
}

// beginAttemptLocked makes url the single in-flight delivery URL.
func (c *Controller) beginAttemptLocked(url string) action {
	c.seq++
	token, gen := c.seq, c.generation
	c.token = token
	c.deliveryURL = url

	parent := c.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancelLoad = cancel

	if c.cfg.LoadTimeout > 0 {
		c.timer = time.AfterFunc(c.cfg.LoadTimeout, func() {
			c.handleCompletion(gen, token, url, domain.AssetInfo{}, domain.ErrLoadTimeout)
		})
	}
	return action{kind: actLoad, gen: gen, token: token, url: url, ctx: ctx}
}

// endAttemptLocked voids the in-flight attempt, if any.
func (c *Controller) endAttemptLocked() {
	c.token = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
}

func (c *Controller) loadInfoLocked(in input, err error) domain.LoadInfo {
	return domain.LoadInfo{
		RequestID:   c.id,
		SourceURL:   c.req.SourceURL,
		DeliveryURL: in.url,
		Fallback:    c.fallback,
		Asset:       in.info,
		Err:         err,
	}
}

func (c *Controller) holdSubscription(gen uint64, sub ports.Subscription) {
	c.mu.Lock()
	if gen == c.generation && c.state == domain.StateObserving {
		c.sub = sub
		c.subscribed = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	// Fired during Subscribe, superseded or disposed meanwhile.
	c.cfg.Visibility.Cancel(sub)
}

func (c *Controller) perform(acts []action) {
	for _, a := range acts {
		switch a.kind {
		case actSubscribe:
			sub := c.cfg.Visibility.Subscribe(c.target, a.threshold, func() {
				c.handleVisible(a.gen)
			})
			c.holdSubscription(a.gen, sub)

		case actCancelSubscription:
			c.cfg.Visibility.Cancel(a.sub)

		case actLoad:
			c.logger.Debug("Loading asset", "url", a.url, "token", a.token)
			c.cfg.Loader.Load(a.ctx, a.url, func(info domain.AssetInfo, err error) {
				c.handleCompletion(a.gen, a.token, a.url, info, err)
			})

		case actNotifyLoad:
			c.logger.Debug("Image loaded", "url", a.info.DeliveryURL, "fallback", a.info.Fallback)
			if c.cb.OnLoad != nil {
				c.cb.OnLoad(a.info)
			}

		case actNotifyError:
			if c.cb.OnError != nil {
				c.cb.OnError(a.info)
			}
		}
	}
}

func (c *Controller) emit(trs []domain.TransitionEvent) {
	if c.cfg.Hooks.OnTransition == nil {
		return
	}
	ctx := context.Background()
	for i := range trs {
		c.cfg.Hooks.OnTransition(ctx, &trs[i])
	}
}
