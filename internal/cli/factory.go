package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aretw0/glimpse"
	"github.com/aretw0/glimpse/internal/config"
	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/adapters/file"
	"github.com/aretw0/glimpse/pkg/adapters/loader"
	"github.com/aretw0/glimpse/pkg/adapters/memory"
	"github.com/aretw0/glimpse/pkg/adapters/redis"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
	"github.com/aretw0/glimpse/pkg/observability"
	"github.com/aretw0/glimpse/pkg/persistence/middleware"
	"github.com/aretw0/glimpse/pkg/ports"
	"github.com/aretw0/glimpse/pkg/session"
)

// Stack is a pipeline with the infrastructure built around it.
type Stack struct {
	Pipeline *glimpse.Pipeline
	Sessions *session.Manager
	Registry *prometheus.Registry // nil when metrics are disabled

	closers []func() error
}

// Close releases tracked requests and backend connections.
func (s *Stack) Close(ctx context.Context) error {
	return errors.Join(s.Pipeline.Close(ctx), s.closeBackends())
}

// NewLogger configures the application logger from cfg.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	return logging.New(logging.ParseLevel(cfg.Level), logging.Format(strings.ToLower(cfg.Format)))
}

// NewProbe maps the configured probe mode to a capability probe.
func NewProbe(mode string) ports.CapabilityProbe {
	switch mode {
	case config.ProbeOn:
		return negotiate.Static(true)
	case config.ProbeOff:
		return negotiate.Static(false)
	default:
		return negotiate.DecodeProbe()
	}
}

// BuildStack creates a pipeline from cfg. Snapshots go to Redis when an address is
// configured, then to store.dir, memory otherwise.
func BuildStack(ctx context.Context, cfg config.Config, logger *slog.Logger, hooks domain.LifecycleHooks, extra ...glimpse.Option) (*Stack, error) {
	stack := &Stack{}

	var store ports.SnapshotStore = memory.NewStore()
	sessionOpts := []session.Option{session.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		redisStore := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		if err := redisStore.Ping(ctx); err != nil {
			_ = redisStore.Client().Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		stack.closers = append(stack.closers, redisStore.Client().Close)
		store = redisStore
		if cfg.Redis.Lock {
			sessionOpts = append(sessionOpts, session.WithLocker(redis.NewLocker(redisStore.Client(), cfg.Redis.Prefix)))
		}
		logger.Info("Using redis snapshot store", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	} else if cfg.Store.Dir != "" {
		store = file.New(cfg.Store.Dir)
		logger.Info("Using file snapshot store", "dir", cfg.Store.Dir)
	}
	protected, err := protectStore(store, cfg.Store)
	if err != nil {
		return nil, errors.Join(err, stack.closeBackends())
	}
	stack.Sessions = session.NewManager(protected, sessionOpts...)

	fetcherOpts := []loader.HTTPOption{loader.WithLogger(logger)}
	if cfg.Fetch.BaseURL != "" {
		fetcherOpts = append(fetcherOpts, loader.WithBaseURL(cfg.Fetch.BaseURL))
	}
	if cfg.Fetch.Timeout > 0 {
		fetcherOpts = append(fetcherOpts, loader.WithClient(&http.Client{Timeout: cfg.Fetch.Timeout}))
	}
	fetcher := loader.NewHTTPFetcher(fetcherOpts...)

	opts := []glimpse.Option{
		glimpse.WithLogger(logger),
		glimpse.WithHostOrigin(cfg.HostOrigin),
		glimpse.WithFormatName(cfg.FormatName),
		glimpse.WithProbe(NewProbe(cfg.Probe)),
		glimpse.WithFetcher(fetcher),
		glimpse.WithLoadTimeout(cfg.LoadTimeout),
		glimpse.WithLifecycleHooks(observability.ChainHooks(debugHooks(logger), hooks)),
		glimpse.WithSessions(stack.Sessions),
	}
	if cfg.Metrics {
		stack.Registry = prometheus.NewRegistry()
		stack.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, glimpse.WithMetrics(observability.NewMetrics(stack.Registry)))
	}
	opts = append(opts, extra...)

	pipe, err := glimpse.New(opts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error initializing pipeline: %w", err), stack.closeBackends())
	}
	stack.Pipeline = pipe
	return stack, nil
}

// protectStore wraps store with the configured redaction and encryption.
func protectStore(store ports.SnapshotStore, cfg config.StoreConfig) (ports.SnapshotStore, error) {
	var mws []middleware.Middleware
	if len(cfg.Redact) > 0 {
		redact, err := middleware.NewRedactionMiddleware(cfg.Redact)
		if err != nil {
			return nil, fmt.Errorf("invalid store.redact pattern: %w", err)
		}
		mws = append(mws, redact)
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		seal, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			return nil, err
		}
		mws = append(mws, seal)
	}
	return middleware.Chain(store, mws...), nil
}

func (s *Stack) closeBackends() error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			logger.Debug("Transition", "request_id", e.RequestID, "from", e.From, "to", e.To, "cause", e.Cause)
		},
		OnProbe: func(ctx context.Context, e *domain.ProbeEvent) {
			logger.Info("Capability probe", "nextgen", e.Supported, "err", e.Err)
		},
	}
}
