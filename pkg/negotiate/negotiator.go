package negotiate

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

// Negotiator memoizes the outcome of a capability probe.
type Negotiator struct {
	probe  ports.CapabilityProbe
	hooks  domain.LifecycleHooks
	logger *slog.Logger

	once      sync.Once
	supported bool
}

// Option configures the Negotiator.
type Option func(*Negotiator)

// WithLogger configures a logger for probe failures.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// WithLifecycleHooks registers the OnProbe hook.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(n *Negotiator) {
		n.hooks = hooks
	}
}

// New creates a Negotiator around the given probe.
// A nil probe always resolves to unsupported.
func New(probe ports.CapabilityProbe, opts ...Option) *Negotiator {
	n := &Negotiator{
		probe:  probe,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SupportsNextGen runs the probe on first call and returns the cached value afterwards.
func (n *Negotiator) SupportsNextGen() bool {
	n.once.Do(func() {
		supported, err := n.run()
		if err != nil {
			n.logger.Warn("Capability probe failed, assuming original encoding only", "err", err)
			supported = false
		}
		n.supported = supported
		if n.hooks.OnProbe != nil {
			n.hooks.OnProbe(context.Background(), &domain.ProbeEvent{
				Timestamp: time.Now(),
				Supported: supported,
				Err:       err,
			})
		}
	})
	return n.supported
}

// run invokes the probe, converting panics and ProbeFunc errors into ErrCapabilityProbe.
func (n *Negotiator) run() (supported bool, err error) {
	if n.probe == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			supported = false
			err = fmt.Errorf("%w: panic: %v", domain.ErrCapabilityProbe, r)
		}
	}()

	if ep, ok := n.probe.(ErrorProbe); ok {
		supported, err = ep.Probe()
		if err != nil && !errors.Is(err, domain.ErrCapabilityProbe) {
			err = fmt.Errorf("%w: %w", domain.ErrCapabilityProbe, err)
		}
		return supported, err
	}
	return n.probe.SupportsNextGen(), nil
}

// Resolve returns the format to request for req.
// Requests that disable or force a format never trigger the probe.
func (n *Negotiator) Resolve(req domain.ImageRequest) domain.NegotiatedFormat {
	switch {
	case req.Format == domain.ForceOriginal, req.DisableNextGen && req.Format != domain.ForceNextGen:
		return domain.FormatOriginal
	case req.Format == domain.ForceNextGen:
		return domain.FormatNextGen
	case n.SupportsNextGen():
		return domain.FormatNextGen
	default:
		return domain.FormatOriginal
	}
}

var (
	defaultMu    sync.Mutex
	defaultProbe ports.CapabilityProbe = DecodeProbe()
	defaultNeg   *Negotiator
)

// Default returns the process-wide Negotiator. It is created on first use with the
// probe set by SetDefaultProbe, or DecodeProbe when none was set.
func Default() *Negotiator {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultNeg == nil {
		defaultNeg = New(defaultProbe)
	}
	return defaultNeg
}

// SetDefaultProbe replaces the probe of the process-wide Negotiator.
// It fails once Default has been called, since the negotiated format is never invalidated.
func SetDefaultProbe(probe ports.CapabilityProbe) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultNeg != nil {
		return errors.New("negotiate: default negotiator already initialized")
	}
	defaultProbe = probe
	return nil
}
