package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Load outcomes reported by glimpse_load_outcomes_total.
const (
	OutcomeLoaded         = "loaded"
	OutcomeFallbackLoaded = "fallback_loaded"
	OutcomeUnavailable    = "unavailable"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	StaleCompletions prometheus.Counter
	ProbeExecutions  *prometheus.CounterVec
	LoadDuration     *prometheus.HistogramVec

	mu      sync.Mutex
	started map[string]time.Time
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glimpse_transitions_total",
				Help: "Total number of load state transitions",
			},
			[]string{"from", "to"},
		),
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glimpse_load_outcomes_total",
				Help: "Terminal outcomes of image requests",
			},
			[]string{"outcome"},
		),
		StaleCompletions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glimpse_stale_completions_total",
				Help: "Load completions discarded because their attempt was superseded",
			},
		),
		ProbeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glimpse_probe_executions_total",
				Help: "Capability probe executions by result",
			},
			[]string{"result"},
		),
		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "glimpse_load_duration_seconds",
				Help:    "Time from the first load attempt to a terminal state",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"to"},
		),
		started: make(map[string]time.Time),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.Outcomes, m.StaleCompletions, m.ProbeExecutions, m.LoadDuration)
	}
	return m
}

// Hooks returns lifecycle hooks recording transitions, stale completions and probes.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.From.String(), e.To.String()).Inc()
			m.observeDuration(e)
		},
		OnStaleCompletion: func(context.Context, *domain.CompletionEvent) {
			m.StaleCompletions.Inc()
		},
		OnProbe: func(_ context.Context, e *domain.ProbeEvent) {
			result := strconv.FormatBool(e.Supported)
			if e.Err != nil {
				result = "error"
			}
			m.ProbeExecutions.WithLabelValues(result).Inc()
		},
	}
}

func (m *Metrics) observeDuration(e *domain.TransitionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case e.To == domain.StateLoading:
		m.started[e.RequestID] = e.Timestamp
	case e.To.IsTerminal():
		start, ok := m.started[e.RequestID]
		if !ok {
			return
		}
		delete(m.started, e.RequestID)
		// Disposal is not a load outcome.
		if e.To != domain.StateDisposed {
			m.LoadDuration.WithLabelValues(e.To.String()).Observe(e.Timestamp.Sub(start).Seconds())
		}
	}
}

// Observe wraps cb so that terminal outcomes are counted.
func (m *Metrics) Observe(cb domain.Callbacks) domain.Callbacks {
	return domain.Callbacks{
		OnLoad: func(info domain.LoadInfo) {
			outcome := OutcomeLoaded
			if info.Fallback {
				outcome = OutcomeFallbackLoaded
			}
			m.Outcomes.WithLabelValues(outcome).Inc()
			if cb.OnLoad != nil {
				cb.OnLoad(info)
			}
		},
		OnError: func(info domain.LoadInfo) {
			m.Outcomes.WithLabelValues(OutcomeUnavailable).Inc()
			if cb.OnError != nil {
				cb.OnError(info)
			}
		},
	}
}

// ChainHooks returns hooks invoking each non-nil hook in order.
func ChainHooks(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks

	var transitions []func(context.Context, *domain.TransitionEvent)
	var stale []func(context.Context, *domain.CompletionEvent)
	var probes []func(context.Context, *domain.ProbeEvent)
	for _, h := range hooks {
		if h.OnTransition != nil {
			transitions = append(transitions, h.OnTransition)
		}
		if h.OnStaleCompletion != nil {
			stale = append(stale, h.OnStaleCompletion)
		}
		if h.OnProbe != nil {
			probes = append(probes, h.OnProbe)
		}
	}

	if len(transitions) > 0 {
		out.OnTransition = func(ctx context.Context, e *domain.TransitionEvent) {
			for _, fn := range transitions {
				fn(ctx, e)
			}
		}
	}
	if len(stale) > 0 {
		out.OnStaleCompletion = func(ctx context.Context, e *domain.CompletionEvent) {
			for _, fn := range stale {
				fn(ctx, e)
			}
		}
	}
	if len(probes) > 0 {
		out.OnProbe = func(ctx context.Context, e *domain.ProbeEvent) {
			for _, fn := range probes {
				fn(ctx, e)
			}
		}
	}
	return out
}
