package domain

import "fmt"

// Effect is a side effect the controller performs after a transition.
type Effect string

const (
	EffectSubscribe          Effect = "subscribe"
	EffectCancelSubscription Effect = "cancel_subscription"
	EffectStartLoad          Effect = "start_load"
	EffectStartFallback      Effect = "start_fallback"
	EffectAbortLoad          Effect = "abort_load"
	EffectNotifyLoad         Effect = "notify_load"
	EffectNotifyError        Effect = "notify_error"
)

// Step is the outcome of a transition.
type Step struct {
	// Path lists every state entered, in order. The last entry is the resting state.
	Path    []LoadState
	Effects []Effect
}

// To returns the resting state of the step.
func (s Step) To() LoadState {
	return s.Path[len(s.Path)-1]
}

// Has reports whether the step carries the given effect.
func (s Step) Has(e Effect) bool {
	for _, eff := range s.Effects {
		if eff == e {
			return true
		}
	}
	return false
}

func step(effects []Effect, path ...LoadState) Step {
	return Step{Path: path, Effects: effects}
}

// Next is the transition table of the load controller.
// It is pure: the caller applies the returned effects.
func Next(from LoadState, ev Event) (Step, error) {
	if ev.Kind == EventDispose {
		switch from {
		case StateDisposed:
			return Step{}, fmt.Errorf("%w: %s already disposed", ErrInvalidTransition, from)
		case StateObserving:
			return step([]Effect{EffectCancelSubscription}, StateDisposed), nil
		case StateLoading, StateFallbackLoading:
			return step([]Effect{EffectAbortLoad}, StateDisposed), nil
		default:
			return step(nil, StateDisposed), nil
		}
	}

	switch {
	case from == StateIdle && ev.Kind == EventMount && ev.Priority:
		return step([]Effect{EffectStartLoad}, StateLoading), nil

	case from == StateIdle && ev.Kind == EventMount:
		return step([]Effect{EffectSubscribe}, StateObserving), nil

	case from == StateObserving && ev.Kind == EventVisible:
		return step([]Effect{EffectStartLoad}, StateLoading), nil

	case from == StateLoading && ev.Kind == EventLoadSucceeded,
		from == StateFallbackLoading && ev.Kind == EventLoadSucceeded:
		return step([]Effect{EffectNotifyLoad}, StateLoaded), nil

	case from == StateLoading && ev.Kind == EventLoadFailed && ev.Untransformed:
		return step([]Effect{EffectNotifyError}, StateErrored), nil

	case from == StateLoading && ev.Kind == EventLoadFailed:
		return step([]Effect{EffectStartFallback}, StateErrored, StateFallbackLoading), nil

	case from == StateFallbackLoading && ev.Kind == EventLoadFailed:
		return step([]Effect{EffectNotifyError}, StateFallbackErrored), nil
	}

	return Step{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev.Kind, from)
}
