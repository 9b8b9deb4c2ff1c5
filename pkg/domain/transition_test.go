package domain_test

import (
	"testing"

	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_Table(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.LoadState
		event   domain.Event
		path    []domain.LoadState
		effects []domain.Effect
	}{
		{
			name:    "lazy mount observes",
			from:    domain.StateIdle,
			event:   domain.Event{Kind: domain.EventMount},
			path:    []domain.LoadState{domain.StateObserving},
			effects: []domain.Effect{domain.EffectSubscribe},
		},
		{
			name:    "priority mount loads",
			from:    domain.StateIdle,
			event:   domain.Event{Kind: domain.EventMount, Priority: true},
			path:    []domain.LoadState{domain.StateLoading},
			effects: []domain.Effect{domain.EffectStartLoad},
		},
		{
			name:    "visibility starts load",
			from:    domain.StateObserving,
			event:   domain.Event{Kind: domain.EventVisible},
			path:    []domain.LoadState{domain.StateLoading},
			effects: []domain.Effect{domain.EffectStartLoad},
		},
		{
			name:    "load success",
			from:    domain.StateLoading,
			event:   domain.Event{Kind: domain.EventLoadSucceeded},
			path:    []domain.LoadState{domain.StateLoaded},
			effects: []domain.Effect{domain.EffectNotifyLoad},
		},
		{
			name:    "transformed failure falls back",
			from:    domain.StateLoading,
			event:   domain.Event{Kind: domain.EventLoadFailed},
			path:    []domain.LoadState{domain.StateErrored, domain.StateFallbackLoading},
			effects: []domain.Effect{domain.EffectStartFallback},
		},
		{
			name:    "untransformed failure is terminal",
			from:    domain.StateLoading,
			event:   domain.Event{Kind: domain.EventLoadFailed, Untransformed: true},
			path:    []domain.LoadState{domain.StateErrored},
			effects: []domain.Effect{domain.EffectNotifyError},
		},
		{
			name:    "fallback success",
			from:    domain.StateFallbackLoading,
			event:   domain.Event{Kind: domain.EventLoadSucceeded},
			path:    []domain.LoadState{domain.StateLoaded},
			effects: []domain.Effect{domain.EffectNotifyLoad},
		},
		{
			name:    "fallback failure",
			from:    domain.StateFallbackLoading,
			event:   domain.Event{Kind: domain.EventLoadFailed},
			path:    []domain.LoadState{domain.StateFallbackErrored},
			effects: []domain.Effect{domain.EffectNotifyError},
		},
		{
			name:    "dispose while observing releases subscription",
			from:    domain.StateObserving,
			event:   domain.Event{Kind: domain.EventDispose},
			path:    []domain.LoadState{domain.StateDisposed},
			effects: []domain.Effect{domain.EffectCancelSubscription},
		},
		{
			name:    "dispose while loading aborts",
			from:    domain.StateFallbackLoading,
			event:   domain.Event{Kind: domain.EventDispose},
			path:    []domain.LoadState{domain.StateDisposed},
			effects: []domain.Effect{domain.EffectAbortLoad},
		},
		{
			name:  "dispose after load",
			from:  domain.StateLoaded,
			event: domain.Event{Kind: domain.EventDispose},
			path:  []domain.LoadState{domain.StateDisposed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := domain.Next(tt.from, tt.event)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.path, step.Path); diff != "" {
				t.Errorf("path mismatch (-want +got):\n%s", diff)
			}
			assert.ElementsMatch(t, tt.effects, step.Effects)

			prev := tt.from
			for _, s := range step.Path {
				assert.True(t, prev.Advances(s), "%s -> %s must respect ordering", prev, s)
				prev = s
			}
		})
	}
}

func TestNext_UndefinedPairs(t *testing.T) {
	undefined := []struct {
		from domain.LoadState
		kind domain.EventKind
	}{
		{domain.StateIdle, domain.EventVisible},
		{domain.StateIdle, domain.EventLoadSucceeded},
		{domain.StateObserving, domain.EventMount},
		{domain.StateObserving, domain.EventLoadFailed},
		{domain.StateLoading, domain.EventVisible},
		{domain.StateLoaded, domain.EventLoadFailed},
		{domain.StateErrored, domain.EventLoadSucceeded},
		{domain.StateFallbackErrored, domain.EventLoadFailed},
		{domain.StateDisposed, domain.EventLoadSucceeded},
		{domain.StateDisposed, domain.EventDispose},
	}

	for _, u := range undefined {
		_, err := domain.Next(u.from, domain.Event{Kind: u.kind})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "%s on %s", u.kind, u.from)
	}
}

func TestLoadState_Ordering(t *testing.T) {
	assert.True(t, domain.StateErrored.Advances(domain.StateFallbackLoading))
	assert.False(t, domain.StateLoaded.Advances(domain.StateLoading))
	assert.False(t, domain.StateFallbackLoading.Advances(domain.StateLoading))
	assert.False(t, domain.StateFallbackErrored.Advances(domain.StateFallbackLoading))

	assert.True(t, domain.StateErrored.IsTerminal())
	assert.False(t, domain.StateFallbackLoading.IsTerminal())
	assert.True(t, domain.StateLoading.InFlight())
}
