package domain

// LoadState describes the loading progress and outcome of one image request.
type LoadState string

const (
	StateIdle            LoadState = "idle"             // Created, not mounted yet
	StateObserving       LoadState = "observing"        // Waiting for a visibility trigger
	StateLoading         LoadState = "loading"          // Delivery URL in flight
	StateLoaded          LoadState = "loaded"           // Sink: asset available
	StateErrored         LoadState = "errored"          // Delivery URL failed
	StateFallbackLoading LoadState = "fallback_loading" // Unmodified source URL in flight
	StateFallbackErrored LoadState = "fallback_errored" // Sink: both attempts failed
	StateDisposed        LoadState = "disposed"         // Sink: torn down, callbacks discarded
)

// rank orders states for the monotonicity check.
// Errored -> FallbackLoading is the only edge allowed to go down.
var rank = map[LoadState]int{
	StateIdle:            0,
	StateObserving:       1,
	StateLoading:         2,
	StateFallbackLoading: 3,
	StateErrored:         4,
	StateLoaded:          5,
	StateFallbackErrored: 5,
	StateDisposed:        6,
}

// IsTerminal reports whether no further load activity can happen from s.
// Errored is terminal only when no fallback was started, which the transition
// table decides in the same step.
func (s LoadState) IsTerminal() bool {
	switch s {
	case StateLoaded, StateErrored, StateFallbackErrored, StateDisposed:
		return true
	}
	return false
}

// InFlight reports whether a delivery URL is being fetched in s.
func (s LoadState) InFlight() bool {
	return s == StateLoading || s == StateFallbackLoading
}

// Advances reports whether moving from s to next respects the ordering of the
// state machine.
func (s LoadState) Advances(next LoadState) bool {
	if s == StateErrored && next == StateFallbackLoading {
		return true
	}
	return rank[next] > rank[s]
}

func (s LoadState) String() string {
	return string(s)
}
