package domain

import (
	"context"
	"time"
)

// EventKind categorizes the inputs of the transition table.
type EventKind string

const (
	EventMount         EventKind = "mount"
	EventVisible       EventKind = "visible"
	EventLoadSucceeded EventKind = "load_succeeded"
	EventLoadFailed    EventKind = "load_failed"
	EventDispose       EventKind = "dispose"
)

// Event is a typed input of the state machine.
type Event struct {
	Kind EventKind

	// Priority is read on EventMount: the request bypasses visibility observation.
	Priority bool

	// Untransformed is read on EventLoadFailed: the failed URL equals the source URL,
	// so there is nothing left to fall back to.
	Untransformed bool
}

// TransitionEvent is emitted for every state entered by a controller.
type TransitionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	From      LoadState `json:"from"`
	To        LoadState `json:"to"`
	Cause     EventKind `json:"cause"`
	URL       string    `json:"url,omitempty"`
}

// CompletionEvent describes a load completion that did not belong to the active attempt.
type CompletionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	URL       string    `json:"url"`
	Token     uint64    `json:"token"`
	Active    uint64    `json:"active"`
	Succeeded bool      `json:"succeeded"`
}

// ProbeEvent is emitted once per capability probe execution.
type ProbeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Supported bool      `json:"supported"`
	Err       error     `json:"-"`
}

// LifecycleHooks defines callbacks for pipeline observability.
type LifecycleHooks struct {
	OnTransition      func(context.Context, *TransitionEvent)
	OnStaleCompletion func(context.Context, *CompletionEvent)
	OnProbe           func(context.Context, *ProbeEvent)
}
