package domain

import "errors"

// ErrInvalidRequest is returned when an ImageRequest fails validation.
var ErrInvalidRequest = errors.New("invalid image request")

// ErrInvalidTransition is returned when an event is not defined for the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrDisposed is returned when an operation targets a torn down controller.
var ErrDisposed = errors.New("controller disposed")

// ErrRequestNotFound is returned when a request ID cannot be found in the store.
var ErrRequestNotFound = errors.New("request not found")

// ErrCapabilityProbe marks a failed capability probe. It never reaches callers:
// the negotiator logs it and treats the encoding as unsupported.
var ErrCapabilityProbe = errors.New("capability probe failed")

// ErrTransformedAssetLoad marks a failed load of a transformed delivery URL.
// It triggers the automatic fallback and is never surfaced through OnError.
var ErrTransformedAssetLoad = errors.New("transformed asset load failed")

// ErrOriginalAssetLoad marks a failed load of the unmodified source URL.
// It is terminal for the request and the only error delivered to OnError.
var ErrOriginalAssetLoad = errors.New("original asset load failed")

// ErrLoadTimeout is reported when a load attempt exceeds the configured deadline.
var ErrLoadTimeout = errors.New("asset load timed out")
