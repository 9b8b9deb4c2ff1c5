/*
Package negotiate decides, once per process, whether the next-generation image encoding
should be requested.

The decision is an explicit write-once, read-many value: a Negotiator runs its
CapabilityProbe at most once behind a one-time-initialization barrier and serves the cached
answer afterwards. Probe failures (errors or panics) never propagate; they are logged and
coerced to "unsupported".

Default returns the process-wide Negotiator used by the pipeline unless another one is
injected. Request-scoped negotiators (for example one per HTTP request, fed by the Accept
header) are created with New.
*/
package negotiate
