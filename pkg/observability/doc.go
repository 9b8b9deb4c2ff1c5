/*
Package observability exports Prometheus metrics for the image pipeline.

Metrics plug into the pipeline through domain.LifecycleHooks and through wrapped
request callbacks, so instrumentation never touches the load state machine itself.
*/
package observability
