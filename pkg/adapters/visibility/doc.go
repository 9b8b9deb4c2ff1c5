// Package visibility provides ports.VisibilityPort implementations.
//
// Immediate fires inside Subscribe and suits headless renderers, servers and tests.
// Observer is driven by a host that reports target geometry (the equivalent of an
// intersection observer) and fires when a target meets its threshold.
package visibility
