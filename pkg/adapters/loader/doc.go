// Package loader provides asset loading adapters: an HTTP transport, the
// non-blocking Async wrapper the controller consumes, and a scripted loader
// for simulations and tests.
package loader
