package loader

import (
	"context"

	"github.com/aretw0/glimpse/pkg/ports"
)

// Async adapts a blocking Fetcher into a non-blocking AssetLoader.
// Each Load runs the fetch in its own goroutine.
type Async struct {
	fetcher ports.Fetcher
}

// NewAsync wraps fetcher.
func NewAsync(fetcher ports.Fetcher) *Async {
	return &Async{fetcher: fetcher}
}

// Load starts the fetch and returns immediately.
func (a *Async) Load(ctx context.Context, url string, done ports.LoadCallback) {
	go func() {
		info, err := a.fetcher.Fetch(ctx, url)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		done(info, err)
	}()
}
