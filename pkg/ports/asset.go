package ports

import (
	"context"

	"github.com/aretw0/glimpse/pkg/domain"
)

// LoadCallback receives the outcome of a load attempt.
type LoadCallback func(info domain.AssetInfo, err error)

// AssetLoader retrieves the asset behind a delivery URL.
type AssetLoader interface {
	// Load starts retrieving url and returns immediately. done is invoked at most once,
	// possibly from another goroutine. Cancelling ctx abandons the attempt.
	Load(ctx context.Context, url string, done LoadCallback)
}

// Fetcher is the blocking counterpart of AssetLoader, implemented by transports.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (domain.AssetInfo, error)
}
