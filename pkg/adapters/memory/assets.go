package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/glimpse/pkg/domain"
)

// ErrAssetNotFound is returned by Assets for URLs that were never registered.
var ErrAssetNotFound = errors.New("asset not found")

// Assets implements ports.Fetcher over an in-memory catalog keyed by URL.
// It backs offline simulations and tests.
type Assets struct {
	mu     sync.RWMutex
	assets map[string]domain.AssetInfo
}

// NewAssets creates a catalog from url to content type.
func NewAssets(contentTypes map[string]string) *Assets {
	a := &Assets{assets: make(map[string]domain.AssetInfo, len(contentTypes))}
	for url, ct := range contentTypes {
		a.assets[url] = domain.AssetInfo{ContentType: ct}
	}
	return a
}

// Put registers or replaces an asset.
func (a *Assets) Put(url string, info domain.AssetInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assets[url] = info
}

// Fetch returns the registered asset for url.
func (a *Assets) Fetch(ctx context.Context, url string) (domain.AssetInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssetInfo{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	info, ok := a.assets[url]
	if !ok {
		return domain.AssetInfo{}, fmt.Errorf("%w: %s", ErrAssetNotFound, url)
	}
	return info, nil
}
