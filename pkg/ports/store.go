package ports

import (
	"context"

	"github.com/aretw0/glimpse/pkg/domain"
)

// SnapshotStore persists the render snapshot of mounted requests.
// This lets any replica answer for a request mounted on another one.
type SnapshotStore interface {
	// Save persists the snapshot for a given request ID.
	Save(ctx context.Context, requestID string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for a given request ID.
	// Returns domain.ErrRequestNotFound if the request does not exist.
	Load(ctx context.Context, requestID string) (*domain.Snapshot, error)

	// Delete removes the snapshot for a given request ID.
	Delete(ctx context.Context, requestID string) error

	// List returns the IDs of all stored requests.
	List(ctx context.Context) ([]string, error)
}
