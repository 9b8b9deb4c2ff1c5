package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	requestID := "contract-test-request-" + time.Now().Format("20060102150405")

	newSnapshot := func(id string) *domain.Snapshot {
		req := domain.NewImageRequest("/img/contract.png")
		req.Width = 320
		return &domain.Snapshot{
			RequestID: id,
			Request:   req,
			Render: domain.RenderState{
				DeliveryURL: "/img/contract.png?w=320",
				State:       domain.StateLoading,
			},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			UpdatedAt: time.Now().UTC().Truncate(time.Second),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		snap := newSnapshot(requestID)

		err := store.Save(ctx, requestID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, requestID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, snap.RequestID, loaded.RequestID)
		assert.Equal(t, snap.Render.DeliveryURL, loaded.Render.DeliveryURL)
		assert.Equal(t, domain.StateLoading, loaded.Render.State)
		assert.Equal(t, 320, loaded.Request.Width)
	})

	t.Run("Overwrite", func(t *testing.T) {
		snap := newSnapshot(requestID)
		snap.Render.State = domain.StateLoaded
		snap.Render.Loaded = true
		require.NoError(t, store.Save(ctx, requestID, snap))

		loaded, err := store.Load(ctx, requestID)
		require.NoError(t, err)
		assert.True(t, loaded.Render.Loaded)
		assert.Equal(t, domain.StateLoaded, loaded.Render.State)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+requestID)
		assert.ErrorIs(t, err, domain.ErrRequestNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, requestID, newSnapshot(requestID))
		require.NoError(t, err)

		err = store.Delete(ctx, requestID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, requestID)
		assert.ErrorIs(t, err, domain.ErrRequestNotFound, "Load after Delete should return ErrRequestNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := requestID + "-1"
		id2 := requestID + "-2"
		_ = store.Save(ctx, id1, newSnapshot(id1))
		_ = store.Save(ctx, id2, newSnapshot(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
