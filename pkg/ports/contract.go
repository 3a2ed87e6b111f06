package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colloquyhq/colloquy/pkg/domain"
)

// RunSnapshotStoreContract verifies the SnapshotStore behavior every
// adapter must honor. Adapter test suites call it against a fresh store.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("SaveLoad", func(t *testing.T) {
		snap := &domain.ConversationSnapshot{
			SessionID:   "s1",
			ActiveTopic: "Greeting",
			Contexts: map[string]map[string]any{
				"Greeting": {"name": "Ada"},
			},
			UpdatedAt: time.Now(),
		}
		require.NoError(t, store.Save(ctx, "s1", snap))

		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "Greeting", got.ActiveTopic)
		assert.Equal(t, "Ada", got.Contexts["Greeting"]["name"])
	})

	t.Run("SaveIsolation", func(t *testing.T) {
		snap := &domain.ConversationSnapshot{
			SessionID: "s2",
			Contexts:  map[string]map[string]any{"T": {"k": "v1"}},
		}
		require.NoError(t, store.Save(ctx, "s2", snap))

		// Mutating the saved value must not leak into the store.
		snap.Contexts["T"]["k"] = "v2"
		got, err := store.Load(ctx, "s2")
		require.NoError(t, err)
		assert.Equal(t, "v1", got.Contexts["T"]["k"])
	})

	t.Run("List", func(t *testing.T) {
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, "s1")
		assert.Contains(t, ids, "s2")
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "s1"))
		_, err := store.Load(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}
