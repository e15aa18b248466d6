package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/models"
)

func TestListenerStoreCRUD(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	l := &models.Listener{InstanceID: "inst-1", ChatName: "team chat", Manual: true}
	require.NoError(t, stores.Listeners.Create(ctx, l))

	t.Run("create fills defaults", func(t *testing.T) {
		got, err := stores.Listeners.Get(ctx, "inst-1", "team chat")
		require.NoError(t, err)
		assert.Equal(t, models.ListenerStateInactive, got.State)
		assert.True(t, got.Manual)
		assert.False(t, got.AddedAt.IsZero())
		assert.Equal(t, got.AddedAt, got.LastMessageAt)
	})

	t.Run("touch moves activity and state together", func(t *testing.T) {
		at := time.Now().Add(time.Minute)
		require.NoError(t, stores.Listeners.Touch(ctx, "inst-1", "team chat",
			at, models.ListenerStateActive, true))

		got, err := stores.Listeners.Get(ctx, "inst-1", "team chat")
		require.NoError(t, err)
		assert.Equal(t, models.ListenerStateActive, got.State)
		assert.True(t, got.ConversationStarted)
		assert.WithinDuration(t, at, got.LastMessageAt, time.Second)
	})

	t.Run("count and list by instance", func(t *testing.T) {
		require.NoError(t, stores.Listeners.Create(ctx,
			&models.Listener{InstanceID: "inst-1", ChatName: "ops chat"}))
		require.NoError(t, stores.Listeners.Create(ctx,
			&models.Listener{InstanceID: "inst-2", ChatName: "team chat"}))

		n, err := stores.Listeners.CountByInstance(ctx, "inst-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := stores.Listeners.ListByInstance(ctx, "inst-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ops chat", got[0].ChatName)
	})

	t.Run("mark for removal flips flag and state", func(t *testing.T) {
		require.NoError(t, stores.Listeners.MarkForRemoval(ctx, "inst-1", "ops chat"))
		got, err := stores.Listeners.Get(ctx, "inst-1", "ops chat")
		require.NoError(t, err)
		assert.True(t, got.MarkedForRemoval)
		assert.Equal(t, models.ListenerStateMarkedForRemoval, got.State)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, stores.Listeners.Delete(ctx, "inst-1", "ops chat"))
		require.NoError(t, stores.Listeners.Delete(ctx, "inst-1", "ops chat"))
		_, err := stores.Listeners.Get(ctx, "inst-1", "ops chat")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
