package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/models"
)

func TestMessageStoreIngest(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("assigns sequence and pending status", func(t *testing.T) {
		m := newTestMessage("inst-1", "team chat", "hello", now)
		dup, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)
		assert.False(t, dup)
		assert.Greater(t, m.Seq, int64(0))

		got, err := stores.Messages.Get(ctx, m.MessageID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryStatusPending, got.DeliveryStatus)
		assert.Equal(t, m.Seq, got.Seq)
		assert.Equal(t, "hello", got.Content)
	})

	t.Run("drops duplicate inside window", func(t *testing.T) {
		first := newTestMessage("inst-1", "team chat", "ping", now)
		_, err := stores.Messages.Ingest(ctx, first)
		require.NoError(t, err)

		again := newTestMessage("inst-1", "team chat", "ping", now.Add(30*time.Second))
		dup, err := stores.Messages.Ingest(ctx, again)
		require.NoError(t, err)
		assert.True(t, dup)

		_, err = stores.Messages.Get(ctx, again.MessageID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("accepts identical content outside window", func(t *testing.T) {
		first := newTestMessage("inst-1", "team chat", "pong", now)
		_, err := stores.Messages.Ingest(ctx, first)
		require.NoError(t, err)

		later := newTestMessage("inst-1", "team chat", "pong", now.Add(DedupWindow+time.Second))
		dup, err := stores.Messages.Ingest(ctx, later)
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("same content in another chat is not a duplicate", func(t *testing.T) {
		first := newTestMessage("inst-1", "chat a", "same", now)
		_, err := stores.Messages.Ingest(ctx, first)
		require.NoError(t, err)

		other := newTestMessage("inst-1", "chat b", "same", now)
		dup, err := stores.Messages.Ingest(ctx, other)
		require.NoError(t, err)
		assert.False(t, dup)
	})
}

func TestMessageStoreClaimNext(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	m1 := newTestMessage("inst-1", "chat a", "first", now)
	m2 := newTestMessage("inst-1", "chat a", "second", now.Add(time.Second))
	m3 := newTestMessage("inst-1", "chat b", "other chat", now.Add(2*time.Second))
	for _, m := range []*models.Message{m1, m2, m3} {
		_, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)
	}

	claimTime := now.Add(time.Minute)

	// Lowest seq goes first.
	claimed, err := stores.Messages.ClaimNext(ctx, claimTime)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, m1.MessageID, claimed.MessageID)
	assert.Equal(t, models.DeliveryStatusDelivering, claimed.DeliveryStatus)
	assert.Equal(t, 1, claimed.DeliveryAttempts)

	// chat a has a message in flight, so m2 is held back and chat b proceeds.
	claimed, err = stores.Messages.ClaimNext(ctx, claimTime)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, m3.MessageID, claimed.MessageID)

	// Nothing else is claimable while both chats are in flight.
	claimed, err = stores.Messages.ClaimNext(ctx, claimTime)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	// Finishing m1 frees chat a for m2.
	reply := "done"
	require.NoError(t, stores.Messages.MarkDelivered(ctx, m1.MessageID, &reply))

	claimed, err = stores.Messages.ClaimNext(ctx, claimTime)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, m2.MessageID, claimed.MessageID)
}

func TestMessageStoreClaimHonorsBackoff(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	m1 := newTestMessage("inst-1", "chat a", "retry me", now)
	m2 := newTestMessage("inst-1", "chat a", "behind", now.Add(time.Second))
	for _, m := range []*models.Message{m1, m2} {
		_, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)
	}

	claimed, err := stores.Messages.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.Equal(t, m1.MessageID, claimed.MessageID)

	retryAt := now.Add(10 * time.Second)
	require.NoError(t, stores.Messages.RequeueForRetry(ctx, m1.MessageID, "upstream timeout", retryAt))

	// m1 is backing off; m2 must not jump the queue within the same chat.
	claimed, err = stores.Messages.ClaimNext(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, claimed)

	// Once the backoff elapses m1 is claimable again, with the attempt counted.
	claimed, err = stores.Messages.ClaimNext(ctx, retryAt.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, m1.MessageID, claimed.MessageID)
	assert.Equal(t, 2, claimed.DeliveryAttempts)

	got, err := stores.Messages.Get(ctx, m1.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "upstream timeout", got.LastError)
}

func TestMessageStoreTerminalStates(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("delivered with no reply", func(t *testing.T) {
		m := newTestMessage("inst-1", "chat a", "silent", now)
		_, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)

		require.NoError(t, stores.Messages.MarkDelivered(ctx, m.MessageID, nil))
		got, err := stores.Messages.Get(ctx, m.MessageID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryStatusDelivered, got.DeliveryStatus)
		assert.Nil(t, got.ReplyContent)
		assert.Equal(t, "none", got.ReplyStatus)
	})

	t.Run("failed keeps last error", func(t *testing.T) {
		m := newTestMessage("inst-1", "chat a", "doomed", now)
		_, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)

		require.NoError(t, stores.Messages.MarkFailed(ctx, m.MessageID, "platform unreachable"))
		got, err := stores.Messages.Get(ctx, m.MessageID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryStatusFailed, got.DeliveryStatus)
		assert.Equal(t, "platform unreachable", got.LastError)
		assert.Nil(t, got.DeliveringSince)
	})

	t.Run("skipped records reason", func(t *testing.T) {
		m := newTestMessage("inst-1", "chat a", "unmatched", now)
		_, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)

		require.NoError(t, stores.Messages.Skip(ctx, m.MessageID, "no_rule"))
		got, err := stores.Messages.Get(ctx, m.MessageID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryStatusSkipped, got.DeliveryStatus)
		assert.Equal(t, "no_rule", got.LastError)
	})

	t.Run("marking an unknown message fails", func(t *testing.T) {
		err := stores.Messages.MarkFailed(ctx, "missing", "whatever")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessageStoreReclaimStale(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	m := newTestMessage("inst-1", "chat a", "orphaned", now)
	_, err := stores.Messages.Ingest(ctx, m)
	require.NoError(t, err)

	claimed, err := stores.Messages.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Lease still valid.
	n, err := stores.Messages.ReclaimStale(ctx, 5*time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Lease expired: the message goes back to pending and is claimable again.
	n, err = stores.Messages.ReclaimStale(ctx, 5*time.Minute, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := stores.Messages.Get(ctx, m.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPending, got.DeliveryStatus)
	assert.Nil(t, got.DeliveringSince)
}

func TestMessageStoreList(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	for i, spec := range []struct {
		instance string
		chat     string
		content  string
	}{
		{"inst-1", "chat a", "one"},
		{"inst-1", "chat b", "two"},
		{"inst-2", "chat a", "three"},
	} {
		m := newTestMessage(spec.instance, spec.chat, spec.content, now.Add(time.Duration(i)*time.Second))
		_, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)
	}

	t.Run("filters by instance", func(t *testing.T) {
		got, err := stores.Messages.List(ctx, models.MessageFilters{InstanceID: "inst-1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		// Newest first.
		assert.Equal(t, "two", got[0].Content)
		assert.Equal(t, "one", got[1].Content)
	})

	t.Run("filters by chat and status", func(t *testing.T) {
		got, err := stores.Messages.List(ctx, models.MessageFilters{
			ChatName: "chat a",
			Status:   models.DeliveryStatusPending,
		})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("since bound excludes older rows", func(t *testing.T) {
		since := now.Add(1500 * time.Millisecond)
		got, err := stores.Messages.List(ctx, models.MessageFilters{Since: &since})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "three", got[0].Content)
	})

	t.Run("limit and offset page results", func(t *testing.T) {
		got, err := stores.Messages.List(ctx, models.MessageFilters{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "two", got[0].Content)
	})
}

func TestMessageStoreListSince(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	var seqs []int64
	for _, content := range []string{"a", "b", "c"} {
		m := newTestMessage("inst-1", "chat "+content, content, now)
		_, err := stores.Messages.Ingest(ctx, m)
		require.NoError(t, err)
		seqs = append(seqs, m.Seq)
	}

	got, err := stores.Messages.ListSince(ctx, seqs[0], 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Content)
	assert.Equal(t, "c", got[1].Content)

	got, err = stores.Messages.ListSince(ctx, seqs[0], 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Content)
}

func TestMessageStoreCountPending(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	n, err := stores.Messages.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	m := newTestMessage("inst-1", "chat a", "queued", now)
	_, err = stores.Messages.Ingest(ctx, m)
	require.NoError(t, err)

	n, err = stores.Messages.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = stores.Messages.ClaimNext(ctx, now)
	require.NoError(t, err)
	n, err = stores.Messages.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
