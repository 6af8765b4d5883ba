package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBroadcastCache_Invalidate(t *testing.T) {
	_, client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localA, _ := newTestMemoryCache(t, time.Hour, 0)
	localB, _ := newTestMemoryCache(t, time.Hour, 0)
	const channel = "alerts_cache_invalidation"

	a := NewBroadcastCache(localA, client, channel, "gateway-1", zap.NewNop())
	b := NewBroadcastCache(localB, client, channel, "gateway-2", zap.NewNop())
	require.NoError(t, a.Listen(ctx))
	require.NoError(t, b.Listen(ctx))

	key := Key{OwnerID: "user-1", Page: 1, PerPage: 10}
	other := Key{OwnerID: "user-2", Page: 1, PerPage: 10}
	require.NoError(t, a.Put(ctx, key, 0, samplePage(1)))
	require.NoError(t, b.Put(ctx, key, 0, samplePage(1)))
	require.NoError(t, b.Put(ctx, other, 0, samplePage(2)))

	require.NoError(t, a.Invalidate(ctx, "user-1"))

	_, ok, err := a.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "local entries drop synchronously")

	assert.Eventually(t, func() bool {
		_, ok, _ := b.Get(ctx, key)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "remote instance drops the owner's entries")

	_, ok, err = b.Get(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("remote invalidation moves the generation", func(t *testing.T) {
		gen, err := b.Generation(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), gen)

		require.NoError(t, b.Put(ctx, key, 0, samplePage(1)))
		_, ok, err := b.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "a page read before the remote write is not cached")
	})
}

func TestBroadcastCache_IgnoresOwnAndMalformedMessages(t *testing.T) {
	_, client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, _ := newTestMemoryCache(t, time.Hour, 0)
	const channel = "alerts_cache_invalidation"
	c := NewBroadcastCache(local, client, channel, "gateway-1", zap.NewNop())
	require.NoError(t, c.Listen(ctx))

	key := Key{OwnerID: "user-1", Page: 1, PerPage: 10}
	require.NoError(t, c.Put(ctx, key, 0, samplePage(1)))

	require.NoError(t, client.Publish(ctx, channel, "garbage").Err())
	require.NoError(t, client.Publish(ctx, channel, `{"owner_id":"user-1","instance":"gateway-1"}`).Err())

	// A message that is applied proves the earlier ones were processed.
	sentinel := Key{OwnerID: "user-3", Page: 1, PerPage: 10}
	require.NoError(t, c.Put(ctx, sentinel, 0, samplePage(3)))
	require.NoError(t, client.Publish(ctx, channel, `{"owner_id":"user-3","instance":"gateway-2"}`).Err())

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, sentinel)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}
