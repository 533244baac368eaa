package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	return mr, Wrap(rdb)
}

func TestCodeReserver(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	reserver := NewCodeReserver(client)

	first := uuid.New()
	second := uuid.New()

	t.Run("reserve free code", func(t *testing.T) {
		ok, err := reserver.Reserve(ctx, "ABC234", first)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("reserve taken code fails regardless of case", func(t *testing.T) {
		ok, err := reserver.Reserve(ctx, "abc234", second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("lookup is case insensitive", func(t *testing.T) {
		id, err := reserver.Lookup(ctx, "aBc234")
		require.NoError(t, err)
		assert.Equal(t, first, id)
	})

	t.Run("released code is free again", func(t *testing.T) {
		require.NoError(t, reserver.Release(ctx, "ABC234"))

		id, err := reserver.Lookup(ctx, "ABC234")
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, id)

		ok, err := reserver.Reserve(ctx, "ABC234", second)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestBufferStore(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	store := NewBufferStore(client, time.Hour)
	sessionID := uuid.New()

	buffer, err := store.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, buffer)

	err = store.Save(ctx, &domain.CodeBuffer{
		SessionID: sessionID,
		Content:   "console.log(1)",
		Language:  "javascript",
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(bufferKey(sessionID)))

	buffer, err = store.Get(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, buffer)
	assert.Equal(t, "console.log(1)", buffer.Content)
	assert.Equal(t, "user-1", buffer.UpdatedBy)

	require.NoError(t, store.Delete(ctx, sessionID))
	buffer, err = store.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, buffer)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	limiter := NewRateLimiter(client, config.RateLimitConfig{RequestsPerMinute: 2, Burst: 1})

	now := time.Date(2025, 1, 15, 10, 30, 10, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, _, _, err := limiter.Allow(ctx, "chat:user-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i)
	}

	allowed, remaining, reset, err := limiter.Allow(ctx, "chat:user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 31, 0, 0, time.UTC), reset.UTC())

	allowed, remaining, _, err = limiter.Allow(ctx, "chat:user-2")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)

	// A new window starts from zero
	now = now.Add(time.Minute)
	allowed, _, _, err = limiter.Allow(ctx, "chat:user-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}
