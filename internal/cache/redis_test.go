package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/pkg/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, nil), mr
}

func sampleCart(userID string) *domain.Cart {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Cart{
		ID:     "cart-1",
		UserID: userID,
		Lines: []domain.CartLine{
			{ID: "l1", CartID: "cart-1", ProductID: "p1", Quantity: 2, AddedAt: now},
			{ID: "l2", CartID: "cart-1", ProductID: "p2", Quantity: 3, AddedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	cart := sampleCart("user123")

	cartJSON, _ := json.Marshal(cart)
	require.NoError(t, mr.Set(cacheKey("user123"), string(cartJSON)))

	result, err := cache.Get(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, "user123", result.UserID)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, 3, result.Lines[1].Quantity)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)
	_, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("user123"), "{not json"))

	_, err := cache.Get(context.Background(), "user123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestSet_WritesWithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, cache.Set(context.Background(), "user123", sampleCart("user123")))

	assert.True(t, mr.Exists(cacheKey("user123")))
	ttl := mr.TTL(cacheKey("user123"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.Less(t, ttl, 20*time.Minute)
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "user123", sampleCart("user123")))

	require.NoError(t, cache.Delete(ctx, "user123"))
	assert.False(t, mr.Exists(cacheKey("user123")))
}

func TestMissesDoNotOpenBreaker(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := cache.Get(ctx, "nobody")
		require.ErrorIs(t, err, ErrCacheMiss)
	}
	require.NoError(t, cache.Set(ctx, "user123", sampleCart("user123")))
}

func TestServerDown_OpensBreaker(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := cache.Get(ctx, "user123")
		require.Error(t, err)
	}
	_, err := cache.Get(ctx, "user123")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}
