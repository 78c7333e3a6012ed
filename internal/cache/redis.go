package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/pkg/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func NewRedisCache(client redis.UniversalClient, logger *zap.Logger) *RedisCache {
	cfg := circuitbreaker.DefaultConfig("cart-cache")
	cfg.Ignore = []error{ErrCacheMiss}
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
		breaker: circuitbreaker.New[[]byte](cfg, logger),
	}
}

type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	breaker *circuitbreaker.Breaker[[]byte]
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	key := cacheKey(userID)

	data, err := r.breaker.Execute(func() ([]byte, error) {
		b, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return b, err
	})
	if errors.Is(err, ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}

	return &cart, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	key := cacheKey(userID)
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	_, err = r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Set(ctx, key, jsonCart, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	key := cacheKey(userID)
	_, err := r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
