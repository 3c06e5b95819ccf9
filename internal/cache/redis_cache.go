package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"serene/backend/internal/domain"
)

type RedisIdempotencyCache struct {
	client *redis.Client
}

func NewRedisIdempotencyCache(addr string, password string, db int) *RedisIdempotencyCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisIdempotencyCache{client: client}
}

func (c *RedisIdempotencyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisIdempotencyCache) Close() error {
	return c.client.Close()
}

func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) (*domain.CreateOrderResponse, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.CreateOrderResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisIdempotencyCache) Set(ctx context.Context, key string, value *domain.CreateOrderResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// Reserve claims the key with SET NX so that concurrent retries cannot both
// create an order.
func (c *RedisIdempotencyCache) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, pendingKey(key), 1, ttl).Result()
}

func (c *RedisIdempotencyCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, pendingKey(key)).Err()
}
