package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"serene/backend/internal/domain"
)

// IdempotencyCache remembers the response of an order creation under a
// client-supplied key so that a retried POST replays it. Reserve claims the
// key for one in-flight request; only the caller that got true may create.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*domain.CreateOrderResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.CreateOrderResponse, ttl time.Duration) error
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type NoopIdempotencyCache struct{}

func (NoopIdempotencyCache) Get(_ context.Context, _ string) (*domain.CreateOrderResponse, bool, error) {
	return nil, false, nil
}

func (NoopIdempotencyCache) Set(_ context.Context, _ string, _ *domain.CreateOrderResponse, _ time.Duration) error {
	return nil
}

func (NoopIdempotencyCache) Reserve(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (NoopIdempotencyCache) Release(_ context.Context, _ string) error {
	return nil
}

// MemoryIdempotencyCache is the single-process fallback used when no redis
// is configured.
type MemoryIdempotencyCache struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string]memoryEntry
	pending map[string]time.Time
}

type memoryEntry struct {
	resp      domain.CreateOrderResponse
	expiresAt time.Time
}

func NewMemoryIdempotencyCache() *MemoryIdempotencyCache {
	return &MemoryIdempotencyCache{
		now:     time.Now,
		values:  make(map[string]memoryEntry),
		pending: make(map[string]time.Time),
	}
}

func (c *MemoryIdempotencyCache) Get(_ context.Context, key string) (*domain.CreateOrderResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.values[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.values, key)
		return nil, false, nil
	}
	resp := entry.resp
	return &resp, true, nil
}

func (c *MemoryIdempotencyCache) Set(_ context.Context, key string, value *domain.CreateOrderResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = memoryEntry{resp: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryIdempotencyCache) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.pending[key]; ok && now.Before(until) {
		return false, nil
	}
	c.pending[key] = now.Add(ttl)
	return true, nil
}

func (c *MemoryIdempotencyCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
	return nil
}

const keyOrderCreate = "idem:order:create:%s:%s"

// OrderCreateKey scopes a client idempotency key to the operator that sent it.
func OrderCreateKey(username string, key string) string {
	return fmt.Sprintf(keyOrderCreate, username, key)
}

func pendingKey(key string) string {
	return key + ":pending"
}
