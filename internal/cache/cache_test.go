package cache

import (
	"context"
	"testing"
	"time"

	"serene/backend/internal/domain"
)

func TestNoopCacheNeverHits(t *testing.T) {
	c := NoopIdempotencyCache{}
	if err := c.Set(context.Background(), "k", &domain.CreateOrderResponse{}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	resp, hit, err := c.Get(context.Background(), "k")
	if err != nil || hit || resp != nil {
		t.Fatalf("expected miss, got resp=%v hit=%v err=%v", resp, hit, err)
	}
}

func TestOrderCreateKeyIsScopedPerOperator(t *testing.T) {
	a := OrderCreateKey("admin", "abc")
	b := OrderCreateKey("moderator", "abc")
	if a == b {
		t.Fatalf("expected distinct keys per operator, both were %q", a)
	}
	if a != "idem:order:create:admin:abc" {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestMemoryCacheReservesOncePerKey(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryIdempotencyCache()

	ok, err := c.Reserve(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.Reserve(ctx, "k", time.Minute); ok {
		t.Fatalf("second reserve of a pending key must fail")
	}
	if ok, _ := c.Reserve(ctx, "other", time.Minute); !ok {
		t.Fatalf("reservations are per key")
	}
	if err := c.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := c.Reserve(ctx, "k", time.Minute); !ok {
		t.Fatalf("reserve after release must succeed")
	}
}

func TestMemoryCacheExpiresEntriesAndReservations(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryIdempotencyCache()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	want := &domain.CreateOrderResponse{Warning: "Low stock: only 1 units remaining in BD inventory."}
	if err := c.Set(ctx, "k", want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, hit, err := c.Get(ctx, "k")
	if err != nil || !hit || got.Warning != want.Warning {
		t.Fatalf("expected hit, got resp=%v hit=%v err=%v", got, hit, err)
	}
	if ok, _ := c.Reserve(ctx, "k", time.Second); !ok {
		t.Fatalf("reserve: expected a fresh key to be claimable")
	}

	clock = clock.Add(2 * time.Minute)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Fatalf("expected entry to expire")
	}
	if ok, _ := c.Reserve(ctx, "k", time.Second); !ok {
		t.Fatalf("expected stale reservation to lapse")
	}
}
