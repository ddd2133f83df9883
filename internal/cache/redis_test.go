package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestCache starts a miniredis server and returns a RedisCache backed by
// it.
func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}

	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestRedisGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	data, ok := c.Get(context.Background(), "nonexistent-key")
	if ok {
		t.Fatal("expected cache miss, got hit")
	}
	if data != nil {
		t.Fatalf("expected nil data on miss, got %v", data)
	}
}

func TestRedisSetAndGetHit(t *testing.T) {
	c, _ := newTestCache(t)

	key := "completion-key"
	want := []byte(`{"content":"hello"}`)

	if err := c.Set(context.Background(), key, want, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(context.Background(), key)
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if string(got) != string(want) {
		t.Fatalf("Get returned %q, want %q", got, want)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)

	key := "ttl-key"
	ttl := 10 * time.Second

	if err := c.Set(context.Background(), key, []byte("payload"), ttl); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok := c.Get(context.Background(), key); !ok {
		t.Fatal("key should exist before TTL expires")
	}

	mr.FastForward(ttl + time.Second)

	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("key should be expired after TTL")
	}
}

func TestRedisInvalidateTag(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k1", []byte("a"), time.Hour, "model:gpt-4")
	_ = c.Set(ctx, "k2", []byte("b"), time.Hour, "model:gpt-4")
	_ = c.Set(ctx, "k3", []byte("c"), time.Hour, "model:gpt-4o")

	n, err := c.InvalidateTag(ctx, "model:gpt-4")
	if err != nil {
		t.Fatalf("InvalidateTag: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d entries, want 2", n)
	}

	if _, ok := c.Get(ctx, "k1"); ok {
		t.Error("k1 should be invalidated")
	}
	if _, ok := c.Get(ctx, "k2"); ok {
		t.Error("k2 should be invalidated")
	}
	if _, ok := c.Get(ctx, "k3"); !ok {
		t.Error("k3 carries a different tag and must survive")
	}
}

func TestRedisInvalidateTag_UnknownTag(t *testing.T) {
	c, _ := newTestCache(t)

	n, err := c.InvalidateTag(context.Background(), "model:never-cached")
	if err != nil {
		t.Fatalf("InvalidateTag: %v", err)
	}
	if n != 0 {
		t.Errorf("removed %d entries, want 0", n)
	}
}

func TestRedisDegradesGracefullyWhenDown(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	// Get reads as a miss, Set swallows the error: the cache must never fail
	// the surrounding request.
	if _, ok := c.Get(context.Background(), "any"); ok {
		t.Error("expected miss when Redis is down")
	}
	if err := c.Set(context.Background(), "any", []byte("x"), time.Minute); err != nil {
		t.Errorf("Set must degrade gracefully, got %v", err)
	}
}
