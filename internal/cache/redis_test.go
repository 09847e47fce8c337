package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), srv
}

func TestRedisSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	if err := c.Set(ctx, "otp:u1:email", "654321", 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "otp:u1:email")
	if err != nil || got != "654321" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := c.Delete(ctx, "otp:u1:email"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "otp:u1:email"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestRedisGetMissAfterTTL(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestRedis(t)

	if err := c.Set(ctx, "lock:u1:sms", "1", 15*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	srv.FastForward(16 * time.Minute)
	if _, err := c.Get(ctx, "lock:u1:sms"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after TTL, got %v", err)
	}
}

func TestRedisIncr(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestRedis(t)

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, "attempts:u1:sms", 15*time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != want {
			t.Fatalf("Incr = %d, want %d", n, want)
		}
	}
	srv.FastForward(16 * time.Minute)
	n, err := c.Incr(ctx, "attempts:u1:sms", 15*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("Incr after expiry = %d, %v; want fresh counter", n, err)
	}
}
