package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or its TTL has elapsed. Callers
// verifying one-time codes must treat a miss as a failed verification,
// never as a bypass.
var ErrMiss = errors.New("cache: miss")

// KeyValueCache is the short-TTL store backing ephemeral security state:
// delivered OTP codes, MFA attempt counters, method-level locks, and
// revoked session token ids.
type KeyValueCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments the counter at key, creating it with ttl when absent.
	// The TTL is not extended on subsequent increments.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}
