package session

import (
	"context"
	"time"
)

// Store persists session rows. OpenByUser returns open sessions ordered by
// most recent activity first; the registry relies on that ordering for cap
// eviction and inactivity sweeps.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	OpenByUser(ctx context.Context, userID string) ([]Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Close(ctx context.Context, id string, at time.Time) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}
