package lockout

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("lockout: not found")
	ErrInvalidInput = errors.New("lockout: invalid input")
)

// Store persists security events and lock state. Event counting must be
// consistent enough for threshold checks; strict serialization is not
// required, a read-then-write race self-corrects on the next attempt.
type Store interface {
	AppendEvent(ctx context.Context, event SecurityEvent) error
	CountByIdentifier(ctx context.Context, identifier string, typ EventType, since time.Time) (int, error)
	CountByIP(ctx context.Context, ip string, typ EventType, since time.Time) (int, error)

	GetLock(ctx context.Context, userID string) (LockState, error)
	SetLock(ctx context.Context, state LockState) error
	ClearLock(ctx context.Context, userID string) error
}
