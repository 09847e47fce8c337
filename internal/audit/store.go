package audit

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidInput = errors.New("audit: invalid input")

// Store persists audit entries. Append must be atomic; entries are never
// updated after the fact.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
