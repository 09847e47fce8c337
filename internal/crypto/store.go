package crypto

import "context"

// KeyStore persists encryption keys. The store (or its backing schema)
// enforces the one-active-key-per-purpose uniqueness constraint.
type KeyStore interface {
	ActiveKey(ctx context.Context, purpose Purpose) (Key, error)
	KeyByID(ctx context.Context, id string) (Key, error)
	Insert(ctx context.Context, key Key) error
	UpdateStatus(ctx context.Context, id string, status KeyStatus) error
}
