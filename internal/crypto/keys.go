package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"arxcore.io/internal/audit"
	"arxcore.io/internal/ids"
	"arxcore.io/internal/obs"
)

const (
	keyLength          = 32
	defaultKeyLifetime = 90 * 24 * time.Hour
)

// KeyService manages key lifecycle: bootstrap, rotation, and lookup.
// Rotation deactivates the current key and activates a fresh one; the old
// key stays retrievable by id so previously produced ciphertext keeps
// decrypting.
type KeyService struct {
	store    KeyStore
	trail    *audit.Trail
	now      func() time.Time
	lifetime time.Duration
	algos    map[Purpose]Algorithm
}

// KeyOption configures KeyService behavior.
type KeyOption func(*KeyService)

// WithKeyClock overrides the time source (useful for tests).
func WithKeyClock(now func() time.Time) KeyOption {
	return func(s *KeyService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyLifetime sets how long a freshly created key is considered fresh.
func WithKeyLifetime(d time.Duration) KeyOption {
	return func(s *KeyService) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithAlgorithm overrides the AEAD used for new keys of the given purpose.
func WithAlgorithm(purpose Purpose, alg Algorithm) KeyOption {
	return func(s *KeyService) {
		s.algos[purpose] = alg
	}
}

// NewKeyService constructs a KeyService.
func NewKeyService(store KeyStore, trail *audit.Trail, opts ...KeyOption) (*KeyService, error) {
	if store == nil {
		return nil, errors.New("crypto: key store is required")
	}
	s := &KeyService{
		store:    store,
		trail:    trail,
		now:      time.Now,
		lifetime: defaultKeyLifetime,
		algos: map[Purpose]Algorithm{
			PurposeMaster: AlgorithmChaCha20,
			PurposeData:   AlgorithmAESGCM,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bootstrap creates an initial active key for any purpose that lacks one.
func (s *KeyService) Bootstrap(ctx context.Context) error {
	for _, purpose := range []Purpose{PurposeMaster, PurposeData} {
		_, err := s.store.ActiveKey(ctx, purpose)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrNoActiveKey) {
			return fmt.Errorf("bootstrap %s: %w", purpose, err)
		}
		key, err := s.generate(purpose)
		if err != nil {
			return err
		}
		if err := s.store.Insert(ctx, key); err != nil {
			return fmt.Errorf("bootstrap %s: %w", purpose, err)
		}
		s.audit(ctx, "crypto.key_created", map[string]any{
			"key_id":    key.ID,
			"purpose":   string(purpose),
			"algorithm": string(key.Algorithm),
		})
	}
	return nil
}

// Rotate deactivates the current active key for purpose and activates a new
// one. All future Encrypt calls pick up the new key; Decrypt keeps working
// for ciphertext tagged with the old key id.
func (s *KeyService) Rotate(ctx context.Context, purpose Purpose) (Key, error) {
	if purpose != PurposeMaster && purpose != PurposeData {
		return Key{}, fmt.Errorf("%w: unknown purpose %q", ErrInvalidInput, purpose)
	}
	var previousID string
	current, err := s.store.ActiveKey(ctx, purpose)
	switch {
	case err == nil:
		if err := s.store.UpdateStatus(ctx, current.ID, KeyInactive); err != nil {
			return Key{}, fmt.Errorf("rotate %s: deactivate: %w", purpose, err)
		}
		previousID = current.ID
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoActiveKey):
		// First rotation on an empty purpose acts as bootstrap.
	default:
		return Key{}, fmt.Errorf("rotate %s: %w", purpose, err)
	}

	key, err := s.generate(purpose)
	if err != nil {
		return Key{}, err
	}
	if err := s.store.Insert(ctx, key); err != nil {
		return Key{}, fmt.Errorf("rotate %s: activate: %w", purpose, err)
	}
	obs.KeyRotations.Inc()
	s.audit(ctx, "crypto.key_rotated", map[string]any{
		"purpose":         string(purpose),
		"previous_key_id": previousID,
		"new_key_id":      key.ID,
		"algorithm":       string(key.Algorithm),
	})
	return key, nil
}

// Active returns the active key for purpose. A key past its lifetime is
// flagged but still returned: expiry signals that rotation is due, it does
// not fail callers.
func (s *KeyService) Active(ctx context.Context, purpose Purpose) (Key, error) {
	key, err := s.store.ActiveKey(ctx, purpose)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Key{}, ErrNoActiveKey
		}
		return Key{}, err
	}
	if s.now().After(key.ExpiresAt) {
		obs.Warn("active encryption key past lifetime, rotation due", map[string]any{
			"key_id":  key.ID,
			"purpose": string(purpose),
		})
	}
	return key, nil
}

// ByID returns a key of any status for decrypt-only use.
func (s *KeyService) ByID(ctx context.Context, id string) (Key, error) {
	return s.store.KeyByID(ctx, id)
}

func (s *KeyService) generate(purpose Purpose) (Key, error) {
	material := make([]byte, keyLength)
	if _, err := rand.Read(material); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	now := s.now().UTC()
	return Key{
		ID:        ids.NewAt(now),
		Purpose:   purpose,
		Material:  material,
		Algorithm: s.algos[purpose],
		Length:    keyLength,
		Status:    KeyActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.lifetime),
	}, nil
}

func (s *KeyService) audit(ctx context.Context, action string, changes map[string]any) {
	if s.trail == nil {
		return
	}
	s.trail.Log(ctx, "system", action, changes, nil)
}
