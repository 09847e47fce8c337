package crypto

import "time"

// Purpose partitions the key space. Exactly one active key exists per
// purpose at any time.
type Purpose string

const (
	// PurposeMaster keys drive keyed hashing and protect derived material.
	PurposeMaster Purpose = "master"
	// PurposeData keys encrypt application field data.
	PurposeData Purpose = "data"
)

// KeyStatus is the lifecycle state of a key. Keys are never hard-deleted:
// rotation moves them to inactive so old ciphertext stays decryptable.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyInactive KeyStatus = "inactive"
	KeyExpired  KeyStatus = "expired"
)

// Algorithm names the AEAD used under a key.
type Algorithm string

const (
	AlgorithmAESGCM   Algorithm = "aes-256-gcm"
	AlgorithmChaCha20 Algorithm = "chacha20-poly1305"
)

// Key is a symmetric encryption key record. Material is opaque secret bytes
// and must never appear in logs, errors, or audit payloads.
type Key struct {
	ID        string
	Purpose   Purpose
	Material  []byte
	Algorithm Algorithm
	Length    int
	Status    KeyStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}
