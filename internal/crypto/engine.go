package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"arxcore.io/internal/obs"
)

// Ciphertext layout: version(1) | keyIDLen(1) | keyID | nonce | sealed.
// Embedding the key id lets Decrypt select the matching key after rotation,
// including keys that are no longer active.
const blobVersion = 0x01

// Engine performs authenticated field-level encryption, keyed hashing, and
// secure token generation. It is stateless; key selection goes through the
// KeyService on every call.
type Engine struct {
	keys *KeyService
}

// NewEngine constructs an Engine over the given key service.
func NewEngine(keys *KeyService) (*Engine, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: key service is required", ErrInvalidInput)
	}
	return &Engine{keys: keys}, nil
}

// Encrypt seals plaintext under the active data key with a fresh random
// nonce. The encryption context is bound as AEAD associated data, so a
// ciphertext only opens under the context it was produced with. Output is
// non-deterministic: the same input yields a different blob each call.
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte, context_ string) ([]byte, error) {
	key, err := e.keys.Active(ctx, PurposeData)
	if err != nil {
		obs.CryptoOperations.WithLabelValues("encrypt", "error").Inc()
		return nil, err
	}
	aead, err := aeadFor(key)
	if err != nil {
		obs.CryptoOperations.WithLabelValues("encrypt", "error").Inc()
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		obs.CryptoOperations.WithLabelValues("encrypt", "error").Inc()
		return nil, fmt.Errorf("encrypt: nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, []byte(context_))

	keyID := []byte(key.ID)
	if len(keyID) > 255 {
		return nil, fmt.Errorf("%w: key id too long", ErrInvalidInput)
	}
	blob := make([]byte, 0, 2+len(keyID)+len(nonce)+len(sealed))
	blob = append(blob, blobVersion, byte(len(keyID)))
	blob = append(blob, keyID...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	obs.CryptoOperations.WithLabelValues("encrypt", "ok").Inc()
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. Every failure mode (tampered
// bytes, truncation, unknown key, wrong context) collapses into the single
// opaque ErrCrypto; callers learn nothing about which check failed.
func (e *Engine) Decrypt(ctx context.Context, blob []byte, context_ string) ([]byte, error) {
	plaintext, err := e.decrypt(ctx, blob, context_)
	if err != nil {
		obs.CryptoOperations.WithLabelValues("decrypt", "error").Inc()
		obs.Warn("decrypt failed", map[string]any{"context": context_})
		return nil, ErrCrypto
	}
	obs.CryptoOperations.WithLabelValues("decrypt", "ok").Inc()
	return plaintext, nil
}

func (e *Engine) decrypt(ctx context.Context, blob []byte, context_ string) ([]byte, error) {
	if len(blob) < 2 || blob[0] != blobVersion {
		return nil, ErrCrypto
	}
	idLen := int(blob[1])
	if len(blob) < 2+idLen {
		return nil, ErrCrypto
	}
	keyID := string(blob[2 : 2+idLen])
	key, err := e.keys.ByID(ctx, keyID)
	if err != nil {
		return nil, ErrCrypto
	}
	aead, err := aeadFor(key)
	if err != nil {
		return nil, ErrCrypto
	}
	rest := blob[2+idLen:]
	if len(rest) < aead.NonceSize() {
		return nil, ErrCrypto
	}
	nonce, sealed := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	return aead.Open(nil, nonce, sealed, []byte(context_))
}

// Hash computes a keyed HMAC-SHA256 digest of data under the active master
// key, hex-encoded. Unlike a plain hash it depends on a secret, so digests
// cannot be recomputed outside the core.
func (e *Engine) Hash(ctx context.Context, data []byte) (string, error) {
	key, err := e.keys.Active(ctx, PurposeMaster)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key.Material)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyHash recomputes the digest and compares in constant time.
func (e *Engine) VerifyHash(ctx context.Context, data []byte, digest string) bool {
	expected, err := e.Hash(ctx, data)
	if err != nil {
		return false
	}
	expectedRaw, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	actualRaw, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	return hmac.Equal(expectedRaw, actualRaw)
}

// GenerateToken returns n cryptographically random bytes encoded for safe
// transport in URLs and headers.
func (e *Engine) GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: token length must be positive", ErrInvalidInput)
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func aeadFor(key Key) (cipher.AEAD, error) {
	switch key.Algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key.Material)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20:
		return chacha20poly1305.New(key.Material)
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidInput, key.Algorithm)
	}
}
