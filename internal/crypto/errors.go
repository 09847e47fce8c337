package crypto

import "errors"

var (
	// ErrCrypto is the single opaque failure for Decrypt and related
	// integrity checks. It deliberately does not distinguish tamper,
	// truncation, unknown-key, or wrong-context conditions.
	ErrCrypto = errors.New("crypto: operation failed")

	ErrInvalidInput = errors.New("crypto: invalid input")
	ErrNoActiveKey  = errors.New("crypto: no active key for purpose")
	ErrNotFound     = errors.New("crypto: key not found")
	ErrConflict     = errors.New("crypto: key state conflict")
)
