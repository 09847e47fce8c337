package mfa

import (
	"errors"
	"time"
)

// DeviceType identifies how a second factor is exercised.
type DeviceType string

const (
	DeviceTOTP  DeviceType = "totp"
	DeviceSMS   DeviceType = "sms"
	DeviceEmail DeviceType = "email"
)

// Valid reports whether the type is one of the supported factors.
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTOTP, DeviceSMS, DeviceEmail:
		return true
	}
	return false
}

// Device is a registered second factor. Secret holds the TOTP seed for totp
// devices and the delivery address for sms/email devices, encrypted at rest;
// plaintext never touches the store.
type Device struct {
	ID              string
	UserID          string
	Name            string
	Type            DeviceType
	Identifier      string
	EncryptedSecret []byte
	Verified        bool
	Primary         bool
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

// BackupCode is a single-use recovery code, stored only as a keyed hash.
type BackupCode struct {
	ID        string
	UserID    string
	Hash      string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Registration is what RegisterDevice hands back to the caller: the one and
// only exposure of the TOTP secret, provisioning URI, and backup codes.
type Registration struct {
	Device          Device
	TOTPSecret      string
	ProvisioningURI string
	BackupCodes     []string
}

var (
	// ErrNotFound reports a missing device or backup code.
	ErrNotFound = errors.New("mfa: not found")
	// ErrInvalidInput reports malformed input.
	ErrInvalidInput = errors.New("mfa: invalid input")
	// ErrConflict reports an operation against a device in the wrong state.
	ErrConflict = errors.New("mfa: conflict")
	// ErrCodeInvalid is the single answer for any failed verification. It
	// deliberately carries no detail that would distinguish a wrong code
	// from an expired or absent one.
	ErrCodeInvalid = errors.New("mfa: verification failed")
	// ErrMethodLocked reports that the method is locked after repeated
	// failures.
	ErrMethodLocked = errors.New("mfa: method temporarily locked")
)
