package mfa

import (
	"context"
	"fmt"
	"strings"

	"arxcore.io/internal/ids"
	"arxcore.io/internal/obs"
)

// RegisterDevice enrolls a new second factor. For totp devices a fresh
// secret is generated; for sms/email devices the delivery address is the
// secret. Either way the plaintext is returned exactly once in the
// Registration and only ciphertext reaches the store. The user's first
// device becomes primary.
func (e *Engine) RegisterDevice(ctx context.Context, userID, name string, typ DeviceType, identifier string) (Registration, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Registration{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !typ.Valid() {
		return Registration{}, fmt.Errorf("%w: unsupported device type %q", ErrInvalidInput, typ)
	}
	if typ != DeviceTOTP && strings.TrimSpace(identifier) == "" {
		return Registration{}, fmt.Errorf("%w: delivery address is required", ErrInvalidInput)
	}

	secretPlain := identifier
	var totpSecret string
	if typ == DeviceTOTP {
		s, err := GenerateTOTPSecret()
		if err != nil {
			return Registration{}, err
		}
		secretPlain, totpSecret = s, s
	}
	sealed, err := e.crypt.Encrypt(ctx, []byte(secretPlain), deviceCryptoContext)
	if err != nil {
		return Registration{}, fmt.Errorf("seal device secret: %w", err)
	}

	existing, err := e.devices.DevicesByUser(ctx, userID)
	if err != nil {
		return Registration{}, fmt.Errorf("list devices: %w", err)
	}
	now := e.now().UTC()
	d := Device{
		ID:              ids.NewAt(now),
		UserID:          userID,
		Name:            strings.TrimSpace(name),
		Type:            typ,
		Identifier:      identifier,
		EncryptedSecret: sealed,
		Primary:         len(existing) == 0,
		CreatedAt:       now,
	}
	if err := e.devices.InsertDevice(ctx, d); err != nil {
		return Registration{}, fmt.Errorf("insert device: %w", err)
	}

	codes, err := e.issueBackupCodes(ctx, userID)
	if err != nil {
		return Registration{}, err
	}

	reg := Registration{Device: d, BackupCodes: codes}
	if typ == DeviceTOTP {
		reg.TOTPSecret = totpSecret
		reg.ProvisioningURI = ProvisioningURI(totpSecret, e.issuer, userID)
	}
	e.audit(ctx, userID, "mfa.device_registered", map[string]any{
		"device_id": d.ID,
		"type":      string(typ),
		"primary":   d.Primary,
	})
	return reg, nil
}

// RemoveDevice deletes a device. When the primary goes, another device is
// promoted, preferring verified ones; with no other device the user simply
// has no primary.
func (e *Engine) RemoveDevice(ctx context.Context, userID, deviceID string) error {
	d, err := e.devices.DeviceByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return ErrNotFound
	}
	if err := e.devices.DeleteDevice(ctx, deviceID); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	promoted := ""
	if d.Primary {
		rest, err := e.devices.DevicesByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		if next := pickPrimary(rest); next != nil {
			next.Primary = true
			if err := e.devices.UpdateDevice(ctx, *next); err != nil {
				return fmt.Errorf("promote device: %w", err)
			}
			promoted = next.ID
		}
	}
	changes := map[string]any{"device_id": d.ID, "type": string(d.Type)}
	if promoted != "" {
		changes["promoted_device_id"] = promoted
	}
	e.audit(ctx, userID, "mfa.device_removed", changes)
	return nil
}

// pickPrimary chooses the promotion candidate: the first verified device,
// else the first device at all.
func pickPrimary(devices []Device) *Device {
	var fallback *Device
	for i := range devices {
		if devices[i].Verified {
			return &devices[i]
		}
		if fallback == nil {
			fallback = &devices[i]
		}
	}
	return fallback
}

// Devices lists the user's registered devices.
func (e *Engine) Devices(ctx context.Context, userID string) ([]Device, error) {
	return e.devices.DevicesByUser(ctx, userID)
}

// UseBackupCode consumes a single-use recovery code. Codes are stored only
// as keyed hashes; matching is constant-time per candidate.
func (e *Engine) UseBackupCode(ctx context.Context, userID, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrCodeInvalid
	}
	unused, err := e.devices.UnusedBackupCodes(ctx, userID)
	if err != nil {
		obs.Warn("backup code lookup failed", map[string]any{"user_id": userID, "error": err.Error()})
		return ErrCodeInvalid
	}
	for _, c := range unused {
		if !e.crypt.VerifyHash(ctx, []byte(code), c.Hash) {
			continue
		}
		if err := e.devices.MarkBackupCodeUsed(ctx, c.ID, e.now().UTC()); err != nil {
			return fmt.Errorf("consume backup code: %w", err)
		}
		obs.MFAVerifications.WithLabelValues("backup_code", "success").Inc()
		e.audit(ctx, userID, "mfa.backup_code_used", map[string]any{"code_id": c.ID})
		return nil
	}
	obs.MFAVerifications.WithLabelValues("backup_code", "failure").Inc()
	return ErrCodeInvalid
}

// issueBackupCodes mints a fresh batch of single-use codes and stores their
// hashes. The plaintext codes are returned to the caller and never persisted.
func (e *Engine) issueBackupCodes(ctx context.Context, userID string) ([]string, error) {
	now := e.now().UTC()
	plain := make([]string, 0, e.backupCount)
	rows := make([]BackupCode, 0, e.backupCount)
	for i := 0; i < e.backupCount; i++ {
		code, err := e.crypt.GenerateToken(6)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		digest, err := e.crypt.Hash(ctx, []byte(code))
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		plain = append(plain, code)
		rows = append(rows, BackupCode{
			ID:        ids.NewAt(now),
			UserID:    userID,
			Hash:      digest,
			CreatedAt: now,
		})
	}
	if err := e.devices.InsertBackupCodes(ctx, rows); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	return plain, nil
}
