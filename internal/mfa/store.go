package mfa

import (
	"context"
	"time"
)

// DeviceStore persists devices and backup-code hashes.
type DeviceStore interface {
	InsertDevice(ctx context.Context, d Device) error
	DeviceByID(ctx context.Context, id string) (Device, error)
	DevicesByUser(ctx context.Context, userID string) ([]Device, error)
	UpdateDevice(ctx context.Context, d Device) error
	DeleteDevice(ctx context.Context, id string) error

	InsertBackupCodes(ctx context.Context, codes []BackupCode) error
	UnusedBackupCodes(ctx context.Context, userID string) ([]BackupCode, error)
	MarkBackupCodeUsed(ctx context.Context, id string, at time.Time) error
}
