package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"arxcore.io/internal/mfa"
)

var _ mfa.DeviceStore = (*Store)(nil)

const deviceColumns = `id, user_id, name, type, identifier, encrypted_secret, verified, is_primary, last_used_at, created_at`

func (s *Store) InsertDevice(ctx context.Context, d mfa.Device) error {
	_, err := s.db.ExecContext(ctx, `
		insert into mfa_devices (`+deviceColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, d.ID, d.UserID, nullIfEmpty(d.Name), string(d.Type), nullIfEmpty(d.Identifier),
		d.EncryptedSecret, d.Verified, d.Primary, nullTime(d.LastUsedAt), d.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return mfa.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) DeviceByID(ctx context.Context, id string) (mfa.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+deviceColumns+` from mfa_devices where id=$1
	`, id)
	return scanDevice(row.Scan)
}

func (s *Store) DevicesByUser(ctx context.Context, userID string) ([]mfa.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+deviceColumns+` from mfa_devices where user_id=$1 order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mfa.Device
	for rows.Next() {
		d, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDevice(ctx context.Context, d mfa.Device) error {
	res, err := s.db.ExecContext(ctx, `
		update mfa_devices
		set name=$2, verified=$3, is_primary=$4, last_used_at=$5
		where id=$1
	`, d.ID, nullIfEmpty(d.Name), d.Verified, d.Primary, nullTime(d.LastUsedAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return mfa.ErrConflict
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mfa.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from mfa_devices where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mfa.ErrNotFound
	}
	return nil
}

func (s *Store) InsertBackupCodes(ctx context.Context, codes []mfa.BackupCode) error {
	if len(codes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, `
			insert into mfa_backup_codes (id, user_id, code_hash, used_at, created_at)
			values ($1,$2,$3,$4,$5)
		`, c.ID, c.UserID, c.Hash, nullTime(c.UsedAt), c.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UnusedBackupCodes(ctx context.Context, userID string) ([]mfa.BackupCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, code_hash, used_at, created_at
		from mfa_backup_codes
		where user_id=$1 and used_at is null
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mfa.BackupCode
	for rows.Next() {
		var (
			c      mfa.BackupCode
			usedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Hash, &usedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.UsedAt = timePtr(usedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) MarkBackupCodeUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update mfa_backup_codes set used_at=$2 where id=$1 and used_at is null
	`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mfa.ErrNotFound
	}
	return nil
}

func scanDevice(scan func(dest ...any) error) (mfa.Device, error) {
	var (
		d          mfa.Device
		typ        string
		name       sql.NullString
		identifier sql.NullString
		lastUsed   sql.NullTime
	)
	err := scan(&d.ID, &d.UserID, &name, &typ, &identifier, &d.EncryptedSecret, &d.Verified, &d.Primary, &lastUsed, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mfa.Device{}, mfa.ErrNotFound
	}
	if err != nil {
		return mfa.Device{}, err
	}
	d.Type = mfa.DeviceType(typ)
	d.Name = name.String
	d.Identifier = identifier.String
	d.LastUsedAt = timePtr(lastUsed)
	return d, nil
}
