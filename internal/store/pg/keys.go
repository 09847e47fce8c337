package pg

import (
	"context"
	"database/sql"
	"errors"

	"arxcore.io/internal/crypto"
)

var _ crypto.KeyStore = (*Store)(nil)

func (s *Store) ActiveKey(ctx context.Context, purpose crypto.Purpose) (crypto.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, purpose, material, algorithm, length, status, created_at, expires_at
		from encryption_keys
		where purpose=$1 and status='active'
	`, string(purpose))
	return scanKey(row)
}

func (s *Store) KeyByID(ctx context.Context, id string) (crypto.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, purpose, material, algorithm, length, status, created_at, expires_at
		from encryption_keys
		where id=$1
	`, id)
	return scanKey(row)
}

func (s *Store) Insert(ctx context.Context, key crypto.Key) error {
	_, err := s.db.ExecContext(ctx, `
		insert into encryption_keys (id, purpose, material, algorithm, length, status, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, key.ID, string(key.Purpose), key.Material, string(key.Algorithm), key.Length, string(key.Status), key.CreatedAt, key.ExpiresAt)
	if err != nil {
		// The partial unique index on (purpose) where status='active'
		// rejects a second active key per purpose.
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return crypto.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status crypto.KeyStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update encryption_keys set status=$2 where id=$1
	`, id, string(status))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return crypto.ErrNotFound
	}
	return nil
}

func scanKey(row *sql.Row) (crypto.Key, error) {
	var (
		k         crypto.Key
		purpose   string
		algorithm string
		status    string
	)
	err := row.Scan(&k.ID, &purpose, &k.Material, &algorithm, &k.Length, &status, &k.CreatedAt, &k.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crypto.Key{}, crypto.ErrNotFound
	}
	if err != nil {
		return crypto.Key{}, err
	}
	k.Purpose = crypto.Purpose(purpose)
	k.Algorithm = crypto.Algorithm(algorithm)
	k.Status = crypto.KeyStatus(status)
	return k, nil
}
