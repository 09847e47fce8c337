package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"arxcore.io/internal/session"
)

// SessionStore is carved out as its own receiver because session.Store has a
// Close(ctx, id, at) method that would collide with the pool's Close.
type SessionStore struct {
	db *sql.DB
}

var _ session.Store = (*SessionStore)(nil)

// Sessions returns the session.Store view over the same pool.
func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.db} }

func (s *SessionStore) Create(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, device_info, ip, logged_in_at, last_activity_at, logged_out_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, sess.ID, sess.UserID, nullIfEmpty(sess.DeviceInfo), nullIfEmpty(sess.IP),
		sess.LoggedInAt, sess.LastActivityAt, nullTime(sess.LoggedOutAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return session.ErrConflict
		}
		return err
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, device_info, ip, logged_in_at, last_activity_at, logged_out_at
		from sessions where id=$1
	`, id)
	return scanSession(row.Scan)
}

func (s *SessionStore) OpenByUser(ctx context.Context, userID string) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, device_info, ip, logged_in_at, last_activity_at, logged_out_at
		from sessions
		where user_id=$1 and logged_out_at is null
		order by last_activity_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set last_activity_at=$2 where id=$1 and logged_out_at is null
	`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) Close(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set logged_out_at=$2 where id=$1 and logged_out_at is null
	`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_login_state (user_id, last_login_at)
		values ($1,$2)
		on conflict (user_id) do update set last_login_at=excluded.last_login_at
	`, userID, at)
	return err
}

func scanSession(scan func(dest ...any) error) (session.Session, error) {
	var (
		sess        session.Session
		deviceInfo  sql.NullString
		ip          sql.NullString
		loggedOutAt sql.NullTime
	)
	err := scan(&sess.ID, &sess.UserID, &deviceInfo, &ip, &sess.LoggedInAt, &sess.LastActivityAt, &loggedOutAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	sess.DeviceInfo = deviceInfo.String
	sess.IP = ip.String
	sess.LoggedOutAt = timePtr(loggedOutAt)
	return sess, nil
}
