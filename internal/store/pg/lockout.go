package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"arxcore.io/internal/lockout"
)

var _ lockout.Store = (*Store)(nil)

func (s *Store) AppendEvent(ctx context.Context, event lockout.SecurityEvent) error {
	_, err := s.db.ExecContext(ctx, `
		insert into security_events (id, identifier, ip, type, risk_score, blocked, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, event.ID, event.Identifier, event.IP, string(event.Type), event.RiskScore, event.Blocked, event.OccurredAt)
	return err
}

func (s *Store) CountByIdentifier(ctx context.Context, identifier string, typ lockout.EventType, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from security_events
		where identifier=$1 and type=$2 and occurred_at >= $3
	`, identifier, string(typ), since).Scan(&n)
	return n, err
}

func (s *Store) CountByIP(ctx context.Context, ip string, typ lockout.EventType, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from security_events
		where ip=$1 and type=$2 and occurred_at >= $3
	`, ip, string(typ), since).Scan(&n)
	return n, err
}

func (s *Store) GetLock(ctx context.Context, userID string) (lockout.LockState, error) {
	var (
		state    lockout.LockState
		lockedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, reason, locked_by, locked_at, locked_until
		from account_locks where user_id=$1
	`, userID).Scan(&state.UserID, &state.Reason, &lockedBy, &state.LockedAt, &state.LockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return lockout.LockState{}, lockout.ErrNotFound
	}
	if err != nil {
		return lockout.LockState{}, err
	}
	state.LockedBy = lockedBy.String
	return state, nil
}

func (s *Store) SetLock(ctx context.Context, state lockout.LockState) error {
	_, err := s.db.ExecContext(ctx, `
		insert into account_locks (user_id, reason, locked_by, locked_at, locked_until)
		values ($1,$2,$3,$4,$5)
		on conflict (user_id) do update
		set reason=excluded.reason, locked_by=excluded.locked_by,
		    locked_at=excluded.locked_at, locked_until=excluded.locked_until
	`, state.UserID, state.Reason, nullIfEmpty(state.LockedBy), state.LockedAt, state.LockedUntil)
	return err
}

func (s *Store) ClearLock(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from account_locks where user_id=$1`, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return lockout.ErrNotFound
	}
	return nil
}
