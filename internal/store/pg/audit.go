package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arxcore.io/internal/audit"
)

var _ audit.Store = (*Store)(nil)

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	payload := []byte("{}")
	if len(entry.Payload) > 0 {
		raw, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries (id, actor_id, action, category, severity, payload, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, nullIfEmpty(entry.ActorID), entry.Action, entry.Category, string(entry.Severity), payload, entry.OccurredAt)
	return err
}

func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, clause+"$"+strconv.Itoa(len(args)))
	}
	if filter.ActorID != "" {
		add("actor_id=", filter.ActorID)
	}
	if filter.Action != "" {
		add("action=", filter.Action)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= ", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= ", filter.To)
	}

	query := `select id, coalesce(actor_id,''), action, category, severity, payload, occurred_at from audit_entries`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, filter.Limit)
	query += " order by occurred_at desc limit $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			severity string
			payload  []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Category, &severity, &payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Severity = audit.Severity(severity)
		if len(payload) > 0 && string(payload) != "{}" {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_entries where occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
