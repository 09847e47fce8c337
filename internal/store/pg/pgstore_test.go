package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"arxcore.io/internal/audit"
	"arxcore.io/internal/crypto"
	"arxcore.io/internal/lockout"
	"arxcore.io/internal/rbac"
	"arxcore.io/internal/session"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestActiveKey(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "purpose", "material", "algorithm", "length", "status", "created_at", "expires_at"}).
		AddRow("k1", "data", []byte("material"), "aes-256-gcm", 32, "active", now, now.Add(90*24*time.Hour))
	mock.ExpectQuery("select id, purpose, material, algorithm, length, status, created_at, expires_at.*from encryption_keys.*status='active'").
		WithArgs("data").
		WillReturnRows(rows)

	key, err := store.ActiveKey(context.Background(), crypto.PurposeData)
	if err != nil {
		t.Fatalf("ActiveKey: %v", err)
	}
	if key.ID != "k1" || key.Status != crypto.KeyActive || key.Algorithm != crypto.AlgorithmAESGCM {
		t.Fatalf("key = %+v", key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestActiveKeyMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, purpose, material.*from encryption_keys").
		WithArgs("master").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.ActiveKey(context.Background(), crypto.PurposeMaster); !errors.Is(err, crypto.ErrNotFound) {
		t.Fatalf("expected crypto.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertKeyUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into encryption_keys").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Insert(context.Background(), crypto.Key{
		ID: "k2", Purpose: crypto.PurposeData, Material: []byte("m"),
		Algorithm: crypto.AlgorithmAESGCM, Length: 32, Status: crypto.KeyActive,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	if !errors.Is(err, crypto.ErrConflict) {
		t.Fatalf("expected crypto.ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionCloseAlreadyClosed(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("update sessions set logged_out_at").
		WithArgs("s1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Sessions().Close(context.Background(), "s1", now); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenByUserOrdering(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "user_id", "device_info", "ip", "logged_in_at", "last_activity_at", "logged_out_at"}).
		AddRow("s2", "u1", nil, nil, now, now.Add(time.Minute), nil).
		AddRow("s1", "u1", "cli", "10.0.0.1", now, now, nil)
	mock.ExpectQuery("select id, user_id, device_info.*from sessions.*logged_out_at is null.*order by last_activity_at desc").
		WithArgs("u1").
		WillReturnRows(rows)

	open, err := store.Sessions().OpenByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("OpenByUser: %v", err)
	}
	if len(open) != 2 || open[0].ID != "s2" || open[1].DeviceInfo != "cli" {
		t.Fatalf("open = %+v", open)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRevokeAssignmentInactive(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("update user_role_assignments set active=false").
		WithArgs("a1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RevokeAssignment(context.Background(), "a1", now); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected rbac.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAssignmentsByUserScopeDecoding(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "user_id", "role_id", "scope_restrictions", "assigned_at", "expires_at", "active", "revoked_at"}).
		AddRow("a1", "u1", "r1", []byte(`{"resource_types":["reports"]}`), now, nil, true, nil).
		AddRow("a2", "u1", "r2", []byte("null"), now, nil, true, nil)
	mock.ExpectQuery("select id, user_id, role_id, scope_restrictions.*from user_role_assignments").
		WithArgs("u1").
		WillReturnRows(rows)

	assignments, err := store.AssignmentsByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AssignmentsByUser: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("assignments = %d", len(assignments))
	}
	if assignments[0].ScopeRestrictions == nil || assignments[0].ScopeRestrictions.ResourceTypes[0] != "reports" {
		t.Fatalf("scope not decoded: %+v", assignments[0])
	}
	if assignments[1].ScopeRestrictions != nil {
		t.Fatal("null scope decoded as non-nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCountByIdentifier(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2026, 6, 1, 7, 45, 0, 0, time.UTC)

	mock.ExpectQuery(`select count\(\*\) from security_events.*identifier=`).
		WithArgs("u1", "login_failed", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.CountByIdentifier(context.Background(), "u1", lockout.EventLoginFailed, since)
	if err != nil || n != 4 {
		t.Fatalf("CountByIdentifier = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClearLockMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from account_locks").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.ClearLock(context.Background(), "u1"); !errors.Is(err, lockout.ErrNotFound) {
		t.Fatalf("expected lockout.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAuditQueryFilters(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "actor_id", "action", "category", "severity", "payload", "occurred_at"}).
		AddRow("e1", "u1", "session.open", "session", "info", []byte(`{"session_id":"s1"}`), now)
	mock.ExpectQuery("select id, coalesce.*from audit_entries where actor_id=.* order by occurred_at desc").
		WithArgs("u1", 50).
		WillReturnRows(rows)

	entries, err := store.Query(context.Background(), audit.Filter{ActorID: "u1", Limit: 50})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Payload["session_id"] != "s1" {
		t.Fatalf("entries = %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("delete from audit_entries where occurred_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 321))

	n, err := store.DeleteOlderThan(context.Background(), cutoff)
	if err != nil || n != 321 {
		t.Fatalf("DeleteOlderThan = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
