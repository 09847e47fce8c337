package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"arxcore.io/internal/cache"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]Session{}}
}

func (f *fakeStore) Create(_ context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) OpenByUser(_ context.Context, userID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.Open() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (f *fakeStore) Touch(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = at
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) Close(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ErrNotFound
	}
	closedAt := at
	s.LoggedOutAt = &closedAt
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func newTestRegistry(t *testing.T, current *time.Time, opts ...Option) (*Registry, *fakeStore, *cache.Memory) {
	t.Helper()
	store := newFakeStore()
	kv := cache.NewMemory()
	kv.SetClock(func() time.Time { return *current })
	minter, err := NewTokenMinter([]byte("test-secret-0123456789abcdef"), "arxcore", 12*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenMinter: %v", err)
	}
	minter.now = func() time.Time { return *current }
	opts = append([]Option{WithClock(func() time.Time { return *current })}, opts...)
	reg, err := NewRegistry(store, kv, nil, minter, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, store, kv
}

func TestTrackLoginMintsValidToken(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg, _, _ := newTestRegistry(t, &current)

	s, token, err := reg.TrackLogin(ctx, "u1", RequestContext{DeviceInfo: "cli", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("TrackLogin: %v", err)
	}
	claims, err := reg.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.SessionID != s.ID || claims.Subject != "u1" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestSessionCapEvictsLeastRecentlyActive(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg, store, _ := newTestRegistry(t, &current)

	var first Session
	for i := 0; i < 5; i++ {
		s, _, err := reg.TrackLogin(ctx, "u1", RequestContext{IP: "10.0.0.1"})
		if err != nil {
			t.Fatalf("TrackLogin %d: %v", i, err)
		}
		if i == 0 {
			first = s
		}
		current = current.Add(time.Minute)
	}

	open, _ := store.OpenByUser(ctx, "u1")
	if len(open) != 5 {
		t.Fatalf("open sessions = %d, want 5", len(open))
	}

	// 6th login evicts exactly the least-recently-active session.
	if _, _, err := reg.TrackLogin(ctx, "u1", RequestContext{IP: "10.0.0.2"}); err != nil {
		t.Fatalf("TrackLogin: %v", err)
	}
	open, _ = store.OpenByUser(ctx, "u1")
	if len(open) != 5 {
		t.Fatalf("open sessions after 6th login = %d, want 5", len(open))
	}
	got, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Open() {
		t.Fatal("oldest session was not evicted")
	}
}

func TestUpdateActivityOnlyOpenSessions(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg, store, _ := newTestRegistry(t, &current)

	s, _, err := reg.TrackLogin(ctx, "u1", RequestContext{})
	if err != nil {
		t.Fatalf("TrackLogin: %v", err)
	}
	current = current.Add(5 * time.Minute)
	if err := reg.UpdateActivity(ctx, s.ID); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}
	got, _ := store.Get(ctx, s.ID)
	if !got.LastActivityAt.Equal(current) {
		t.Fatalf("LastActivityAt = %v, want %v", got.LastActivityAt, current)
	}

	if err := store.Close(ctx, s.ID, current); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := reg.UpdateActivity(ctx, s.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for closed session, got %v", err)
	}
}

func TestRevokeOwnCurrentSessionRefused(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg, _, _ := newTestRegistry(t, &current)

	s, _, err := reg.TrackLogin(ctx, "u1", RequestContext{})
	if err != nil {
		t.Fatalf("TrackLogin: %v", err)
	}
	callerCtx := ContextWithCurrent(ctx, s.ID)
	if err := reg.RevokeSession(callerCtx, "u1", s.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict revoking own current session, got %v", err)
	}
}

func TestRevokeSessionInvalidatesToken(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg, _, _ := newTestRegistry(t, &current)

	s, token, err := reg.TrackLogin(ctx, "u1", RequestContext{})
	if err != nil {
		t.Fatalf("TrackLogin: %v", err)
	}
	if err := reg.RevokeSession(ctx, "u1", s.ID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := reg.ValidateToken(ctx, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after revoke, got %v", err)
	}
	// Revoking again conflicts.
	if err := reg.RevokeSession(ctx, "u1", s.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on double revoke, got %v", err)
	}
	// Another user's session id reads as not found.
	if err := reg.RevokeSession(ctx, "u2", s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign session, got %v", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg, store, _ := newTestRegistry(t, &current)

	var currentSession Session
	for i := 0; i < 3; i++ {
		s, _, err := reg.TrackLogin(ctx, "u1", RequestContext{})
		if err != nil {
			t.Fatalf("TrackLogin: %v", err)
		}
		currentSession = s
		current = current.Add(time.Minute)
	}
	callerCtx := ContextWithCurrent(ctx, currentSession.ID)

	closed, err := reg.RevokeAllSessions(callerCtx, "u1", false)
	if err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if closed != 2 {
		t.Fatalf("closed = %d, want 2 (current spared)", closed)
	}
	open, _ := store.OpenByUser(ctx, "u1")
	if len(open) != 1 || open[0].ID != currentSession.ID {
		t.Fatalf("expected only the current session to stay open, got %d", len(open))
	}

	closed, err = reg.RevokeAllSessions(callerCtx, "u1", true)
	if err != nil || closed != 1 {
		t.Fatalf("RevokeAllSessions(includeCurrent) = %d, %v", closed, err)
	}
}

func TestCheckInactivity(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg, store, _ := newTestRegistry(t, &current)

	stale, _, err := reg.TrackLogin(ctx, "u1", RequestContext{})
	if err != nil {
		t.Fatalf("TrackLogin: %v", err)
	}
	current = current.Add(20 * time.Minute)
	fresh, _, err := reg.TrackLogin(ctx, "u1", RequestContext{})
	if err != nil {
		t.Fatalf("TrackLogin: %v", err)
	}

	current = current.Add(15 * time.Minute)
	closed, err := reg.CheckInactivity(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckInactivity: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	gotStale, _ := store.Get(ctx, stale.ID)
	gotFresh, _ := store.Get(ctx, fresh.ID)
	if gotStale.Open() {
		t.Fatal("idle session left open")
	}
	if !gotFresh.Open() {
		t.Fatal("fresh session closed")
	}
}

func TestTokenMinterRejectsGarbage(t *testing.T) {
	minter, err := NewTokenMinter([]byte("test-secret-0123456789abcdef"), "arxcore", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenMinter: %v", err)
	}
	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := minter.Parse(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("Parse(%q) = %v, want ErrTokenInvalid", raw, err)
		}
	}
	other, _ := NewTokenMinter([]byte("a-different-secret-value-here"), "arxcore", time.Hour)
	token, err := other.Mint("u1", "s1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := minter.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}
