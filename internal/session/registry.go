package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arxcore.io/internal/audit"
	"arxcore.io/internal/cache"
	"arxcore.io/internal/ids"
	"arxcore.io/internal/obs"
)

const (
	defaultMaxSessions = 5
	defaultIdleTimeout = 30 * time.Minute

	revokedKeyPrefix = "session:revoked:"
)

// Registry tracks active sessions: concurrency cap with
// least-recently-active eviction, inactivity expiry, and revocation of the
// transport token through a cache denylist.
type Registry struct {
	store  Store
	cache  cache.KeyValueCache
	trail  *audit.Trail
	minter *TokenMinter
	now    func() time.Time

	maxSessions int
	idleTimeout time.Duration
}

// Option configures Registry behavior.
type Option func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMaxSessions sets the per-user concurrent session cap.
func WithMaxSessions(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithIdleTimeout sets the inactivity horizon for CheckInactivity.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// NewRegistry constructs a Registry.
func NewRegistry(store Store, kv cache.KeyValueCache, trail *audit.Trail, minter *TokenMinter, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if kv == nil {
		return nil, errors.New("session: cache is required")
	}
	if minter == nil {
		return nil, errors.New("session: token minter is required")
	}
	r := &Registry{
		store:       store,
		cache:       kv,
		trail:       trail,
		minter:      minter,
		now:         time.Now,
		maxSessions: defaultMaxSessions,
		idleTimeout: defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TrackLogin records a new session, updates the user's last-login marker,
// enforces the concurrency cap by closing least-recently-active extras, and
// mints the transport token. A transient overshoot under concurrent logins
// is acceptable; the next login corrects it.
func (r *Registry) TrackLogin(ctx context.Context, userID string, reqCtx RequestContext) (Session, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := r.now().UTC()
	s := Session{
		ID:             ids.NewAt(now),
		UserID:         userID,
		DeviceInfo:     reqCtx.DeviceInfo,
		IP:             reqCtx.IP,
		LoggedInAt:     now,
		LastActivityAt: now,
	}
	if err := r.store.Create(ctx, s); err != nil {
		return Session{}, "", fmt.Errorf("create session: %w", err)
	}
	if err := r.store.UpdateLastLogin(ctx, userID, now); err != nil {
		obs.Warn("last-login update failed", map[string]any{"user_id": userID, "error": err.Error()})
	}
	obs.SessionTransitions.WithLabelValues("open").Inc()
	r.audit(ctx, userID, "session.open", map[string]any{"session_id": s.ID, "ip": reqCtx.IP})

	open, err := r.store.OpenByUser(ctx, userID)
	if err != nil {
		return Session{}, "", fmt.Errorf("list open sessions: %w", err)
	}
	for i := r.maxSessions; i < len(open); i++ {
		evicted := open[i]
		if err := r.closeSession(ctx, evicted, "session.evicted"); err != nil {
			obs.Warn("session eviction failed", map[string]any{"session_id": evicted.ID, "error": err.Error()})
		}
	}

	token, err := r.minter.Mint(userID, s.ID)
	if err != nil {
		return Session{}, "", fmt.Errorf("mint session token: %w", err)
	}
	return s, token, nil
}

// UpdateActivity bumps last activity for an open session only.
func (r *Registry) UpdateActivity(ctx context.Context, sessionID string) error {
	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.Open() {
		return fmt.Errorf("%w: session already closed", ErrConflict)
	}
	return r.store.Touch(ctx, sessionID, r.now().UTC())
}

// RevokeSession closes one of the user's sessions and invalidates its
// transport token. Revoking the caller's own current session through this
// path is refused; explicit logout is the only way to close it.
func (r *Registry) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if current, ok := CurrentFromContext(ctx); ok && current == sessionID {
		return fmt.Errorf("%w: cannot revoke the current session, log out instead", ErrConflict)
	}
	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.UserID != userID {
		// Do not reveal that the session exists under another user.
		return ErrNotFound
	}
	if !s.Open() {
		return fmt.Errorf("%w: session already closed", ErrConflict)
	}
	return r.closeSession(ctx, s, "session.revoked")
}

// RevokeAllSessions closes every open session of the user, keeping the
// caller's current one unless includeCurrent is set. Returns the number of
// sessions closed.
func (r *Registry) RevokeAllSessions(ctx context.Context, userID string, includeCurrent bool) (int, error) {
	open, err := r.store.OpenByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list open sessions: %w", err)
	}
	current, _ := CurrentFromContext(ctx)
	closed := 0
	for _, s := range open {
		if !includeCurrent && s.ID == current {
			continue
		}
		if err := r.closeSession(ctx, s, "session.revoked"); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// CheckInactivity force-closes the user's sessions idle past the timeout
// and returns how many were closed. Invoked at read time; no background
// sweep exists.
func (r *Registry) CheckInactivity(ctx context.Context, userID string) (int, error) {
	open, err := r.store.OpenByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list open sessions: %w", err)
	}
	cutoff := r.now().UTC().Add(-r.idleTimeout)
	closed := 0
	for _, s := range open {
		if s.LastActivityAt.After(cutoff) {
			continue
		}
		if err := r.closeSession(ctx, s, "session.timed_out"); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// ValidateToken parses a transport token and confirms that neither the
// token nor its session has been revoked. Missing cache state fails closed.
func (r *Registry) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := r.minter.Parse(token)
	if err != nil {
		return nil, err
	}
	if _, err := r.cache.Get(ctx, revokedKeyPrefix+claims.SessionID); err == nil {
		return nil, ErrTokenInvalid
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, ErrTokenInvalid
	}
	s, err := r.store.Get(ctx, claims.SessionID)
	if err != nil || !s.Open() {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (r *Registry) closeSession(ctx context.Context, s Session, action string) error {
	now := r.now().UTC()
	if err := r.store.Close(ctx, s.ID, now); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if err := r.cache.Set(ctx, revokedKeyPrefix+s.ID, "1", r.minter.TTL()); err != nil {
		obs.Warn("session denylist write failed", map[string]any{"session_id": s.ID, "error": err.Error()})
	}
	obs.SessionTransitions.WithLabelValues(strings.TrimPrefix(action, "session.")).Inc()
	r.audit(ctx, s.UserID, action, map[string]any{"session_id": s.ID})
	return nil
}

func (r *Registry) audit(ctx context.Context, actor, action string, changes map[string]any) {
	if r.trail == nil {
		return
	}
	r.trail.Log(ctx, actor, action, changes, nil)
}
