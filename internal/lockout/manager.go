package lockout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arxcore.io/internal/audit"
	"arxcore.io/internal/ids"
	"arxcore.io/internal/notify"
	"arxcore.io/internal/obs"
)

// ErrLocked reports an account that is currently locked. Remaining returns
// how long the lock still holds.
var ErrLocked = errors.New("lockout: account locked")

const (
	defaultThreshold    = 5
	defaultWindow       = 15 * time.Minute
	defaultLockDuration = 60 * time.Minute

	riskWindow          = time.Hour
	riskPerFailure      = 10
	riskSideCap         = 50
	riskMax             = 100
	bruteForceWindow    = 5 * time.Minute
	bruteForceThreshold = 10
)

// Manager tracks failed attempts, scores risk, and applies timed account
// locks. Lock expiry is lazy: IsLocked clears a stale lock as a side effect
// of the check, no background sweep runs.
type Manager struct {
	store    Store
	trail    *audit.Trail
	notifier notify.Notifier
	now      func() time.Time

	threshold    int
	window       time.Duration
	lockDuration time.Duration
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithThreshold sets the failed-attempt count that triggers ShouldLock.
func WithThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithWindow sets the rolling window ShouldLock counts over.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithLockDuration sets how long a lock holds.
func WithLockDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lockDuration = d
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, trail *audit.Trail, notifier notify.Notifier, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("lockout: store is required")
	}
	m := &Manager{
		store:        store,
		trail:        trail,
		notifier:     notifier,
		now:          time.Now,
		threshold:    defaultThreshold,
		window:       defaultWindow,
		lockDuration: defaultLockDuration,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RecordFailedAttempt appends a login-failure event with a computed risk
// score and returns the event. The score sums per-IP and per-identifier
// failure pressure over the last hour, each side capped at 50.
func (m *Manager) RecordFailedAttempt(ctx context.Context, identifier, ip string) (SecurityEvent, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return SecurityEvent{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	now := m.now().UTC()
	since := now.Add(-riskWindow)

	ipFails, err := m.store.CountByIP(ctx, ip, EventLoginFailed, since)
	if err != nil {
		return SecurityEvent{}, fmt.Errorf("count by ip: %w", err)
	}
	idFails, err := m.store.CountByIdentifier(ctx, identifier, EventLoginFailed, since)
	if err != nil {
		return SecurityEvent{}, fmt.Errorf("count by identifier: %w", err)
	}

	// Counts exclude this attempt, so +1 on each side.
	risk := capped((ipFails+1)*riskPerFailure, riskSideCap) + capped((idFails+1)*riskPerFailure, riskSideCap)
	if risk > riskMax {
		risk = riskMax
	}

	event := SecurityEvent{
		ID:         ids.NewAt(now),
		Identifier: identifier,
		IP:         ip,
		Type:       EventLoginFailed,
		RiskScore:  risk,
		OccurredAt: now,
	}
	if err := m.store.AppendEvent(ctx, event); err != nil {
		return SecurityEvent{}, fmt.Errorf("append event: %w", err)
	}
	obs.AuthFailures.WithLabelValues("login").Inc()
	return event, nil
}

// ShouldLock reports whether the identifier has reached the failure
// threshold within the rolling window.
func (m *Manager) ShouldLock(ctx context.Context, identifier string) (bool, error) {
	since := m.now().UTC().Add(-m.window)
	count, err := m.store.CountByIdentifier(ctx, identifier, EventLoginFailed, since)
	if err != nil {
		return false, fmt.Errorf("count by identifier: %w", err)
	}
	return count >= m.threshold, nil
}

// Lock applies a timed lock and notifies the user best-effort: a failed
// notification is logged and never prevents the lock from taking effect.
func (m *Manager) Lock(ctx context.Context, userID, reason string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := m.now().UTC()
	state := LockState{
		UserID:      userID,
		Reason:      reason,
		LockedBy:    "system",
		LockedAt:    now,
		LockedUntil: now.Add(m.lockDuration),
	}
	if err := m.store.SetLock(ctx, state); err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	obs.LockoutsApplied.Inc()
	m.audit(ctx, userID, "lockout.locked", map[string]any{
		"reason":       reason,
		"locked_until": state.LockedUntil.Format(time.RFC3339),
	})
	if m.notifier != nil {
		if err := m.notifier.Send(ctx, userID, notify.ChannelEmail,
			"account temporarily locked", "Your account was locked after repeated failed sign-in attempts."); err != nil {
			obs.Warn("lock notification failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}
	return nil
}

// Unlock clears a lock ahead of its expiry. by identifies the operator;
// empty means self-service or automatic.
func (m *Manager) Unlock(ctx context.Context, userID, by string) error {
	if err := m.store.ClearLock(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("clear lock: %w", err)
	}
	actor := by
	if actor == "" {
		actor = "system"
	}
	m.audit(ctx, actor, "lockout.unlocked", map[string]any{"user_id": userID})
	return nil
}

// IsLocked reports whether the user is currently locked and, if so, how
// long remains. A lock whose deadline has passed is cleared here, at read
// time.
func (m *Manager) IsLocked(ctx context.Context, userID string) (bool, time.Duration, error) {
	state, err := m.store.GetLock(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("get lock: %w", err)
	}
	now := m.now().UTC()
	if !now.Before(state.LockedUntil) {
		if err := m.store.ClearLock(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
			obs.Warn("lazy lock clear failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
		m.audit(ctx, "system", "lockout.expired", map[string]any{"user_id": userID})
		return false, 0, nil
	}
	return true, state.LockedUntil.Sub(now), nil
}

// DetectBruteForce flags an IP with ten or more failures inside five
// minutes, independent of any single identifier. A detection appends a
// maximum-risk blocked event.
func (m *Manager) DetectBruteForce(ctx context.Context, ip string) (bool, error) {
	now := m.now().UTC()
	count, err := m.store.CountByIP(ctx, ip, EventLoginFailed, now.Add(-bruteForceWindow))
	if err != nil {
		return false, fmt.Errorf("count by ip: %w", err)
	}
	if count < bruteForceThreshold {
		return false, nil
	}
	event := SecurityEvent{
		ID:         ids.NewAt(now),
		IP:         ip,
		Type:       EventBruteForce,
		RiskScore:  riskMax,
		Blocked:    true,
		OccurredAt: now,
	}
	if err := m.store.AppendEvent(ctx, event); err != nil {
		return true, fmt.Errorf("append event: %w", err)
	}
	m.audit(ctx, "system", "lockout.brute_force", map[string]any{
		"ip":       ip,
		"failures": count,
	})
	return true, nil
}

func (m *Manager) audit(ctx context.Context, actor, action string, changes map[string]any) {
	if m.trail == nil {
		return
	}
	m.trail.Log(ctx, actor, action, changes, nil)
}

func capped(v, cap_ int) int {
	if v > cap_ {
		return cap_
	}
	return v
}
