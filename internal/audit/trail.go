package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arxcore.io/internal/ids"
	"arxcore.io/internal/obs"
)

// Trail is the append-only audit service. Every state-changing operation in
// the security core emits exactly one entry per meaningful transition
// through it.
type Trail struct {
	store Store
	now   func() time.Time
}

// Option configures Trail behavior.
type Option func(*Trail)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTrail constructs a Trail over the given store.
func NewTrail(store Store, opts ...Option) *Trail {
	t := &Trail{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Log records an audit entry. Changes and metadata are redacted before
// serialization. A store failure is diverted to the fallback log channel and
// never surfaces to the caller: an audit outage must not block the security
// operation being audited.
func (t *Trail) Log(ctx context.Context, actorID, action string, changes, metadata map[string]any) {
	occurred := t.now().UTC()
	payload := map[string]any{}
	if len(changes) > 0 {
		payload["changes"] = Redact(changes)
	}
	if len(metadata) > 0 {
		payload["metadata"] = Redact(metadata)
	}
	entry := &Entry{
		ID:         ids.NewAt(occurred),
		ActorID:    actorID,
		Action:     action,
		Category:   categoryFor(action),
		Severity:   severityFor(action),
		Payload:    payload,
		OccurredAt: occurred,
	}
	if err := t.store.Append(ctx, entry); err != nil {
		obs.AuditFallbacks.Inc()
		obs.Warn("audit append failed, entry diverted to fallback log", map[string]any{
			"action":   action,
			"actor_id": actorID,
			"error":    err.Error(),
		})
	}
}

// Query returns matching entries, most recent first.
func (t *Trail) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidInput)
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}
	return t.store.Query(ctx, filter)
}

// Cleanup deletes entries older than the retention horizon and returns the
// number removed.
func (t *Trail) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("%w: retentionDays must be positive", ErrInvalidInput)
	}
	cutoff := t.now().UTC().AddDate(0, 0, -retentionDays)
	return t.store.DeleteOlderThan(ctx, cutoff)
}

func categoryFor(action string) string {
	if i := strings.IndexByte(action, '.'); i > 0 {
		return action[:i]
	}
	return "general"
}

func severityFor(action string) Severity {
	switch {
	case strings.HasSuffix(action, ".brute_force"), strings.HasSuffix(action, ".tamper"):
		return SeverityCritical
	case strings.HasSuffix(action, ".locked"), strings.HasSuffix(action, ".failed"),
		strings.HasSuffix(action, ".evicted"), strings.HasSuffix(action, ".revoked"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
