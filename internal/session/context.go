package session

import "context"

type currentSessionKey struct{}

// ContextWithCurrent marks the caller's own session id in the context.
// RevokeSession uses it to refuse revoking the session that is making the
// call; explicit logout is the only way to close one's current session.
func ContextWithCurrent(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, currentSessionKey{}, sessionID)
}

// CurrentFromContext returns the caller's session id, if attached.
func CurrentFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(currentSessionKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
