package lockout

import "time"

// EventType tags a security event.
type EventType string

const (
	EventLoginFailed EventType = "login_failed"
	EventBruteForce  EventType = "brute_force"
)

// SecurityEvent is an immutable, append-only record of a suspicious
// authentication event. Risk is a bounded score in [0,100].
type SecurityEvent struct {
	ID         string
	Identifier string
	IP         string
	Type       EventType
	RiskScore  int
	Blocked    bool
	OccurredAt time.Time
}

// LockState records an active (or stale, pending lazy clear) account lock.
type LockState struct {
	UserID      string
	Reason      string
	LockedBy    string
	LockedAt    time.Time
	LockedUntil time.Time
}
