package session

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("session: not found")
	ErrConflict     = errors.New("session: state conflict")
	ErrInvalidInput = errors.New("session: invalid input")
	ErrTokenInvalid = errors.New("session: invalid token")
)

// Session is one authenticated presence of a user. LoggedOutAt is nil while
// the session is open.
type Session struct {
	ID             string
	UserID         string
	DeviceInfo     string
	IP             string
	LoggedInAt     time.Time
	LastActivityAt time.Time
	LoggedOutAt    *time.Time
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool {
	return s.LoggedOutAt == nil
}

// RequestContext carries the transport metadata captured at login.
type RequestContext struct {
	DeviceInfo string
	IP         string
}
