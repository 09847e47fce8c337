package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the verified claims of a session token. SessionID ties the
// token back to its Session row so revocation can invalidate it.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenMinter signs and verifies the transport-level session record: an
// HS256 token minted at login and checked on every request.
type TokenMinter struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenMinter constructs a minter. The secret is injected, never read
// from ambient process state.
func NewTokenMinter(secret []byte, issuer string, ttl time.Duration) (*TokenMinter, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: token ttl must be positive")
	}
	return &TokenMinter{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Mint issues a signed token bound to the given user and session.
func (m *TokenMinter) Mint(userID, sessionID string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidInput
	}
	now := m.now().UTC()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse verifies the signature and standard claims.
func (m *TokenMinter) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// TTL returns the configured token lifetime; revocation denylist entries
// use it so a revoked token id outlives the token itself.
func (m *TokenMinter) TTL() time.Duration {
	return m.ttl
}
