package mfa

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"arxcore.io/internal/audit"
	"arxcore.io/internal/cache"
	"arxcore.io/internal/crypto"
	"arxcore.io/internal/notify"
	"arxcore.io/internal/obs"
)

const (
	defaultMaxAttempts = 3
	defaultMethodLock  = 15 * time.Minute
	defaultCodeTTL     = 5 * time.Minute
	defaultBackupCodes = 10

	// deviceCryptoContext binds device secrets to this package's
	// ciphertext; a blob lifted into another context will not decrypt.
	deviceCryptoContext = "mfa:device"
)

// Engine drives second-factor flows: TOTP and delivered codes, per-method
// attempt limiting, device lifecycle, and backup codes. Ephemeral state
// (codes, counters, method locks) lives in the cache and fails closed.
type Engine struct {
	devices  DeviceStore
	cache    cache.KeyValueCache
	crypt    *crypto.Engine
	notifier notify.Notifier
	trail    *audit.Trail
	now      func() time.Time

	issuer      string
	maxAttempts int64
	methodLock  time.Duration
	codeTTL     time.Duration
	backupCount int
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIssuer sets the issuer label in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(e *Engine) {
		if issuer != "" {
			e.issuer = issuer
		}
	}
}

// WithMaxAttempts sets how many consecutive failures lock a method.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = int64(n)
		}
	}
}

// WithMethodLock sets the duration of a method lock.
func WithMethodLock(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.methodLock = d
		}
	}
}

// WithCodeTTL sets the lifetime of delivered codes.
func WithCodeTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.codeTTL = d
		}
	}
}

// NewEngine constructs an Engine.
func NewEngine(devices DeviceStore, kv cache.KeyValueCache, crypt *crypto.Engine, notifier notify.Notifier, trail *audit.Trail, opts ...Option) (*Engine, error) {
	if devices == nil {
		return nil, errors.New("mfa: device store is required")
	}
	if kv == nil {
		return nil, errors.New("mfa: cache is required")
	}
	if crypt == nil {
		return nil, errors.New("mfa: crypto engine is required")
	}
	if notifier == nil {
		return nil, errors.New("mfa: notifier is required")
	}
	e := &Engine{
		devices:     devices,
		cache:       kv,
		crypt:       crypt,
		notifier:    notifier,
		trail:       trail,
		now:         time.Now,
		issuer:      "arxcore",
		maxAttempts: defaultMaxAttempts,
		methodLock:  defaultMethodLock,
		codeTTL:     defaultCodeTTL,
		backupCount: defaultBackupCodes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SendDeliveredCode generates a 6-digit code, caches it under (user, method)
// with a short TTL, and hands it to the notifier. Delivery failure is logged
// and never surfaced; the code stays valid either way.
func (e *Engine) SendDeliveredCode(ctx context.Context, userID string, method DeviceType, address string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if method != DeviceSMS && method != DeviceEmail {
		return fmt.Errorf("%w: method %q cannot receive delivered codes", ErrInvalidInput, method)
	}
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("%w: delivery address is required", ErrInvalidInput)
	}
	if e.methodLocked(ctx, userID, method) {
		return ErrMethodLocked
	}
	code, err := randomDigits(6)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := e.cache.Set(ctx, codeKey(userID, method), code, e.codeTTL); err != nil {
		return fmt.Errorf("stage code: %w", err)
	}
	channel := notify.ChannelEmail
	if method == DeviceSMS {
		channel = notify.ChannelSMS
	}
	if err := e.notifier.Send(ctx, userID, channel, "Your verification code", code); err != nil {
		obs.Warn("mfa code delivery failed", map[string]any{"user_id": userID, "method": string(method), "error": err.Error()})
	}
	e.audit(ctx, userID, "mfa.code_sent", map[string]any{"method": string(method)})
	return nil
}

// VerifyDeliveredCode checks a delivered code in constant time. The cached
// entry is consumed on success; a miss, whatever its cause, is a failed
// verification. Three consecutive failures lock the method for 15 minutes.
func (e *Engine) VerifyDeliveredCode(ctx context.Context, userID string, method DeviceType, code string) error {
	if method != DeviceSMS && method != DeviceEmail {
		return fmt.Errorf("%w: method %q cannot receive delivered codes", ErrInvalidInput, method)
	}
	if e.methodLocked(ctx, userID, method) {
		return ErrMethodLocked
	}
	stored, err := e.cache.Get(ctx, codeKey(userID, method))
	if err != nil {
		return e.fail(ctx, userID, method)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return e.fail(ctx, userID, method)
	}
	if err := e.cache.Delete(ctx, codeKey(userID, method)); err != nil {
		obs.Warn("mfa code consume failed", map[string]any{"user_id": userID, "error": err.Error()})
	}
	e.clearFailures(ctx, userID, method)
	obs.MFAVerifications.WithLabelValues(string(method), "success").Inc()
	e.audit(ctx, userID, "mfa.verified", map[string]any{"method": string(method)})
	return nil
}

// VerifyDevice checks a code against a specific device. The first successful
// verification marks the device verified and elects it primary when the user
// has none. LastUsedAt is bumped on every success.
func (e *Engine) VerifyDevice(ctx context.Context, userID, deviceID, code string) error {
	d, err := e.devices.DeviceByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return ErrNotFound
	}
	switch d.Type {
	case DeviceTOTP:
		if e.methodLocked(ctx, userID, d.Type) {
			return ErrMethodLocked
		}
		secret, err := e.crypt.Decrypt(ctx, d.EncryptedSecret, deviceCryptoContext)
		if err != nil {
			obs.Warn("mfa device secret unreadable", map[string]any{"device_id": d.ID})
			return e.fail(ctx, userID, d.Type)
		}
		if !VerifyTOTPCode(string(secret), code, e.now()) {
			return e.fail(ctx, userID, d.Type)
		}
		e.clearFailures(ctx, userID, d.Type)
		obs.MFAVerifications.WithLabelValues(string(d.Type), "success").Inc()
		e.audit(ctx, userID, "mfa.verified", map[string]any{"method": string(d.Type), "device_id": d.ID})
	case DeviceSMS, DeviceEmail:
		if err := e.VerifyDeliveredCode(ctx, userID, d.Type, code); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unsupported device type %q", ErrInvalidInput, d.Type)
	}

	now := e.now().UTC()
	d.LastUsedAt = &now
	if !d.Verified {
		d.Verified = true
		hasPrimary, err := e.userHasPrimary(ctx, userID)
		if err != nil {
			return err
		}
		if !hasPrimary {
			d.Primary = true
		}
		e.audit(ctx, userID, "mfa.device_verified", map[string]any{"device_id": d.ID, "primary": d.Primary})
	}
	if err := e.devices.UpdateDevice(ctx, d); err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	return nil
}

// fail records one failed attempt and applies the method lock once the
// counter reaches the threshold. Always returns ErrCodeInvalid so callers
// cannot distinguish failure causes.
func (e *Engine) fail(ctx context.Context, userID string, method DeviceType) error {
	obs.MFAVerifications.WithLabelValues(string(method), "failure").Inc()
	n, err := e.cache.Incr(ctx, attemptKey(userID, method), e.methodLock)
	if err != nil {
		obs.Warn("mfa attempt counter unavailable", map[string]any{"user_id": userID, "error": err.Error()})
		return ErrCodeInvalid
	}
	if n >= e.maxAttempts {
		if err := e.cache.Set(ctx, lockKey(userID, method), "1", e.methodLock); err != nil {
			obs.Warn("mfa method lock write failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
		e.audit(ctx, userID, "mfa.method_locked", map[string]any{"method": string(method), "failures": n})
	}
	return ErrCodeInvalid
}

func (e *Engine) clearFailures(ctx context.Context, userID string, method DeviceType) {
	for _, key := range []string{attemptKey(userID, method), lockKey(userID, method)} {
		if err := e.cache.Delete(ctx, key); err != nil {
			obs.Warn("mfa counter clear failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}
}

// methodLocked fails closed: an unreadable cache counts as locked.
func (e *Engine) methodLocked(ctx context.Context, userID string, method DeviceType) bool {
	_, err := e.cache.Get(ctx, lockKey(userID, method))
	if err == nil {
		return true
	}
	if errors.Is(err, cache.ErrMiss) {
		return false
	}
	obs.Warn("mfa lock state unavailable", map[string]any{"user_id": userID, "error": err.Error()})
	return true
}

func (e *Engine) userHasPrimary(ctx context.Context, userID string) (bool, error) {
	all, err := e.devices.DevicesByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list devices: %w", err)
	}
	for _, d := range all {
		if d.Primary {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) audit(ctx context.Context, actor, action string, changes map[string]any) {
	if e.trail == nil {
		return
	}
	e.trail.Log(ctx, actor, action, changes, nil)
}

func codeKey(userID string, method DeviceType) string {
	return "mfa:code:" + userID + ":" + string(method)
}

func attemptKey(userID string, method DeviceType) string {
	return "mfa:attempts:" + userID + ":" + string(method)
}

func lockKey(userID string, method DeviceType) string {
	return "mfa:lock:" + userID + ":" + string(method)
}

func randomDigits(n int) (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < n; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
