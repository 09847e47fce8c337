package notify

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"arxcore.io/internal/obs"
)

// ErrThrottled indicates the send was dropped by the outbound rate limiter.
var ErrThrottled = errors.New("notify: send throttled")

// Channel identifies the delivery transport for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Notifier delivers out-of-band messages (OTP codes, lock notices). Callers
// treat every send as best-effort: a returned error is logged, never
// propagated into the security decision that triggered it.
type Notifier interface {
	Send(ctx context.Context, userID string, channel Channel, subject, body string) error
}

// LogNotifier is the default Notifier. It writes the notification envelope
// (never the body, which may carry an OTP code) to the structured log,
// throttled to protect the log stream from notification storms.
type LogNotifier struct {
	limiter *rate.Limiter
}

// NewLogNotifier allows perSecond sends with the given burst.
func NewLogNotifier(perSecond float64, burst int) *LogNotifier {
	return &LogNotifier{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (n *LogNotifier) Send(_ context.Context, userID string, channel Channel, subject, _ string) error {
	if !n.limiter.Allow() {
		obs.NotifyDropped.Inc()
		return ErrThrottled
	}
	obs.Info("notification dispatched", map[string]any{
		"user_id": userID,
		"channel": string(channel),
		"subject": subject,
	})
	return nil
}
