package mfa

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpOpts pins the time-step protocol: 30-second steps, 6 decimal digits,
// HMAC-SHA1, and a skew of one step either side so verification tolerates
// 90 seconds of clock drift.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a fresh 160-bit secret, base32-encoded without
// padding as authenticator apps expect.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return base32NoPad.EncodeToString(raw), nil
}

// CurrentCode computes the code for the time step containing at. Intended
// for provisioning checks and tests, not for verification.
func CurrentCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, totpOpts)
	if err != nil {
		return "", ErrCodeInvalid
	}
	return code, nil
}

// VerifyTOTPCode checks the code against the current step and one step
// either side. Any error collapses into a failed verification.
func VerifyTOTPCode(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totpOpts)
	return err == nil && ok
}

// ProvisioningURI renders the otpauth URL encoded into enrollment QR codes.
func ProvisioningURI(secret, issuer, account string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", "30")
	v.Set("digits", "6")
	v.Set("algorithm", "SHA1")
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: v.Encode(),
	}
	return u.String()
}
