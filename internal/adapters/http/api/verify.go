// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/normalize"
)

// Provider authentication headers.
const (
	HeaderPulsebandSignature = "X-Pulseband-Signature"
	HeaderPulsebandTimestamp = "X-Pulseband-Timestamp"
	HeaderSomnusSignature    = "X-Somnus-Signature"
	HeaderTrailwatchToken    = "X-Trailwatch-Token"
)

// Verifier authenticates webhook callbacks before anything is stored.
// Providers sign differently: pulseband signs a timestamp and the body
// inside a replay window, somnus signs the body alone, trailwatch and
// healthsync present shared tokens. A provider without a configured
// secret fails closed.
type Verifier struct {
	secrets map[string]string
	maxSkew time.Duration
}

// NewVerifier creates a verifier from per-provider shared secrets.
func NewVerifier(secrets map[string]string, maxSkew time.Duration) *Verifier {
	copied := make(map[string]string, len(secrets))
	for provider, secret := range secrets {
		copied[provider] = secret
	}
	return &Verifier{secrets: copied, maxSkew: maxSkew}
}

// Verify checks the callback signature for one provider. A nil return
// means the request is authentic.
func (v *Verifier) Verify(provider string, header http.Header, body []byte, now time.Time) error {
	secret := v.secrets[provider]
	if secret == "" {
		return fmt.Errorf("%w: no secret configured for %s", ErrUnauthorized, provider)
	}

	switch provider {
	case normalize.ProviderPulseband:
		return verifyTimestampedHMAC(
			secret,
			header.Get(HeaderPulsebandTimestamp),
			header.Get(HeaderPulsebandSignature),
			body, now, v.maxSkew,
		)
	case normalize.ProviderSomnus:
		return verifyBodyHMAC(secret, header.Get(HeaderSomnusSignature), body)
	case normalize.ProviderTrailwatch:
		return verifyToken(header.Get(HeaderTrailwatchToken), secret)
	case normalize.ProviderHealthsync:
		return verifyBearer(header.Get("Authorization"), secret)
	default:
		return fmt.Errorf("%w: no signature scheme for %s", ErrUnauthorized, provider)
	}
}

// verifyTimestampedHMAC checks a hex HMAC-SHA256 over timestamp, newline
// and body. The timestamp must fall inside the replay window.
func verifyTimestampedHMAC(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if timestamp == "" || signature == "" {
		return fmt.Errorf("%w: missing signature headers", ErrUnauthorized)
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("%w: invalid signature timestamp", ErrUnauthorized)
	}
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return fmt.Errorf("%w: request outside replay window", ErrUnauthorized)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}
	return nil
}

// verifyBodyHMAC checks a hex HMAC-SHA256 over the body alone.
func verifyBodyHMAC(secret, signature string, body []byte) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature header", ErrUnauthorized)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}
	return nil
}

// verifyToken compares a shared token in constant time.
func verifyToken(got, want string) error {
	if got == "" {
		return fmt.Errorf("%w: missing token header", ErrUnauthorized)
	}
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}
	return nil
}

// verifyBearer compares an Authorization bearer token in constant time.
func verifyBearer(authHeader, want string) error {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("%w: missing or invalid bearer token", ErrUnauthorized)
	}
	got := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}
	return nil
}
