package testwebhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/vitals/internal/adapters/http/api"
	"github.com/okian/vitals/internal/domain/normalize"
)

// signWebhook builds the authentication headers for one provider callback.
// Each scheme matches what the provider really sends: pulseband signs a
// timestamp and the body, somnus signs the body alone, trailwatch and
// healthsync present shared tokens.
func signWebhook(provider string, secrets map[string]string, body []byte, now time.Time) (http.Header, error) {
	secret := secrets[provider]
	if secret == "" {
		return nil, fmt.Errorf("no secret configured for provider %q", provider)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	switch provider {
	case normalize.ProviderPulseband:
		timestamp := now.UTC().Format(time.RFC3339)
		header.Set(api.HeaderPulsebandTimestamp, timestamp)
		header.Set(api.HeaderPulsebandSignature, hmacHex(secret, []byte(timestamp), []byte("\n"), body))
	case normalize.ProviderSomnus:
		header.Set(api.HeaderSomnusSignature, hmacHex(secret, body))
	case normalize.ProviderTrailwatch:
		header.Set(api.HeaderTrailwatchToken, secret)
	case normalize.ProviderHealthsync:
		header.Set("Authorization", "Bearer "+secret)
	default:
		return nil, fmt.Errorf("no signature scheme for provider %q", provider)
	}

	return header, nil
}

// hmacHex computes a lowercase hex HMAC-SHA256 over the given chunks.
func hmacHex(secret string, chunks ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, chunk := range chunks {
		_, _ = mac.Write(chunk)
	}
	return hex.EncodeToString(mac.Sum(nil))
}
