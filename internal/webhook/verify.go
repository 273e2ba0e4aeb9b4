// Package webhook authenticates inbound storefront deliveries and turns them
// into queued jobs.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
)

// Storefront webhook headers.
const (
	HeaderTopic      = "X-WC-Webhook-Topic"
	HeaderResource   = "X-WC-Webhook-Resource"
	HeaderEvent      = "X-WC-Webhook-Event"
	HeaderSignature  = "X-WC-Webhook-Signature"
	HeaderDeliveryID = "X-WC-Webhook-Delivery-ID"
	HeaderWebhookID  = "X-WC-Webhook-ID"
)

// noSecretExpected is reported as the expected signature when no secret is set.
const noSecretExpected = "<no-secret-configured>"

// Verification is the outcome of a signature check.
type Verification struct {
	OK       bool
	Received string
	Expected string
}

// Sign returns base64(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks received against the HMAC of body. Without a secret it
// always fails.
func Verify(secret string, body []byte, received string) Verification {
	received = strings.TrimSpace(received)
	if secret == "" {
		return Verification{OK: false, Received: received, Expected: noSecretExpected}
	}
	expected := Sign(secret, body)
	ok := received != "" && hmac.Equal([]byte(received), []byte(expected))
	return Verification{OK: ok, Received: received, Expected: expected}
}

// IsPing recognizes the sender's unsigned health ping: a form-encoded,
// non-JSON body carrying webhook_id.
func IsPing(contentType string, body []byte) bool {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/x-www-form-urlencoded") {
		return false
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed[0] == '{' || trimmed[0] == '[' {
		return false
	}
	vals, err := url.ParseQuery(trimmed)
	if err != nil {
		return false
	}
	return vals.Get("webhook_id") != ""
}
