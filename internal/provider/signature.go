package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance is how old a signed webhook may be.
const SignatureTolerance = 5 * time.Minute

// WebhookVerifier checks HMAC-SHA256 signatures of the form "t=<unix>,v1=<hex>".
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier. An empty secret disables verification.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Enabled reports whether a secret is configured.
func (v *WebhookVerifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify checks sigHeader against payload at time now.
func (v *WebhookVerifier) Verify(payload []byte, sigHeader string, now time.Time) error {
	if !v.Enabled() {
		return nil
	}

	parts := strings.Split(sigHeader, ",")
	var timestamp string
	var signatures []string
	for _, part := range parts {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("invalid signature header format")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return fmt.Errorf("webhook timestamp outside tolerance")
	}

	expected := v.sign(timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("invalid webhook signature")
}

// Header produces a signature header for payload at time at.
func (v *WebhookVerifier) Header(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, v.sign(ts, payload))
}

func (v *WebhookVerifier) sign(timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}
