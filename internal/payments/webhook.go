package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultWebhookTolerance bounds how old a signed webhook timestamp may be
// before the delivery is rejected as a possible replay.
const DefaultWebhookTolerance = 5 * time.Minute

var (
	// ErrWebhookSignatureInvalid is returned when no signature in the header
	// matches the payload under the shared secret.
	ErrWebhookSignatureInvalid = errors.New("payments: webhook signature invalid")
	// ErrWebhookTimestampExpired is returned when the signed timestamp falls
	// outside the replay tolerance window.
	ErrWebhookTimestampExpired = errors.New("payments: webhook timestamp outside tolerance")
)

// WebhookSignature is the parsed form of a Stripe-Signature header:
// "t=<unix>,v1=<hex>[,v1=<hex>...]". Multiple v1 entries appear while a
// secret is being rotated; any one of them matching is sufficient.
type WebhookSignature struct {
	Timestamp  time.Time
	Signatures []string
}

// ParseSignatureHeader splits a Stripe-Signature header into its timestamp
// and candidate v1 signatures. Schemes other than v1 are ignored.
func ParseSignatureHeader(header string) (WebhookSignature, error) {
	parsed := WebhookSignature{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			unix, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return WebhookSignature{}, fmt.Errorf("payments: invalid signature timestamp %q", value)
			}
			parsed.Timestamp = time.Unix(unix, 0).UTC()
		case "v1":
			if value != "" {
				parsed.Signatures = append(parsed.Signatures, value)
			}
		}
	}
	if parsed.Timestamp.IsZero() || len(parsed.Signatures) == 0 {
		return WebhookSignature{}, errors.New("payments: malformed signature header")
	}
	return parsed, nil
}

// ComputeWebhookSignature returns the hex HMAC-SHA256 of "{timestamp}.{body}"
// under the shared webhook secret.
func ComputeWebhookSignature(secret string, timestamp time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the raw request body against the
// Stripe-Signature header. Comparison is constant time, and the signed
// timestamp must fall within tolerance of now.
func VerifyWebhookSignature(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("payments: webhook secret is required")
	}
	parsed, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	if drift := now.Sub(parsed.Timestamp); drift > tolerance || drift < -tolerance {
		return ErrWebhookTimestampExpired
	}

	expected := ComputeWebhookSignature(secret, parsed.Timestamp, body)
	for _, candidate := range parsed.Signatures {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrWebhookSignatureInvalid
}

// WebhookEvent is the subset of a Stripe event envelope the reconciliation
// path consumes.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object WebhookSessionObject `json:"object"`
	} `json:"data"`
}

// WebhookSessionObject carries the checkout session fields needed to locate
// and settle the order the event refers to.
type WebhookSessionObject struct {
	ID                string            `json:"id"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

// OrderID resolves the order the session belongs to, preferring the explicit
// metadata stamp over the client reference.
func (o WebhookSessionObject) OrderID() string {
	if id := strings.TrimSpace(o.Metadata["orderId"]); id != "" {
		return id
	}
	return strings.TrimSpace(o.ClientReferenceID)
}

// ParseWebhookEvent decodes a verified webhook body into its envelope.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("payments: decode webhook event: %w", err)
	}
	if event.Type == "" {
		return WebhookEvent{}, errors.New("payments: webhook event missing type")
	}
	return event, nil
}
