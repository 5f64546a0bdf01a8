package payments

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestParseSignatureHeader(t *testing.T) {
	header := "t=1730630400,v1=abc123,v0=ignored,v1=def456"
	parsed, err := ParseSignatureHeader(header)
	if err != nil {
		t.Fatalf("ParseSignatureHeader: %v", err)
	}
	if got := parsed.Timestamp.Unix(); got != 1730630400 {
		t.Fatalf("timestamp = %d", got)
	}
	if len(parsed.Signatures) != 2 || parsed.Signatures[0] != "abc123" || parsed.Signatures[1] != "def456" {
		t.Fatalf("signatures = %v", parsed.Signatures)
	}
}

func TestParseSignatureHeaderRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"no timestamp":  "v1=abc123",
		"no signatures": "t=1730630400",
		"bad timestamp": "t=yesterday,v1=abc123",
	}
	for name, header := range cases {
		if _, err := ParseSignatureHeader(header); err == nil {
			t.Fatalf("%s: expected error for %q", name, header)
		}
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	sig := ComputeWebhookSignature(secret, now, body)
	header := "t=" + timestampString(now) + ",v1=" + sig

	if err := VerifyWebhookSignature(secret, header, body, 0, now); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// Any matching v1 entry is sufficient during secret rotation.
	rotated := "t=" + timestampString(now) + ",v1=deadbeef,v1=" + sig
	if err := VerifyWebhookSignature(secret, rotated, body, 0, now); err != nil {
		t.Fatalf("rotated header rejected: %v", err)
	}

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = 'X'
	if err := VerifyWebhookSignature(secret, header, tampered, 0, now); !errors.Is(err, ErrWebhookSignatureInvalid) {
		t.Fatalf("tampered body error = %v", err)
	}

	if err := VerifyWebhookSignature("whsec_other", header, body, 0, now); !errors.Is(err, ErrWebhookSignatureInvalid) {
		t.Fatalf("wrong secret error = %v", err)
	}
}

func TestVerifyWebhookSignatureTolerance(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	signedAt := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	header := "t=" + timestampString(signedAt) + ",v1=" + ComputeWebhookSignature(secret, signedAt, body)

	if err := VerifyWebhookSignature(secret, header, body, 0, signedAt.Add(4*time.Minute)); err != nil {
		t.Fatalf("within tolerance: %v", err)
	}
	if err := VerifyWebhookSignature(secret, header, body, 0, signedAt.Add(6*time.Minute)); !errors.Is(err, ErrWebhookTimestampExpired) {
		t.Fatalf("stale delivery error = %v", err)
	}
	if err := VerifyWebhookSignature(secret, header, body, 0, signedAt.Add(-6*time.Minute)); !errors.Is(err, ErrWebhookTimestampExpired) {
		t.Fatalf("future timestamp error = %v", err)
	}
	if err := VerifyWebhookSignature(secret, header, body, time.Hour, signedAt.Add(30*time.Minute)); err != nil {
		t.Fatalf("widened tolerance: %v", err)
	}
}

func TestVerifyWebhookSignatureRequiresSecret(t *testing.T) {
	if err := VerifyWebhookSignature("  ", "t=1,v1=aa", []byte(`{}`), 0, time.Now()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"payment_intent": "pi_test_1",
				"client_reference_id": "ord_fallback",
				"payment_status": "paid",
				"metadata": {"orderId": "ord_primary"}
			}
		}
	}`)

	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.ID != "evt_1" || event.Type != "checkout.session.completed" {
		t.Fatalf("envelope = %+v", event)
	}
	obj := event.Data.Object
	if obj.ID != "cs_test_1" || obj.PaymentIntent != "pi_test_1" || obj.PaymentStatus != "paid" {
		t.Fatalf("session object = %+v", obj)
	}
	if got := obj.OrderID(); got != "ord_primary" {
		t.Fatalf("OrderID = %q, want metadata stamp", got)
	}

	obj.Metadata = nil
	if got := obj.OrderID(); got != "ord_fallback" {
		t.Fatalf("OrderID fallback = %q, want client reference", got)
	}
}

func TestParseWebhookEventRejectsBadEnvelopes(t *testing.T) {
	if _, err := ParseWebhookEvent([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := ParseWebhookEvent([]byte(`{"id":"evt_1"}`)); err == nil {
		t.Fatal("expected missing type error")
	}
}

func timestampString(ts time.Time) string {
	return strconv.FormatInt(ts.Unix(), 10)
}
