package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/services"
)

const testWebhookSecret = "whsec_test"

var webhookTestNow = time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

func newWebhookRouter(orders services.OrderService, secret string) http.Handler {
	handlers := NewWebhookHandlers(orders, secret,
		WithWebhookClock(func() time.Time { return webhookTestNow }),
	)
	router := chi.NewRouter()
	router.Route("/webhooks", handlers.Routes)
	return router
}

func signedWebhookRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	sig := payments.ComputeWebhookSignature(testWebhookSecret, webhookTestNow, []byte(body))
	req.Header.Set("Stripe-Signature", "t="+strconv.FormatInt(webhookTestNow.Unix(), 10)+",v1="+sig)
	return req
}

func completedSessionEvent(orderID string) string {
	return `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"payment_intent": "pi_test_1",
				"payment_status": "paid",
				"metadata": {"orderId": "` + orderID + `"}
			}
		}
	}`
}

func TestWebhookRefusesWithoutSecret(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "webhook_not_configured" {
		t.Fatalf("error code = %v", resp["error"])
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	reconciled := false
	orders := &stubOrderService{
		reconcileFn: func(context.Context, services.ReconcilePaymentCommand) (services.Order, error) {
			reconciled = true
			return services.Order{}, nil
		},
	}
	router := newWebhookRouter(orders, testWebhookSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(completedSessionEvent("ord_1")))
	req.Header.Set("Stripe-Signature", "t="+strconv.FormatInt(webhookTestNow.Unix(), 10)+",v1=deadbeef")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if reconciled {
		t.Fatal("unverified delivery must not reach reconciliation")
	}
}

func TestWebhookSessionCompletedReconciles(t *testing.T) {
	var captured services.ReconcilePaymentCommand
	orders := &stubOrderService{
		reconcileFn: func(_ context.Context, cmd services.ReconcilePaymentCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newWebhookRouter(orders, testWebhookSecret)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, completedSessionEvent("ord_abc123")))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["received"] != true {
		t.Fatalf("response = %v", resp)
	}

	if captured.OrderID != "ord_abc123" || captured.SessionID != "cs_test_1" {
		t.Fatalf("command = %+v", captured)
	}
	if captured.Status != domain.PaymentStatusPaid {
		t.Fatalf("status = %q, want paid", captured.Status)
	}
	if captured.Provider != "stripe" || captured.PaymentID != "pi_test_1" || captured.EventID != "evt_1" {
		t.Fatalf("command = %+v", captured)
	}
}

func TestWebhookSessionExpiredMarksFailed(t *testing.T) {
	var captured services.ReconcilePaymentCommand
	orders := &stubOrderService{
		reconcileFn: func(_ context.Context, cmd services.ReconcilePaymentCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newWebhookRouter(orders, testWebhookSecret)

	body := `{
		"id": "evt_2",
		"type": "checkout.session.expired",
		"data": {"object": {"id": "cs_test_2", "client_reference_id": "ord_abc123"}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if captured.Status != domain.PaymentStatusFailed {
		t.Fatalf("status = %q, want failed", captured.Status)
	}
	if captured.OrderID != "ord_abc123" {
		t.Fatalf("order id = %q, want client reference fallback", captured.OrderID)
	}
	// Sessions without a payment intent fall back to the session id.
	if captured.PaymentID != "cs_test_2" {
		t.Fatalf("payment id = %q", captured.PaymentID)
	}
}

func TestWebhookIgnoresUnknownEventTypes(t *testing.T) {
	reconciled := false
	orders := &stubOrderService{
		reconcileFn: func(context.Context, services.ReconcilePaymentCommand) (services.Order, error) {
			reconciled = true
			return services.Order{}, nil
		},
	}
	router := newWebhookRouter(orders, testWebhookSecret)

	body := `{"id": "evt_3", "type": "invoice.paid", "data": {"object": {"id": "in_1"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if reconciled {
		t.Fatal("unknown event types must not be reconciled")
	}
}

func TestWebhookAcknowledgesUnresolvableOrders(t *testing.T) {
	orders := &stubOrderService{
		reconcileFn: func(context.Context, services.ReconcilePaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newWebhookRouter(orders, testWebhookSecret)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, completedSessionEvent("ord_unknown")))

	// Acknowledge so the provider stops retrying an event we can never apply.
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["received"] != true {
		t.Fatalf("response = %v", resp)
	}
}

func TestWebhookAcknowledgesMalformedPayload(t *testing.T) {
	reconciled := false
	orders := &stubOrderService{
		reconcileFn: func(context.Context, services.ReconcilePaymentCommand) (services.Order, error) {
			reconciled = true
			return services.Order{}, nil
		},
	}
	router := newWebhookRouter(orders, testWebhookSecret)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, `{"id": "evt_4"}`))

	// A signed but unparseable delivery is permanently bad; a 4xx would only
	// make the provider retry it.
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["received"] != true {
		t.Fatalf("response = %v", resp)
	}
	if reconciled {
		t.Fatal("malformed payload must not reach reconciliation")
	}
}
