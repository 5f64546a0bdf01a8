package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const (
	maxWebhookBodySize    = 512 * 1024
	stripeSignatureHeader = "Stripe-Signature"

	webhookEventSessionCompleted = "checkout.session.completed"
	webhookEventSessionExpired   = "checkout.session.expired"
)

// WebhookHandlers receives payment provider notifications and reconciles them
// against the order ledger.
type WebhookHandlers struct {
	orders        services.OrderService
	webhookSecret string
	tolerance     time.Duration
	clock         func() time.Time
	logger        func(event string, fields map[string]any)
}

// WebhookOption customises webhook handler construction.
type WebhookOption func(*WebhookHandlers)

// WithWebhookTolerance overrides the signature timestamp tolerance.
func WithWebhookTolerance(d time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		if d > 0 {
			h.tolerance = d
		}
	}
}

// WithWebhookClock overrides the time source used for signature validation.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(h *WebhookHandlers) {
		if clock != nil {
			h.clock = func() time.Time { return clock().UTC() }
		}
	}
}

// WithWebhookLogger sets the structured event logger.
func WithWebhookLogger(logger func(event string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebhookHandlers constructs webhook handlers. The secret may be empty; the
// endpoint then refuses every delivery rather than skipping verification.
func NewWebhookHandlers(orders services.OrderService, webhookSecret string, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		orders:        orders,
		webhookSecret: webhookSecret,
		tolerance:     payments.DefaultWebhookTolerance,
		clock:         func() time.Time { return time.Now().UTC() },
		logger:        func(string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAckResponse struct {
	Received bool `json:"received"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.webhookSecret == "" {
		// Refuse rather than accept unverified deliveries.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "webhook secret is not configured", http.StatusInternalServerError))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if int64(len(body)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	header := r.Header.Get(stripeSignatureHeader)
	if err := payments.VerifyWebhookSignature(h.webhookSecret, header, body, h.tolerance, h.clock()); err != nil {
		h.logger("webhooks.stripe.rejected", map[string]any{"reason": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	event, err := payments.ParseWebhookEvent(body)
	if err != nil {
		// The signature checked out, so a 4xx would only make the provider
		// retry a permanently malformed payload. Log and acknowledge.
		h.logger("webhooks.stripe.unparseable", map[string]any{"reason": err.Error()})
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		return
	}

	switch event.Type {
	case webhookEventSessionCompleted:
		h.reconcileSession(r, event, domain.PaymentStatusPaid)
	case webhookEventSessionExpired:
		h.reconcileSession(r, event, domain.PaymentStatusFailed)
	default:
		h.logger("webhooks.stripe.ignored", map[string]any{"eventType": event.Type, "eventId": event.ID})
	}

	// Deliveries are always acknowledged once the signature checks out, so
	// the provider does not retry events we cannot act on.
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

func (h *WebhookHandlers) reconcileSession(r *http.Request, event payments.WebhookEvent, status domain.PaymentStatus) {
	ctx := r.Context()
	object := event.Data.Object

	paymentID := object.PaymentIntent
	if paymentID == "" {
		paymentID = object.ID
	}

	order, err := h.orders.ReconcilePayment(ctx, services.ReconcilePaymentCommand{
		OrderID:   object.OrderID(),
		SessionID: object.ID,
		Status:    status,
		Provider:  "stripe",
		PaymentID: paymentID,
		EventID:   event.ID,
	})
	if err != nil {
		// An event referencing an unknown order is logged and dropped; the
		// delivery is still acknowledged.
		h.logger("webhooks.stripe.unresolved", map[string]any{
			"eventType": event.Type,
			"eventId":   event.ID,
			"sessionId": object.ID,
			"error":     err.Error(),
			"notFound":  errors.Is(err, services.ErrOrderNotFound),
		})
		return
	}

	h.logger("webhooks.stripe.reconciled", map[string]any{
		"eventType":     event.Type,
		"eventId":       event.ID,
		"orderId":       order.ID,
		"orderNumber":   order.OrderNumber,
		"paymentStatus": string(status),
	})
}
