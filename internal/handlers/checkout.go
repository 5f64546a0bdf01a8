package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

// CheckoutHandlers exposes the server-priced checkout entry point, card
// session retries and the post-payment confirmation lookup.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.checkoutCart)
	r.Post("/session", h.createSession)
	r.Get("/confirm", h.confirmReference)
}

type checkoutRequest struct {
	Items       []orderItemRequest `json:"items"`
	Destination struct {
		AddressID  string `json:"addressId"`
		Name       string `json:"name"`
		Phone      string `json:"phone"`
		Street     string `json:"street"`
		City       string `json:"city"`
		PostalCode string `json:"postalCode"`
		Country    string `json:"country"`
	} `json:"destination"`
	Email         string `json:"email"`
	DeliverySpeed string `json:"deliverySpeed"`
	PromoCode     string `json:"promoCode"`
	PaymentMethod string `json:"paymentMethod"`
}

type checkoutResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	CartCleared bool   `json:"cartCleared"`
}

type createSessionRequest struct {
	OrderID string `json:"orderId"`
}

type createSessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// confirmReferenceResponse adds the cart-clearing signal to the order detail:
// the storefront drops its cart only once the provider reports payment.
type confirmReferenceResponse struct {
	orderDetailPayload
	CartCleared bool `json:"cartCleared"`
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutBodySize, &req) {
		return
	}

	cmd := services.CheckoutCommand{
		Items: buildCartItems(req.Items),
		Destination: services.CheckoutDestination{
			AddressID:  req.Destination.AddressID,
			Name:       req.Destination.Name,
			Phone:      req.Destination.Phone,
			Street:     req.Destination.Street,
			City:       req.Destination.City,
			PostalCode: req.Destination.PostalCode,
			Country:    req.Destination.Country,
		},
		Email:         req.Email,
		DeliverySpeed: req.DeliverySpeed,
		PromoCode:     req.PromoCode,
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.UserID = identity.UID
		cmd.UserEmail = identity.Email
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		// The order may have committed before the provider call failed; the
		// client retries the session through /checkout/session.
		if errors.Is(err, services.ErrCheckoutSessionUnavailable) && result.OrderID != "" {
			writeJSONResponse(w, http.StatusAccepted, checkoutResponse{
				OrderID:     result.OrderID,
				OrderNumber: result.OrderNumber,
			})
			return
		}
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		RedirectURL: result.RedirectURL,
		SessionID:   result.SessionID,
		CartCleared: result.CartCleared,
	})
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createSessionRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.CreateCardSession(ctx, services.CreateCardSessionCommand{OrderID: req.OrderID})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, createSessionResponse{
		URL:       result.URL,
		SessionID: result.SessionID,
	})
}

func (h *CheckoutHandlers) confirmReference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ref query parameter is required", http.StatusBadRequest))
		return
	}

	order, err := h.checkout.ConfirmOrderReference(ctx, ref)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, confirmReferenceResponse{
		orderDetailPayload: buildOrderDetail(order),
		CartCleared:        order.Payment.Status == domain.PaymentStatusPaid,
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "saved address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutReferenceInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("reference_invalid", "order reference is invalid or expired", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "payment session could not be created", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
