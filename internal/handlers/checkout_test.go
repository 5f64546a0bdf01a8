package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/services"
)

type stubCheckoutService struct {
	checkoutFn func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
	sessionFn  func(ctx context.Context, cmd services.CreateCardSessionCommand) (services.CardSessionResult, error)
	confirmFn  func(ctx context.Context, token string) (services.Order, error)
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) CreateCardSession(ctx context.Context, cmd services.CreateCardSessionCommand) (services.CardSessionResult, error) {
	if s.sessionFn != nil {
		return s.sessionFn(ctx, cmd)
	}
	return services.CardSessionResult{}, nil
}

func (s *stubCheckoutService) ConfirmOrderReference(ctx context.Context, token string) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, token)
	}
	return services.Order{}, nil
}

func newCheckoutRouter(checkout services.CheckoutService) http.Handler {
	router := chi.NewRouter()
	router.Route("/checkout", NewCheckoutHandlers(checkout).Routes)
	return router
}

const checkoutBody = `{
	"items": [{"productRef": "products/silk-paisley", "designName": "Paisley Dusk", "unitPrice": 2499, "quantity": 1}],
	"destination": {"name": "Asha Rao", "phone": "+91 90000 00001", "street": "14 Weavers Lane", "city": "Jaipur", "postalCode": "302001"},
	"email": "asha@example.com",
	"deliverySpeed": "standard",
	"paymentMethod": "card"
}`

func TestCheckoutHandlerCardSuccess(t *testing.T) {
	var captured services.CheckoutCommand
	checkout := &stubCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{
				OrderID:     "ord_1",
				OrderNumber: "LL-2025-000001",
				RedirectURL: "https://checkout.stripe.test/cs_1",
				SessionID:   "cs_1",
			}, nil
		},
	}
	router := newCheckoutRouter(checkout)

	req := httptest.NewRequest(http.MethodPost, "/checkout/", strings.NewReader(checkoutBody))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "uid-42", Email: "asha@example.com"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["orderId"] != "ord_1" || resp["sessionId"] != "cs_1" || resp["cartCleared"] != false {
		t.Fatalf("response = %v", resp)
	}
	if resp["redirectUrl"] != "https://checkout.stripe.test/cs_1" {
		t.Fatalf("redirect = %v", resp["redirectUrl"])
	}

	if captured.PaymentMethod != domain.PaymentMethodCard {
		t.Fatalf("payment method = %q", captured.PaymentMethod)
	}
	if captured.UserID != "uid-42" {
		t.Fatalf("identity not forwarded: %+v", captured)
	}
	if captured.Destination.City != "Jaipur" || captured.DeliverySpeed != "standard" {
		t.Fatalf("command = %+v", captured)
	}
}

func TestCheckoutHandlerPartialSessionFailure(t *testing.T) {
	checkout := &stubCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{OrderID: "ord_1", OrderNumber: "LL-2025-000001"},
				fmt.Errorf("%w: provider down", services.ErrCheckoutSessionUnavailable)
		},
	}
	router := newCheckoutRouter(checkout)

	req := httptest.NewRequest(http.MethodPost, "/checkout/", strings.NewReader(checkoutBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// The order committed; the client retries the session separately.
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["orderId"] != "ord_1" || resp["orderNumber"] != "LL-2025-000001" {
		t.Fatalf("response = %v", resp)
	}
	if _, ok := resp["redirectUrl"]; ok {
		t.Fatal("partial response must not carry a redirect")
	}
}

func TestCheckoutHandlerSessionFailureWithoutOrder(t *testing.T) {
	checkout := &stubCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, services.ErrCheckoutSessionUnavailable
		},
	}
	router := newCheckoutRouter(checkout)

	req := httptest.NewRequest(http.MethodPost, "/checkout/", strings.NewReader(checkoutBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCheckoutHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", services.ErrCheckoutInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"address not found", services.ErrCheckoutAddressNotFound, http.StatusNotFound, "address_not_found"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "checkout_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			router := newCheckoutRouter(checkout)

			req := httptest.NewRequest(http.MethodPost, "/checkout/", strings.NewReader(checkoutBody))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			var resp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp["error"] != tc.wantCode {
				t.Fatalf("error code = %v, want %s", resp["error"], tc.wantCode)
			}
		})
	}
}

func TestCreateSessionHandler(t *testing.T) {
	var captured services.CreateCardSessionCommand
	checkout := &stubCheckoutService{
		sessionFn: func(_ context.Context, cmd services.CreateCardSessionCommand) (services.CardSessionResult, error) {
			captured = cmd
			return services.CardSessionResult{
				OrderID:   cmd.OrderID,
				SessionID: "cs_retry",
				URL:       "https://checkout.stripe.test/cs_retry",
			}, nil
		},
	}
	router := newCheckoutRouter(checkout)

	req := httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(`{"orderId": "ord_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["sessionId"] != "cs_retry" || resp["url"] != "https://checkout.stripe.test/cs_retry" {
		t.Fatalf("response = %v", resp)
	}
	if captured.OrderID != "ord_1" {
		t.Fatalf("order id = %q", captured.OrderID)
	}
}

func TestCreateSessionHandlerRequiresOrderID(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestConfirmReferenceHandler(t *testing.T) {
	order := sampleOrder()
	checkout := &stubCheckoutService{
		confirmFn: func(_ context.Context, token string) (services.Order, error) {
			if token != "valid-token" {
				return services.Order{}, services.ErrCheckoutReferenceInvalid
			}
			return order, nil
		},
	}
	router := newCheckoutRouter(checkout)

	req := httptest.NewRequest(http.MethodGet, "/checkout/confirm?ref=valid-token", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["orderId"] != order.ID {
		t.Fatalf("response = %v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/checkout/confirm?ref=tampered", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("invalid reference status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/checkout/confirm", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing ref status = %d", rr.Code)
	}
}

func TestConfirmReferenceSignalsCartClear(t *testing.T) {
	cases := []struct {
		name          string
		paymentStatus domain.PaymentStatus
		wantCleared   bool
	}{
		{"paid order clears the cart", domain.PaymentStatusPaid, true},
		{"pending payment keeps the cart", domain.PaymentStatusPending, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := sampleOrder()
			order.Payment.Status = tc.paymentStatus
			router := newCheckoutRouter(&stubCheckoutService{
				confirmFn: func(context.Context, string) (services.Order, error) {
					return order, nil
				},
			})

			req := httptest.NewRequest(http.MethodGet, "/checkout/confirm?ref=valid-token", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
			}
			var resp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp["cartCleared"] != tc.wantCleared {
				t.Fatalf("cartCleared = %v, want %v", resp["cartCleared"], tc.wantCleared)
			}
		})
	}
}
