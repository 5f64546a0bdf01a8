package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/repositories"
)

const orderReferenceTTL = 24 * time.Hour

var (
	// ErrCheckoutInvalidInput signals a malformed checkout payload.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutAddressNotFound is returned when the selected address book
	// entry does not exist for the caller.
	ErrCheckoutAddressNotFound = errors.New("checkout: address not found")
	// ErrCheckoutSessionUnavailable is returned when the order committed but
	// the payment provider could not open a session. The order keeps payment
	// status pending with no session attached; CreateCardSession retries.
	ErrCheckoutSessionUnavailable = errors.New("checkout: payment session unavailable")
	// ErrCheckoutReferenceInvalid is returned for a tampered or expired
	// order reference token.
	ErrCheckoutReferenceInvalid = errors.New("checkout: order reference invalid")
)

// CheckoutSessionCreator is the slice of the payments manager the checkout
// flow needs.
type CheckoutSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the checkout orchestrator.
type CheckoutServiceDeps struct {
	Orders    OrderService
	Addresses repositories.AddressRepository
	Pricing   *PricingEngine
	Payments  CheckoutSessionCreator
	// BaseURL is the public storefront origin used to build the provider
	// success and cancel redirects.
	BaseURL string
	// ReferenceSecret signs the order reference token embedded in the
	// success redirect.
	ReferenceSecret []byte
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
}

type checkoutService struct {
	orders    OrderService
	addresses repositories.AddressRepository
	pricing   *PricingEngine
	payments  CheckoutSessionCreator
	baseURL   string
	refSecret []byte
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs the CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payments manager is required")
	}
	if len(deps.ReferenceSecret) == 0 {
		return nil, errors.New("checkout service: reference secret is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("checkout service: base url is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:    deps.Orders,
		addresses: deps.Addresses,
		pricing:   deps.Pricing,
		payments:  deps.Payments,
		baseURL:   baseURL,
		refSecret: deps.ReferenceSecret,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

var _ CheckoutService = (*checkoutService)(nil)

// Checkout validates the cart and destination, prices it, commits the order
// and, for card payments, opens a provider session. COD orders complete in
// one step. A card order whose session creation fails is still committed;
// the caller retries the session with CreateCardSession.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	email := domain.NormalizeEmail(cmd.Email)
	if email == "" {
		return CheckoutResult{}, fmt.Errorf("%w: email is required", ErrCheckoutInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: email is malformed", ErrCheckoutInvalidInput)
	}
	if !cmd.PaymentMethod.IsValid() {
		return CheckoutResult{}, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if len(cmd.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}

	customer, shipping, err := s.resolveDestination(ctx, cmd)
	if err != nil {
		return CheckoutResult{}, err
	}
	customer.Email = email

	pricing, err := s.pricing.Quote(ctx, cmd.Items, DeliverySpeed(strings.ToLower(strings.TrimSpace(cmd.DeliverySpeed))), cmd.PromoCode)
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return CheckoutResult{}, err
	}

	created, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
		Customer:      customer,
		Shipping:      shipping,
		Items:         cmd.Items,
		Pricing:       pricing,
		PaymentMethod: cmd.PaymentMethod,
		UserID:        cmd.UserID,
		UserEmail:     cmd.UserEmail,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	result := CheckoutResult{
		OrderID:     created.OrderID,
		OrderNumber: created.OrderNumber,
	}

	if cmd.PaymentMethod == domain.PaymentMethodCOD {
		result.CartCleared = true
		s.logger(ctx, "checkout.completed", map[string]any{
			"orderId": created.OrderID,
			"method":  string(cmd.PaymentMethod),
		})
		return result, nil
	}

	session, err := s.openSession(ctx, created.OrderID, created.OrderNumber, email, pricing.Total, pricing.Currency, len(cmd.Items))
	if err != nil {
		s.logger(ctx, "checkout.session_failed", map[string]any{
			"orderId": created.OrderID,
			"error":   err.Error(),
		})
		return result, fmt.Errorf("%w: %v", ErrCheckoutSessionUnavailable, err)
	}

	// The cart survives until the provider confirms payment; a session that
	// expires or is abandoned must leave the customer able to retry.
	result.SessionID = session.ID
	result.RedirectURL = session.RedirectURL
	s.logger(ctx, "checkout.session_opened", map[string]any{
		"orderId":   created.OrderID,
		"method":    string(cmd.PaymentMethod),
		"sessionId": session.ID,
	})
	return result, nil
}

// CreateCardSession opens (or idempotently re-opens) the provider session for
// an already committed card order.
func (s *checkoutService) CreateCardSession(ctx context.Context, cmd CreateCardSessionCommand) (CardSessionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CardSessionResult{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return CardSessionResult{}, err
	}
	if order.Payment.Method != domain.PaymentMethodCard {
		return CardSessionResult{}, fmt.Errorf("%w: order %s is not a card order", ErrCheckoutInvalidInput, orderID)
	}
	switch order.Payment.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusFailed:
	default:
		return CardSessionResult{}, fmt.Errorf("%w: order %s payment is %s", ErrCheckoutInvalidInput, orderID, order.Payment.Status)
	}
	if order.Pricing.Total <= 0 {
		return CardSessionResult{}, fmt.Errorf("%w: order %s has no payable amount", ErrCheckoutInvalidInput, orderID)
	}

	session, err := s.openSession(ctx, order.ID, order.OrderNumber, order.Customer.Email, order.Pricing.Total, order.Pricing.Currency, len(order.Items))
	if err != nil {
		return CardSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutSessionUnavailable, err)
	}

	return CardSessionResult{
		OrderID:   order.ID,
		SessionID: session.ID,
		URL:       session.RedirectURL,
	}, nil
}

// ConfirmOrderReference resolves the signed reference token from the success
// redirect back to its order.
func (s *checkoutService) ConfirmOrderReference(ctx context.Context, token string) (Order, error) {
	orderID, err := s.verifyOrderReference(token)
	if err != nil {
		return Order{}, err
	}
	return s.orders.GetOrder(ctx, orderID)
}

func (s *checkoutService) resolveDestination(ctx context.Context, cmd CheckoutCommand) (domain.Customer, domain.ShippingAddress, error) {
	dest := cmd.Destination
	if addressID := strings.TrimSpace(dest.AddressID); addressID != "" {
		if s.addresses == nil {
			return domain.Customer{}, domain.ShippingAddress{}, errors.New("checkout service: address repository not configured")
		}
		if strings.TrimSpace(cmd.UserID) == "" {
			return domain.Customer{}, domain.ShippingAddress{}, fmt.Errorf("%w: saved addresses require a signed-in user", ErrCheckoutInvalidInput)
		}
		addr, err := s.addresses.Get(ctx, cmd.UserID, addressID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return domain.Customer{}, domain.ShippingAddress{}, fmt.Errorf("%w: %s", ErrCheckoutAddressNotFound, addressID)
			}
			return domain.Customer{}, domain.ShippingAddress{}, err
		}
		return domain.Customer{
				Name:  addr.Name,
				Phone: addr.Phone,
			}, domain.ShippingAddress{
				Street:     addr.Street,
				City:       addr.City,
				PostalCode: addr.PostalCode,
				Country:    addr.Country,
			}, nil
	}

	required := []struct {
		field, value string
	}{
		{"name", dest.Name},
		{"phone", dest.Phone},
		{"street", dest.Street},
		{"city", dest.City},
		{"postalCode", dest.PostalCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.Customer{}, domain.ShippingAddress{}, fmt.Errorf("%w: %s is required", ErrCheckoutInvalidInput, r.field)
		}
	}

	return domain.Customer{
			Name:  strings.TrimSpace(dest.Name),
			Phone: strings.TrimSpace(dest.Phone),
		}, domain.ShippingAddress{
			Street:     strings.TrimSpace(dest.Street),
			City:       strings.TrimSpace(dest.City),
			PostalCode: strings.TrimSpace(dest.PostalCode),
			Country:    strings.TrimSpace(dest.Country),
		}, nil
}

func (s *checkoutService) openSession(ctx context.Context, orderID, orderNumber, email string, total int64, currency string, itemCount int) (payments.CheckoutSession, error) {
	ref := s.signOrderReference(orderID, s.clock().Add(orderReferenceTTL))
	session, err := s.payments.CreateCheckoutSession(ctx, "", payments.CheckoutSessionRequest{
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Amount:      total,
		Currency:    currency,
		ItemCount:   itemCount,
		Email:       email,
		SuccessURL:  s.baseURL + "/checkout/success?ref=" + url.QueryEscape(ref),
		CancelURL:   s.baseURL + "/checkout/cancel?order=" + url.QueryEscape(orderID),
	})
	if err != nil {
		return payments.CheckoutSession{}, err
	}

	if _, err := s.orders.AttachPaymentSession(ctx, orderID, session.Provider, session.ID); err != nil {
		return payments.CheckoutSession{}, err
	}
	return session, nil
}

// signOrderReference produces "base64url(orderID|expiryUnix).hex(hmac)" so the
// success page can resolve its order without exposing a guessable identifier
// in a trustable position.
func (s *checkoutService) signOrderReference(orderID string, expiry time.Time) string {
	payload := orderID + "|" + strconv.FormatInt(expiry.Unix(), 10)
	mac := hmac.New(sha256.New, s.refSecret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + hex.EncodeToString(mac.Sum(nil))
}

func (s *checkoutService) verifyOrderReference(token string) (string, error) {
	encoded, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return "", fmt.Errorf("%w: malformed token", ErrCheckoutReferenceInvalid)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: malformed token", ErrCheckoutReferenceInvalid)
	}

	mac := hmac.New(sha256.New, s.refSecret)
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", fmt.Errorf("%w: signature mismatch", ErrCheckoutReferenceInvalid)
	}

	orderID, expiryRaw, ok := strings.Cut(string(raw), "|")
	if !ok || orderID == "" {
		return "", fmt.Errorf("%w: malformed payload", ErrCheckoutReferenceInvalid)
	}
	expiryUnix, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: malformed payload", ErrCheckoutReferenceInvalid)
	}
	if s.clock().After(time.Unix(expiryUnix, 0)) {
		return "", fmt.Errorf("%w: token expired", ErrCheckoutReferenceInvalid)
	}
	return orderID, nil
}
