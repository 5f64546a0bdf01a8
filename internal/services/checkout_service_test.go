package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
)

type stubSessionCreator struct {
	session  payments.CheckoutSession
	err      error
	requests []payments.CheckoutSessionRequest
}

func (s *stubSessionCreator) CreateCheckoutSession(_ context.Context, _ string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	return s.session, nil
}

type stubAddressRepository struct {
	addresses map[string]domain.Address
}

func (s *stubAddressRepository) List(context.Context, string) ([]domain.Address, error) {
	return nil, nil
}

func (s *stubAddressRepository) Get(_ context.Context, userID string, addressID string) (domain.Address, error) {
	addr, ok := s.addresses[userID+"/"+addressID]
	if !ok {
		return domain.Address{}, notFoundError{msg: "address missing"}
	}
	return addr, nil
}

func (s *stubAddressRepository) Upsert(_ context.Context, _ string, _ *string, addr domain.Address) (domain.Address, error) {
	return addr, nil
}

func (s *stubAddressRepository) Delete(context.Context, string, string) error { return nil }

func (s *stubAddressRepository) SetDefault(context.Context, string, string) (domain.Address, error) {
	return domain.Address{}, nil
}

type checkoutFixture struct {
	svc      CheckoutService
	orders   OrderService
	repo     *memoryOrderRepository
	sessions *stubSessionCreator
	now      time.Time
}

func newCheckoutFixture(t *testing.T, sessions *stubSessionCreator, addresses *stubAddressRepository) *checkoutFixture {
	t.Helper()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	repo := newMemoryOrderRepository()
	orders := newTestOrderService(t, repo, nil, nil, now)
	pricing, err := NewPricingEngine(PricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}

	deps := CheckoutServiceDeps{
		Orders:          orders,
		Pricing:         pricing,
		Payments:        sessions,
		BaseURL:         "https://loomline.example",
		ReferenceSecret: []byte("reference-secret"),
		Clock:           func() time.Time { return now },
	}
	if addresses != nil {
		deps.Addresses = addresses
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return &checkoutFixture{svc: svc, orders: orders, repo: repo, sessions: sessions, now: now}
}

func validCheckoutCommand(method domain.PaymentMethod) CheckoutCommand {
	return CheckoutCommand{
		Items: []domain.CartItem{
			{ProductRef: "products/silk-paisley", DesignName: "Paisley Dusk", UnitPrice: 2499, Quantity: 1},
		},
		Destination: CheckoutDestination{
			Name:       "Asha Rao",
			Phone:      "+91 90000 00001",
			Street:     "14 Weavers Lane",
			City:       "Jaipur",
			PostalCode: "302001",
		},
		Email:         "asha@example.com",
		DeliverySpeed: "standard",
		PaymentMethod: method,
	}
}

func TestCheckoutCODCompletesInOneStep(t *testing.T) {
	sessions := &stubSessionCreator{}
	fx := newCheckoutFixture(t, sessions, nil)

	result, err := fx.svc.Checkout(context.Background(), validCheckoutCommand(domain.PaymentMethodCOD))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.OrderID == "" || result.OrderNumber == "" {
		t.Fatalf("missing identifiers: %+v", result)
	}
	if !result.CartCleared {
		t.Fatal("COD checkout must clear the cart")
	}
	if result.RedirectURL != "" || result.SessionID != "" {
		t.Fatalf("COD checkout must not open a session: %+v", result)
	}
	if len(sessions.requests) != 0 {
		t.Fatalf("provider called %d times for COD", len(sessions.requests))
	}
}

func TestCheckoutCardOpensSession(t *testing.T) {
	sessions := &stubSessionCreator{session: payments.CheckoutSession{
		ID:          "cs_test_1",
		Provider:    "stripe",
		RedirectURL: "https://checkout.stripe.test/cs_test_1",
	}}
	fx := newCheckoutFixture(t, sessions, nil)

	result, err := fx.svc.Checkout(context.Background(), validCheckoutCommand(domain.PaymentMethodCard))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.SessionID != "cs_test_1" {
		t.Fatalf("session id = %q", result.SessionID)
	}
	if result.RedirectURL != "https://checkout.stripe.test/cs_test_1" {
		t.Fatalf("redirect = %q", result.RedirectURL)
	}
	if result.CartCleared {
		t.Fatal("card checkout must keep the cart until payment completes")
	}

	if len(sessions.requests) != 1 {
		t.Fatalf("provider called %d times", len(sessions.requests))
	}
	req := sessions.requests[0]
	if req.Amount != 2499 || req.Currency != "INR" {
		t.Fatalf("session request amount = %d %s", req.Amount, req.Currency)
	}
	if !strings.HasPrefix(req.SuccessURL, "https://loomline.example/checkout/success?ref=") {
		t.Fatalf("success url = %q", req.SuccessURL)
	}
	if !strings.Contains(req.CancelURL, "order="+result.OrderID) {
		t.Fatalf("cancel url = %q", req.CancelURL)
	}

	stored, err := fx.repo.FindByID(context.Background(), result.OrderID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Payment.SessionID != "cs_test_1" || stored.Payment.Provider != "stripe" {
		t.Fatalf("session not attached: %+v", stored.Payment)
	}
}

func TestCheckoutCardSessionFailureKeepsOrder(t *testing.T) {
	sessions := &stubSessionCreator{err: errors.New("provider down")}
	fx := newCheckoutFixture(t, sessions, nil)

	result, err := fx.svc.Checkout(context.Background(), validCheckoutCommand(domain.PaymentMethodCard))
	if !errors.Is(err, ErrCheckoutSessionUnavailable) {
		t.Fatalf("error = %v, want ErrCheckoutSessionUnavailable", err)
	}
	if result.OrderID == "" {
		t.Fatal("partial result must still identify the committed order")
	}
	if result.CartCleared {
		t.Fatal("failed session must not clear the cart")
	}

	stored, findErr := fx.repo.FindByID(context.Background(), result.OrderID)
	if findErr != nil {
		t.Fatalf("order must be committed: %v", findErr)
	}
	if stored.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %q, want pending", stored.Payment.Status)
	}
	if stored.Payment.SessionID != "" {
		t.Fatalf("no session must be attached, got %q", stored.Payment.SessionID)
	}
}

func TestCheckoutValidation(t *testing.T) {
	sessions := &stubSessionCreator{}
	fx := newCheckoutFixture(t, sessions, nil)
	ctx := context.Background()

	cases := map[string]func(*CheckoutCommand){
		"missing email":   func(c *CheckoutCommand) { c.Email = "" },
		"malformed email": func(c *CheckoutCommand) { c.Email = "not-an-email" },
		"bad method":      func(c *CheckoutCommand) { c.PaymentMethod = "UPI" },
		"empty cart":      func(c *CheckoutCommand) { c.Items = nil },
		"missing name":    func(c *CheckoutCommand) { c.Destination.Name = "" },
		"missing street":  func(c *CheckoutCommand) { c.Destination.Street = "" },
		"bad speed":       func(c *CheckoutCommand) { c.DeliverySpeed = "teleport" },
	}
	for name, mutate := range cases {
		cmd := validCheckoutCommand(domain.PaymentMethodCOD)
		mutate(&cmd)
		if _, err := fx.svc.Checkout(ctx, cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
			t.Fatalf("%s: error = %v, want ErrCheckoutInvalidInput", name, err)
		}
	}
	if fx.repo.inserts != 0 {
		t.Fatalf("rejected checkouts must not commit orders, inserts = %d", fx.repo.inserts)
	}
}

func TestCheckoutWithSavedAddress(t *testing.T) {
	addresses := &stubAddressRepository{addresses: map[string]domain.Address{
		"uid-42/addr-1": {
			ID:         "addr-1",
			Name:       "Asha Rao",
			Phone:      "+91 90000 00001",
			Street:     "14 Weavers Lane",
			City:       "Jaipur",
			PostalCode: "302001",
			Country:    "India",
		},
	}}
	sessions := &stubSessionCreator{}
	fx := newCheckoutFixture(t, sessions, addresses)

	cmd := validCheckoutCommand(domain.PaymentMethodCOD)
	cmd.Destination = CheckoutDestination{AddressID: "addr-1"}
	cmd.UserID = "uid-42"

	result, err := fx.svc.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	stored, _ := fx.repo.FindByID(context.Background(), result.OrderID)
	if stored.Shipping.Street != "14 Weavers Lane" || stored.Customer.Name != "Asha Rao" {
		t.Fatalf("saved address not applied: %+v", stored)
	}
}

func TestCheckoutSavedAddressErrors(t *testing.T) {
	addresses := &stubAddressRepository{addresses: map[string]domain.Address{}}
	sessions := &stubSessionCreator{}
	fx := newCheckoutFixture(t, sessions, addresses)
	ctx := context.Background()

	cmd := validCheckoutCommand(domain.PaymentMethodCOD)
	cmd.Destination = CheckoutDestination{AddressID: "addr-missing"}
	cmd.UserID = "uid-42"
	if _, err := fx.svc.Checkout(ctx, cmd); !errors.Is(err, ErrCheckoutAddressNotFound) {
		t.Fatalf("missing address error = %v, want ErrCheckoutAddressNotFound", err)
	}

	guest := validCheckoutCommand(domain.PaymentMethodCOD)
	guest.Destination = CheckoutDestination{AddressID: "addr-1"}
	if _, err := fx.svc.Checkout(ctx, guest); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("guest saved-address error = %v, want ErrCheckoutInvalidInput", err)
	}
}

func TestCreateCardSessionRetries(t *testing.T) {
	sessions := &stubSessionCreator{err: errors.New("provider down")}
	fx := newCheckoutFixture(t, sessions, nil)
	ctx := context.Background()

	result, err := fx.svc.Checkout(ctx, validCheckoutCommand(domain.PaymentMethodCard))
	if !errors.Is(err, ErrCheckoutSessionUnavailable) {
		t.Fatalf("seed checkout error = %v", err)
	}

	sessions.err = nil
	sessions.session = payments.CheckoutSession{
		ID:          "cs_retry_1",
		Provider:    "stripe",
		RedirectURL: "https://checkout.stripe.test/cs_retry_1",
	}

	retried, err := fx.svc.CreateCardSession(ctx, CreateCardSessionCommand{OrderID: result.OrderID})
	if err != nil {
		t.Fatalf("CreateCardSession: %v", err)
	}
	if retried.SessionID != "cs_retry_1" || retried.URL == "" {
		t.Fatalf("retry result = %+v", retried)
	}

	stored, _ := fx.repo.FindByID(ctx, result.OrderID)
	if stored.Payment.SessionID != "cs_retry_1" {
		t.Fatalf("retried session not attached: %+v", stored.Payment)
	}
}

func TestCreateCardSessionRejectsNonCardAndSettledOrders(t *testing.T) {
	sessions := &stubSessionCreator{}
	fx := newCheckoutFixture(t, sessions, nil)
	ctx := context.Background()

	cod, err := fx.svc.Checkout(ctx, validCheckoutCommand(domain.PaymentMethodCOD))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := fx.svc.CreateCardSession(ctx, CreateCardSessionCommand{OrderID: cod.OrderID}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("COD session error = %v, want ErrCheckoutInvalidInput", err)
	}

	sessions.session = payments.CheckoutSession{ID: "cs_1", Provider: "stripe", RedirectURL: "https://x"}
	card, err := fx.svc.Checkout(ctx, validCheckoutCommand(domain.PaymentMethodCard))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := fx.orders.ReconcilePayment(ctx, ReconcilePaymentCommand{
		OrderID: card.OrderID,
		Status:  domain.PaymentStatusPaid,
	}); err != nil {
		t.Fatalf("ReconcilePayment: %v", err)
	}
	if _, err := fx.svc.CreateCardSession(ctx, CreateCardSessionCommand{OrderID: card.OrderID}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("paid order session error = %v, want ErrCheckoutInvalidInput", err)
	}
}

func TestCreateCardSessionRejectsZeroTotal(t *testing.T) {
	sessions := &stubSessionCreator{session: payments.CheckoutSession{ID: "cs_1", Provider: "stripe"}}
	fx := newCheckoutFixture(t, sessions, nil)
	ctx := context.Background()

	if err := fx.repo.Insert(ctx, domain.Order{
		ID:          "ord_zero",
		OrderNumber: "LL-2025-000099",
		Customer:    domain.Customer{Name: "Asha Rao", Email: "asha@example.com"},
		Pricing:     domain.Pricing{Total: 0, Currency: "INR"},
		Payment:     domain.PaymentInfo{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPending},
		Status:      domain.OrderStatusReceived,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := fx.svc.CreateCardSession(ctx, CreateCardSessionCommand{OrderID: "ord_zero"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("zero-total session error = %v, want ErrCheckoutInvalidInput", err)
	}
	if len(sessions.requests) != 0 {
		t.Fatalf("provider must not be called for a zero-total order, calls = %d", len(sessions.requests))
	}
}

func TestOrderReferenceRoundTrip(t *testing.T) {
	sessions := &stubSessionCreator{session: payments.CheckoutSession{
		ID:          "cs_ref_1",
		Provider:    "stripe",
		RedirectURL: "https://checkout.stripe.test/cs_ref_1",
	}}
	fx := newCheckoutFixture(t, sessions, nil)
	ctx := context.Background()

	result, err := fx.svc.Checkout(ctx, validCheckoutCommand(domain.PaymentMethodCard))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	successURL := sessions.requests[0].SuccessURL
	ref := successURL[strings.Index(successURL, "ref=")+len("ref="):]

	order, err := fx.svc.ConfirmOrderReference(ctx, ref)
	if err != nil {
		t.Fatalf("ConfirmOrderReference: %v", err)
	}
	if order.ID != result.OrderID {
		t.Fatalf("resolved order = %q, want %q", order.ID, result.OrderID)
	}
}

func TestOrderReferenceTamperAndExpiry(t *testing.T) {
	sessions := &stubSessionCreator{session: payments.CheckoutSession{
		ID: "cs_ref_2", Provider: "stripe", RedirectURL: "https://x",
	}}
	fx := newCheckoutFixture(t, sessions, nil)
	ctx := context.Background()

	if _, err := fx.svc.Checkout(ctx, validCheckoutCommand(domain.PaymentMethodCard)); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	successURL := sessions.requests[0].SuccessURL
	ref := successURL[strings.Index(successURL, "ref=")+len("ref="):]

	if _, err := fx.svc.ConfirmOrderReference(ctx, "garbage"); !errors.Is(err, ErrCheckoutReferenceInvalid) {
		t.Fatalf("malformed token error = %v", err)
	}

	tampered := ref[:len(ref)-2] + "00"
	if tampered == ref {
		tampered = ref[:len(ref)-2] + "11"
	}
	if _, err := fx.svc.ConfirmOrderReference(ctx, tampered); !errors.Is(err, ErrCheckoutReferenceInvalid) {
		t.Fatalf("tampered token error = %v", err)
	}

	encoded, signature, _ := strings.Cut(ref, ".")
	if _, err := fx.svc.ConfirmOrderReference(ctx, encoded+"X."+signature); !errors.Is(err, ErrCheckoutReferenceInvalid) {
		t.Fatalf("payload edit error = %v", err)
	}
}

func TestOrderReferenceExpires(t *testing.T) {
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	clockNow := now
	repo := newMemoryOrderRepository()
	orders := newTestOrderService(t, repo, nil, nil, now)
	pricing, err := NewPricingEngine(PricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	sessions := &stubSessionCreator{session: payments.CheckoutSession{
		ID: "cs_exp_1", Provider: "stripe", RedirectURL: "https://x",
	}}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:          orders,
		Pricing:         pricing,
		Payments:        sessions,
		BaseURL:         "https://loomline.example",
		ReferenceSecret: []byte("reference-secret"),
		Clock:           func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, validCheckoutCommand(domain.PaymentMethodCard)); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	successURL := sessions.requests[0].SuccessURL
	ref := successURL[strings.Index(successURL, "ref=")+len("ref="):]

	clockNow = now.Add(25 * time.Hour)
	if _, err := svc.ConfirmOrderReference(ctx, ref); !errors.Is(err, ErrCheckoutReferenceInvalid) {
		t.Fatalf("expired token error = %v", err)
	}
}
