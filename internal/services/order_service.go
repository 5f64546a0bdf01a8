package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/repositories"
)

const (
	orderEventCreated           = "order.created"
	orderEventStatusChanged     = "order.status.changed"
	orderEventPaymentReconciled = "order.payment.reconciled"
	orderEventPaymentRefunded   = "order.payment.refunded"
	orderEventTrackingAttached  = "order.tracking.attached"

	orderIDPrefix       = "ord_"
	defaultOrderCountry = "India"
	defaultCurrency     = "INR"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates a disallowed status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates duplicate identifiers or concurrent updates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRefundUnavailable indicates the payment provider rejected or
	// could not process a refund request.
	ErrOrderRefundUnavailable = errors.New("order: refund unavailable")
)

// PaymentGateway is the slice of the payments manager the refund flow needs:
// a status lookup to guard against double refunds and the refund call itself.
type PaymentGateway interface {
	LookupPayment(ctx context.Context, preferred, paymentID string) (payments.PaymentDetails, error)
	Refund(ctx context.Context, preferred string, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Users       repositories.UserRepository
	Counters    repositories.CounterRepository
	Gateway     PaymentGateway
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	users    repositories.UserRepository
	counters repositories.CounterRepository
	gateway  PaymentGateway
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		users:    deps.Users,
		counters: deps.Counters,
		gateway:  deps.Gateway,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateOrder persists exactly one new order record per call. There is no
// creation idempotency key; duplicate submissions become duplicate orders.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	customer := Customer{
		Name:  strings.TrimSpace(cmd.Customer.Name),
		Email: domain.NormalizeEmail(cmd.Customer.Email),
		Phone: strings.TrimSpace(cmd.Customer.Phone),
	}
	shipping := ShippingAddress{
		Street:     strings.TrimSpace(cmd.Shipping.Street),
		City:       strings.TrimSpace(cmd.Shipping.City),
		PostalCode: strings.TrimSpace(cmd.Shipping.PostalCode),
		Country:    strings.TrimSpace(cmd.Shipping.Country),
	}

	switch {
	case customer.Name == "":
		return CreateOrderResult{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	case customer.Email == "":
		return CreateOrderResult{}, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	case customer.Phone == "":
		return CreateOrderResult{}, fmt.Errorf("%w: customer phone is required", ErrOrderInvalidInput)
	case shipping.Street == "":
		return CreateOrderResult{}, fmt.Errorf("%w: shipping street is required", ErrOrderInvalidInput)
	case shipping.City == "":
		return CreateOrderResult{}, fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	case shipping.PostalCode == "":
		return CreateOrderResult{}, fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	}
	if shipping.Country == "" {
		shipping.Country = defaultOrderCountry
	}

	if len(cmd.Items) == 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	items := make([]OrderItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		if item.Quantity < 1 {
			return CreateOrderResult{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return CreateOrderResult{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
		items = append(items, OrderItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			DesignName: strings.TrimSpace(item.DesignName),
			DesignCode: strings.TrimSpace(item.DesignCode),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   strings.TrimSpace(item.ImageURL),
		})
	}

	if !cmd.PaymentMethod.IsValid() {
		return CreateOrderResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	pricing, err := normalizePricing(cmd.Pricing)
	if err != nil {
		return CreateOrderResult{}, err
	}

	paymentStatus := domain.PaymentStatusUnpaid
	if cmd.PaymentMethod == domain.PaymentMethodCard {
		paymentStatus = domain.PaymentStatusPending
	}

	now := s.clock()
	userID := strings.TrimSpace(cmd.UserID)
	userEmail := domain.NormalizeEmail(cmd.UserEmail)

	order := Order{
		ID:       orderIDPrefix + s.newID(),
		Customer: customer,
		Shipping: shipping,
		Items:    items,
		Pricing:  pricing,
		Payment: PaymentInfo{
			Method: cmd.PaymentMethod,
			Status: paymentStatus,
		},
		Status:    domain.OrderStatusReceived,
		UserEmail: userEmail,
		IsGuest:   userID == "",
		CreatedAt: now,
		UpdatedAt: now,
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return CreateOrderResult{}, err
	}
	order.OrderNumber = number

	if err := s.orders.Insert(ctx, order); err != nil {
		return CreateOrderResult{}, s.mapRepositoryError(err)
	}

	if userID != "" && s.users != nil {
		if err := s.users.AppendOrderRef(ctx, userID, order.ID); err != nil {
			// The order itself committed; a missing profile link is repairable.
			s.logger(ctx, "order.user_ref.append.failed", map[string]any{
				"order": order.ID,
				"user":  userID,
				"error": err.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"paymentMethod": string(order.Payment.Method),
			"totalAmount":   order.Pricing.Total,
		},
	})

	return CreateOrderResult{OrderID: order.ID, OrderNumber: order.OrderNumber}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		CreatedAfter:  filter.CreatedAfter,
		CreatedBefore: filter.CreatedBefore,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListOrdersByEmail(ctx context.Context, email string, pager Pagination) (domain.CursorPage[Order], error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: email is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByEmail(ctx, email, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// UpdateStatus applies a fulfillment transition. Forward moves and
// cancellation are allowed; anything else needs Force set.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.NewStatus.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.NewStatus)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if current.Status != cmd.NewStatus && !cmd.Force && !current.Status.CanTransition(cmd.NewStatus) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, cmd.NewStatus)
	}

	now := s.clock()
	updated, err := s.orders.UpdateStatus(ctx, orderID, cmd.NewStatus, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(current.Status),
		CurrentStatus:  string(updated.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})
	return updated, nil
}

func (s *orderService) AttachTracking(ctx context.Context, cmd AttachTrackingCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	trackingID := strings.TrimSpace(cmd.TrackingID)
	if trackingID == "" {
		return Order{}, fmt.Errorf("%w: tracking id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	updated, err := s.orders.UpdateTracking(ctx, orderID, trackingID, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventTrackingAttached,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
		Metadata:      map[string]any{"trackingId": trackingID},
	})
	return updated, nil
}

// AttachPaymentSession records the provider session created for a card order.
func (s *orderService) AttachPaymentSession(ctx context.Context, orderID string, provider string, sessionID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Order{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}

	updated, err := s.orders.AttachSession(ctx, orderID, strings.TrimSpace(provider), sessionID, s.clock())
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

// ReconcilePayment applies a verified provider notification. Re-applying the
// same event rewrites the same field values, so duplicate deliveries are safe.
func (s *orderService) ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (Order, error) {
	if !cmd.Status.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.Status)
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	sessionID := strings.TrimSpace(cmd.SessionID)
	if orderID == "" && sessionID == "" {
		return Order{}, fmt.Errorf("%w: order id or session id is required", ErrOrderInvalidInput)
	}

	var current Order
	var err error
	if orderID != "" {
		current, err = s.orders.FindByID(ctx, orderID)
	} else {
		current, err = s.orders.FindBySessionID(ctx, sessionID)
	}
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	updated, err := s.orders.UpdatePayment(ctx, current.ID, repositories.OrderPaymentUpdate{
		Status:    cmd.Status,
		Provider:  strings.TrimSpace(cmd.Provider),
		PaymentID: strings.TrimSpace(cmd.PaymentID),
		SessionID: sessionID,
	}, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentReconciled,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"paymentStatus": string(cmd.Status),
			"provider":      strings.TrimSpace(cmd.Provider),
			"eventId":       strings.TrimSpace(cmd.EventID),
		},
	})
	return updated, nil
}

// RefundPayment refunds a captured card payment through the provider and
// marks the order refunded. The provider is consulted first so an already
// refunded payment reconciles locally instead of erroring.
func (s *orderService) RefundPayment(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Amount < 0 {
		return Order{}, fmt.Errorf("%w: refund amount must not be negative", ErrOrderInvalidInput)
	}
	if s.gateway == nil {
		return Order{}, fmt.Errorf("%w: payment gateway not configured", ErrOrderRefundUnavailable)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Payment.Method != domain.PaymentMethodCard {
		return Order{}, fmt.Errorf("%w: order %s is not a card order", ErrOrderInvalidInput, orderID)
	}
	if order.Payment.Status != domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: order %s payment is %s", ErrOrderInvalidInput, orderID, order.Payment.Status)
	}
	if order.Payment.PaymentID == "" {
		return Order{}, fmt.Errorf("%w: order %s has no captured payment", ErrOrderInvalidInput, orderID)
	}
	if cmd.Amount > order.Pricing.Total {
		return Order{}, fmt.Errorf("%w: refund amount %d exceeds order total %d", ErrOrderInvalidInput, cmd.Amount, order.Pricing.Total)
	}

	details, err := s.gateway.LookupPayment(ctx, order.Payment.Provider, order.Payment.PaymentID)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderRefundUnavailable, err)
	}
	if details.Status != payments.StatusRefunded {
		if details.Status != payments.StatusSucceeded {
			return Order{}, fmt.Errorf("%w: provider reports payment %s", ErrOrderInvalidInput, details.Status)
		}
		req := payments.RefundRequest{
			PaymentID:      order.Payment.PaymentID,
			Reason:         strings.TrimSpace(cmd.Reason),
			IdempotencyKey: payments.RefundIdempotencyKey(order.ID),
		}
		if cmd.Amount > 0 && cmd.Amount < order.Pricing.Total {
			amount := cmd.Amount
			req.Amount = &amount
		}
		if _, err := s.gateway.Refund(ctx, order.Payment.Provider, req); err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderRefundUnavailable, err)
		}
	}

	now := s.clock()
	updated, err := s.orders.UpdatePayment(ctx, order.ID, repositories.OrderPaymentUpdate{
		Status:    domain.PaymentStatusRefunded,
		Provider:  order.Payment.Provider,
		PaymentID: order.Payment.PaymentID,
	}, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentRefunded,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
		Metadata: map[string]any{
			"amount": cmd.Amount,
			"reason": strings.TrimSpace(cmd.Reason),
		},
	})
	return updated, nil
}

func (s *orderService) OrderStats(ctx context.Context) (OrderStats, error) {
	counts, err := s.orders.CountByStatus(ctx)
	if err != nil {
		return OrderStats{}, s.mapRepositoryError(err)
	}
	return OrderStats{
		Total:           counts.Total,
		ByStatus:        counts.ByStatus,
		ByPaymentStatus: counts.ByPaymentStatus,
	}, nil
}

// normalizePricing applies creation defaults and enforces the total invariant.
func normalizePricing(p Pricing) (Pricing, error) {
	if p.Total <= 0 {
		return Pricing{}, fmt.Errorf("%w: total amount must be positive", ErrOrderInvalidInput)
	}
	if p.Subtotal < 0 || p.Shipping < 0 || p.Tax < 0 || p.Discount < 0 {
		return Pricing{}, fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
	}
	if p.Subtotal == 0 {
		p.Subtotal = p.Total
	}
	if !p.Consistent() {
		return Pricing{}, fmt.Errorf("%w: total %d does not match subtotal %d + shipping %d + tax %d - discount %d",
			ErrOrderInvalidInput, p.Total, p.Subtotal, p.Shipping, p.Tax, p.Discount)
	}
	p.PromoCode = strings.TrimSpace(p.PromoCode)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = defaultCurrency
	}
	return p, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LL-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
