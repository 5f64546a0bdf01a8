package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// OrderStatus enumerates the fulfillment stages of an order. Values are the
// exact strings persisted and exposed over the API.
type OrderStatus string

const (
	// OrderStatusReceived is the initial state assigned at creation.
	OrderStatusReceived OrderStatus = "Received"
	// OrderStatusFabricSourcing indicates raw material procurement is underway.
	OrderStatusFabricSourcing OrderStatus = "Fabric Sourcing"
	// OrderStatusPrinting indicates the design is being printed onto fabric.
	OrderStatusPrinting OrderStatus = "Printing"
	// OrderStatusQualityCheck indicates post-production inspection.
	OrderStatusQualityCheck OrderStatus = "Quality Check"
	// OrderStatusShipped indicates the parcel has been handed to the carrier.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusDelivered indicates confirmed delivery. Intended terminal.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled is reachable from any state. Intended terminal.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// OrderStatuses lists every fulfillment status in progression order, with
// Cancelled last. The slice is the authoritative enum for validation.
var OrderStatuses = []OrderStatus{
	OrderStatusReceived,
	OrderStatusFabricSourcing,
	OrderStatusPrinting,
	OrderStatusQualityCheck,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

var orderStatusRank = func() map[OrderStatus]int {
	ranks := make(map[OrderStatus]int, len(OrderStatuses))
	for i, status := range OrderStatuses {
		ranks[status] = i
	}
	return ranks
}()

// IsValid reports whether the status is a member of the fixed enum.
func (s OrderStatus) IsValid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// CanTransition reports whether moving from s to next is an allowed
// progression. Forward moves and cancellation from any non-terminal state are
// allowed; everything else requires an explicit admin override.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	from, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	to, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	if next == OrderStatusCancelled {
		return s != OrderStatusDelivered && s != OrderStatusCancelled
	}
	if s == OrderStatusCancelled {
		return false
	}
	return to > from
}

// PaymentStatus enumerates payment reconciliation states.
type PaymentStatus string

const (
	// PaymentStatusUnpaid is the initial state for cash-on-delivery orders.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPending is the initial state for card orders awaiting capture.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the provider confirmed capture.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the session expired or capture failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a completed refund.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// IsValid reports whether the payment status is a recognised value.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod enumerates supported payment methods.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodCard is a provider-hosted card checkout.
	PaymentMethodCard PaymentMethod = "CARD"
)

// IsValid reports whether the payment method is recognised.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodCard
}

// OrderItem is an immutable snapshot of one cart line at creation time.
type OrderItem struct {
	ProductRef string
	DesignName string
	DesignCode string
	UnitPrice  int64
	Quantity   int
	ImageURL   string
}

// Customer is the contact snapshot copied onto an order at creation.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// ShippingAddress is the destination snapshot copied onto an order.
type ShippingAddress struct {
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Pricing is the monetary breakdown of an order in whole rupees.
// Total must equal Subtotal + Shipping + Tax - Discount.
type Pricing struct {
	Subtotal  int64
	Shipping  int64
	Tax       int64
	Discount  int64
	Total     int64
	PromoCode string
	Currency  string
}

// Consistent reports whether the total matches the component amounts.
func (p Pricing) Consistent() bool {
	return p.Total == p.Subtotal+p.Shipping+p.Tax-p.Discount
}

// PaymentInfo holds the provider reconciliation fields of an order. Mutated
// only by webhook reconciliation and session attachment.
type PaymentInfo struct {
	Method    PaymentMethod
	Status    PaymentStatus
	Provider  string
	PaymentID string
	SessionID string
}

// Order is the central immutable purchase record. Only the fulfillment
// status, tracking ID and payment fields change after creation.
type Order struct {
	ID          string
	OrderNumber string
	Customer    Customer
	Shipping    ShippingAddress
	Items       []OrderItem
	Pricing     Pricing
	Payment     PaymentInfo
	Status      OrderStatus
	TrackingID  string
	UserEmail   string
	IsGuest     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemCount returns the total number of units across all line items.
func (o Order) ItemCount() int {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}

// Product is a catalog entry. Checkout snapshots its fields onto order items.
type Product struct {
	ID          string
	Name        string
	DesignCode  string
	Slug        string
	Description string
	Price       int64
	Currency    string
	ImageURL    string
	CategoryID  string
	InStock     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category groups catalog products.
type Category struct {
	ID        string
	Name      string
	Slug      string
	ImageURL  string
	CreatedAt time.Time
}

// CartItem is one line of the client-held cart as submitted at checkout.
// Carts are never persisted server-side; the order takes a snapshot copy.
type CartItem struct {
	ProductRef string
	DesignName string
	DesignCode string
	UnitPrice  int64
	Quantity   int
	ImageURL   string
}

// User is an account profile keyed by the auth provider identity.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Phone       string
	OrderRefs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Address is a saved address-book entry usable as a checkout destination.
type Address struct {
	ID         string
	UserID     string
	Label      string
	Name       string
	Phone      string
	Street     string
	City       string
	PostalCode string
	Country    string
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HeroSlide is a marketing banner shown on the storefront landing page.
type HeroSlide struct {
	ID        string
	Title     string
	Subtitle  string
	ImagePath string
	LinkURL   string
	Position  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WishlistLead is a captured buying-interest record for outreach.
type WishlistLead struct {
	ID         string
	Email      string
	Phone      string
	ProductRef string
	Note       string
	CreatedAt  time.Time
}

// SearchRecord is one logged storefront search. Term holds the folded form
// used for grouping; RawTerm preserves what the customer typed.
type SearchRecord struct {
	ID        string
	Term      string
	RawTerm   string
	UserID    string
	CreatedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin actions.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	Severity  string
	RequestID string
	CreatedAt time.Time
}

const (
	// HealthStatusOK indicates the dependency responded within budget.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates slow but successful responses.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the dependency probe failed.
	HealthStatusError = "error"
)

// SystemHealthCheck captures the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// NormalizeEmail lowercases and trims an email for storage and matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
