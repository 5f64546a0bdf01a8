package services

import (
	"context"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	PaymentInfo        = domain.PaymentInfo
	Customer           = domain.Customer
	ShippingAddress    = domain.ShippingAddress
	Pricing            = domain.Pricing
	CartItem           = domain.CartItem
	Product            = domain.Product
	Category           = domain.Category
	User               = domain.User
	Address            = domain.Address
	HeroSlide          = domain.HeroSlide
	WishlistLead       = domain.WishlistLead
	SearchRecord       = domain.SearchRecord
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns the order ledger: creation, reads, the fulfillment state
// machine and payment reconciliation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListOrdersByEmail(ctx context.Context, email string, pager Pagination) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	AttachTracking(ctx context.Context, cmd AttachTrackingCommand) (Order, error)
	AttachPaymentSession(ctx context.Context, orderID string, provider string, sessionID string) (Order, error)
	ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (Order, error)
	RefundPayment(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	OrderStats(ctx context.Context) (OrderStats, error)
}

// CheckoutService coordinates cart validation, pricing, order creation and
// payment session hand-off.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	CreateCardSession(ctx context.Context, cmd CreateCardSessionCommand) (CardSessionResult, error)
	ConfirmOrderReference(ctx context.Context, token string) (Order, error)
}

// CatalogService exposes read paths for products and categories plus admin upserts.
type CatalogService interface {
	ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListCategories(ctx context.Context) ([]Category, error)
	SaveProduct(ctx context.Context, cmd SaveProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	SaveCategory(ctx context.Context, cmd SaveCategoryCommand) (Category, error)
}

// UserService manages account profiles and the saved address book.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (User, error)
	SaveProfile(ctx context.Context, cmd SaveProfileCommand) (User, error)
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	SaveAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, userID string, addressID string) error
	SetDefaultAddress(ctx context.Context, userID string, addressID string) (Address, error)
}

// ContentService serves storefront hero slides and admin content management.
type ContentService interface {
	ListHeroSlides(ctx context.Context, activeOnly bool) ([]HeroSlide, error)
	SaveHeroSlide(ctx context.Context, cmd SaveHeroSlideCommand) (HeroSlide, error)
	DeleteHeroSlide(ctx context.Context, slideID string) error
	CreateSlideUploadURL(ctx context.Context, cmd SlideUploadCommand) (SlideUploadResult, error)
}

// LeadService captures and manages wishlist outreach leads.
type LeadService interface {
	CaptureLead(ctx context.Context, cmd CaptureLeadCommand) (WishlistLead, error)
	ListLeads(ctx context.Context, query LeadListQuery) (domain.CursorPage[WishlistLead], error)
	DeleteLead(ctx context.Context, leadID string) error
}

// SearchLogService records storefront search terms for the admin analytics
// view. Capture is fire-and-forget from the client's perspective.
type SearchLogService interface {
	RecordSearch(ctx context.Context, cmd RecordSearchCommand) (SearchRecord, error)
	ListSearches(ctx context.Context, query SearchListQuery) (domain.CursorPage[SearchRecord], error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogQuery) (domain.CursorPage[AuditLogEntry], error)
}

// SystemService surfaces operational health for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand carries the checkout payload for ledger insertion.
type CreateOrderCommand struct {
	Customer      Customer
	Shipping      ShippingAddress
	Items         []CartItem
	Pricing       Pricing
	PaymentMethod PaymentMethod
	UserID        string
	UserEmail     string
}

// CreateOrderResult returns the generated identifiers only; callers re-fetch
// the full record when they need it.
type CreateOrderResult struct {
	OrderID     string
	OrderNumber string
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status        []OrderStatus
	PaymentStatus []PaymentStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    Pagination
}

// UpdateOrderStatusCommand mutates the fulfillment status of one order.
// Force bypasses the forward-only transition table for admin corrections.
type UpdateOrderStatusCommand struct {
	OrderID   string
	NewStatus OrderStatus
	Force     bool
	ActorID   string
}

// AttachTrackingCommand records a carrier tracking reference on an order.
type AttachTrackingCommand struct {
	OrderID    string
	TrackingID string
	ActorID    string
}

// ReconcilePaymentCommand applies a verified provider notification to an order.
type ReconcilePaymentCommand struct {
	OrderID   string
	SessionID string
	Status    PaymentStatus
	Provider  string
	PaymentID string
	EventID   string
}

// RefundOrderCommand requests a provider refund against a captured card
// payment. Amount is in whole currency units; zero refunds the full total.
type RefundOrderCommand struct {
	OrderID string
	Amount  int64
	Reason  string
	ActorID string
}

// OrderStats aggregates counts for the admin dashboard.
type OrderStats struct {
	Total           int64
	ByStatus        map[OrderStatus]int64
	ByPaymentStatus map[PaymentStatus]int64
}

// CheckoutDestination selects a saved address or carries an inline form.
type CheckoutDestination struct {
	AddressID  string
	Name       string
	Phone      string
	Street     string
	City       string
	PostalCode string
	Country    string
}

// CheckoutCommand is the single checkout entry point payload.
type CheckoutCommand struct {
	Items         []CartItem
	Destination   CheckoutDestination
	Email         string
	DeliverySpeed string
	PromoCode     string
	PaymentMethod PaymentMethod
	UserID        string
	UserEmail     string
}

// CheckoutResult reports the committed order and, for card payments, the
// provider redirect.
type CheckoutResult struct {
	OrderID     string
	OrderNumber string
	RedirectURL string
	SessionID   string
	CartCleared bool
}

// CreateCardSessionCommand retries session attachment for a committed order.
type CreateCardSessionCommand struct {
	OrderID string
}

// CardSessionResult carries the provider redirect for the client.
type CardSessionResult struct {
	OrderID   string
	SessionID string
	URL       string
}

// ProductListQuery narrows catalog listings.
type ProductListQuery struct {
	CategoryID  string
	InStockOnly bool
	Pagination  Pagination
}

// SaveProductCommand upserts a catalog product.
type SaveProductCommand struct {
	ProductID   string
	Name        string
	DesignCode  string
	Slug        string
	Description string
	Price       int64
	Currency    string
	ImageURL    string
	CategoryID  string
	InStock     bool
}

// SaveCategoryCommand upserts a catalog category.
type SaveCategoryCommand struct {
	CategoryID string
	Name       string
	Slug       string
	ImageURL   string
}

// SaveProfileCommand upserts an account profile.
type SaveProfileCommand struct {
	UserID      string
	Email       string
	DisplayName string
	Phone       string
}

// SaveAddressCommand upserts an address-book entry.
type SaveAddressCommand struct {
	UserID     string
	AddressID  *string
	Label      string
	Name       string
	Phone      string
	Street     string
	City       string
	PostalCode string
	Country    string
	IsDefault  bool
}

// SaveHeroSlideCommand upserts a hero slide.
type SaveHeroSlideCommand struct {
	SlideID   string
	Title     string
	Subtitle  string
	ImagePath string
	LinkURL   string
	Position  int
	Active    bool
}

// SlideUploadCommand requests a signed upload URL for a slide image.
type SlideUploadCommand struct {
	FileName    string
	ContentType string
}

// SlideUploadResult returns the signed URL and the object path to persist.
type SlideUploadResult struct {
	URL        string
	ObjectPath string
	ExpiresAt  time.Time
	Headers    map[string]string
}

// CaptureLeadCommand records buying interest from the storefront.
type CaptureLeadCommand struct {
	Email      string
	Phone      string
	ProductRef string
	Note       string
}

// LeadListQuery narrows lead listings.
type LeadListQuery struct {
	ProductRef string
	Pagination Pagination
}

// RecordSearchCommand captures one storefront search.
type RecordSearchCommand struct {
	Term   string
	UserID string
}

// SearchListQuery narrows search log listings.
type SearchListQuery struct {
	Term       string
	Pagination Pagination
}

// AuditLogRecord captures one admin action for the audit trail.
type AuditLogRecord struct {
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	Severity  string
	RequestID string
}

// AuditLogQuery narrows audit trail reads.
type AuditLogQuery struct {
	Actor      string
	Action     string
	TargetRef  string
	Pagination Pagination
}
