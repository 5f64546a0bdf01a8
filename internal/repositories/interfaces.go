package repositories

import (
	"context"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status        []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// OrderPaymentUpdate carries the reconciliation fields written by the payment bridge.
type OrderPaymentUpdate struct {
	Status    domain.PaymentStatus
	Provider  string
	PaymentID string
	SessionID string
}

// OrderStatusCounts aggregates order tallies for the admin dashboard.
type OrderStatusCounts struct {
	ByStatus        map[domain.OrderStatus]int64
	ByPaymentStatus map[domain.PaymentStatus]int64
	Total           int64
}

// OrderRepository persists immutable order records. Orders are never deleted;
// only status, tracking and payment field groups are mutated after insert.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByEmail(ctx context.Context, email string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) (domain.Order, error)
	UpdateTracking(ctx context.Context, orderID string, trackingID string, updatedAt time.Time) (domain.Order, error)
	UpdatePayment(ctx context.Context, orderID string, update OrderPaymentUpdate, updatedAt time.Time) (domain.Order, error)
	AttachSession(ctx context.Context, orderID string, provider string, sessionID string, updatedAt time.Time) (domain.Order, error)
	CountByStatus(ctx context.Context) (OrderStatusCounts, error)
}

// ProductFilter narrows catalog product listings.
type ProductFilter struct {
	CategoryID  string
	InStockOnly bool
	Pagination  domain.Pagination
}

// ProductRepository stores catalog products.
type ProductRepository interface {
	List(ctx context.Context, filter ProductFilter) (domain.CursorPage[domain.Product], error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	Delete(ctx context.Context, productID string) error
}

// CategoryRepository stores catalog categories.
type CategoryRepository interface {
	List(ctx context.Context) ([]domain.Category, error)
	Upsert(ctx context.Context, category domain.Category) (domain.Category, error)
	Delete(ctx context.Context, categoryID string) error
}

// UserRepository stores account profiles keyed by the auth provider UID.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	AppendOrderRef(ctx context.Context, userID string, orderID string) error
}

// AddressRepository stores shipping addresses per user.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// ContentRepository stores storefront hero slides.
type ContentRepository interface {
	ListSlides(ctx context.Context, activeOnly bool) ([]domain.HeroSlide, error)
	UpsertSlide(ctx context.Context, slide domain.HeroSlide) (domain.HeroSlide, error)
	DeleteSlide(ctx context.Context, slideID string) error
}

// LeadFilter narrows wishlist lead listings.
type LeadFilter struct {
	ProductRef string
	Pagination domain.Pagination
}

// LeadRepository stores captured wishlist leads.
type LeadRepository interface {
	Insert(ctx context.Context, lead domain.WishlistLead) error
	List(ctx context.Context, filter LeadFilter) (domain.CursorPage[domain.WishlistLead], error)
	Delete(ctx context.Context, leadID string) error
}

// SearchLogFilter narrows search log listings.
type SearchLogFilter struct {
	Term       string
	Pagination domain.Pagination
}

// SearchLogRepository stores logged storefront searches.
type SearchLogRepository interface {
	Insert(ctx context.Context, record domain.SearchRecord) error
	List(ctx context.Context, filter SearchLogFilter) (domain.CursorPage[domain.SearchRecord], error)
}

// AuditLogFilter narrows audit trail listings.
type AuditLogFilter struct {
	Actor      string
	Action     string
	TargetRef  string
	Pagination domain.Pagination
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
