package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/platform/pagination"
	"github.com/loomline/api/internal/repositories"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	DesignName string `firestore:"designName"`
	DesignCode string `firestore:"designCode"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"quantity"`
	ImageURL   string `firestore:"imageUrl,omitempty"`
}

type orderAddressDocument struct {
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderDocument struct {
	OrderNumber     string               `firestore:"orderNumber"`
	CustomerName    string               `firestore:"customerName"`
	CustomerEmail   string               `firestore:"customerEmail"`
	CustomerPhone   string               `firestore:"customerPhone"`
	ShippingAddress orderAddressDocument `firestore:"shippingAddress"`
	Items           []orderItemDocument  `firestore:"items"`
	SubtotalAmount  int64                `firestore:"subtotalAmount"`
	ShippingAmount  int64                `firestore:"shippingAmount"`
	TaxAmount       int64                `firestore:"taxAmount"`
	DiscountAmount  int64                `firestore:"discountAmount"`
	TotalAmount     int64                `firestore:"totalAmount"`
	PromoCode       string               `firestore:"promoCode,omitempty"`
	Currency        string               `firestore:"currency"`
	PaymentMethod   string               `firestore:"paymentMethod"`
	PaymentStatus   string               `firestore:"paymentStatus"`
	PaymentProvider string               `firestore:"paymentProvider,omitempty"`
	PaymentID       string               `firestore:"paymentId,omitempty"`
	SessionID       string               `firestore:"providerSessionId,omitempty"`
	Status          string               `firestore:"status"`
	TrackingID      string               `firestore:"trackingId,omitempty"`
	UserEmail       string               `firestore:"userEmail,omitempty"`
	IsGuest         bool                 `firestore:"isGuest"`
	CreatedAt       time.Time            `firestore:"createdAt"`
	UpdatedAt       time.Time            `firestore:"updatedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert persists a new order document. Fails with a conflict error when the
// document identifier is already in use.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID fetches an order by its document identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// FindBySessionID locates the order holding the given provider session reference.
func (r *OrderRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Order{}, errors.New("order repository: session id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("providerSessionId", "==", sessionID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findBySession", status.Error(codes.NotFound, "no order for session"))
	}
	return decodeOrderDocument(docs[0].ID, docs[0].Data), nil
}

// List returns orders newest first applying the provided filter.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		if status.IsValid() {
			statuses = append(statuses, string(status))
		}
	}
	paymentStatuses := make([]string, 0, len(filter.PaymentStatus))
	for _, status := range filter.PaymentStatus {
		if status.IsValid() {
			paymentStatuses = append(paymentStatuses, string(status))
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}
		if len(paymentStatuses) == 1 {
			q = q.Where("paymentStatus", "==", paymentStatuses[0])
		} else if len(paymentStatuses) > 1 {
			q = q.Where("paymentStatus", "in", paymentStatuses)
		}
		if filter.CreatedAfter != nil && !filter.CreatedAfter.IsZero() {
			q = q.Where("createdAt", ">", filter.CreatedAfter.UTC())
		}
		if filter.CreatedBefore != nil && !filter.CreatedBefore.IsZero() {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	return buildOrderPage(docs, limit, fetchLimit), nil
}

// ListByEmail returns orders owned by the given customer email, newest first.
func (r *OrderRepository) ListByEmail(ctx context.Context, email string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: email is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("customerEmail", "==", email)
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	return buildOrderPage(docs, limit, fetchLimit), nil
}

// UpdateStatus mutates the fulfillment status field group only.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) (domain.Order, error) {
	return r.applyUpdates(ctx, orderID, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

// UpdateTracking mutates the tracking identifier field group only.
func (r *OrderRepository) UpdateTracking(ctx context.Context, orderID string, trackingID string, updatedAt time.Time) (domain.Order, error) {
	return r.applyUpdates(ctx, orderID, []firestore.Update{
		{Path: "trackingId", Value: strings.TrimSpace(trackingID)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

// UpdatePayment applies the reconciliation field group written by the payment bridge.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID string, update repositories.OrderPaymentUpdate, updatedAt time.Time) (domain.Order, error) {
	updates := []firestore.Update{
		{Path: "paymentStatus", Value: string(update.Status)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if provider := strings.TrimSpace(update.Provider); provider != "" {
		updates = append(updates, firestore.Update{Path: "paymentProvider", Value: provider})
	}
	if paymentID := strings.TrimSpace(update.PaymentID); paymentID != "" {
		updates = append(updates, firestore.Update{Path: "paymentId", Value: paymentID})
	}
	if sessionID := strings.TrimSpace(update.SessionID); sessionID != "" {
		updates = append(updates, firestore.Update{Path: "providerSessionId", Value: sessionID})
	}
	return r.applyUpdates(ctx, orderID, updates)
}

// AttachSession records the provider session reference created for the order.
func (r *OrderRepository) AttachSession(ctx context.Context, orderID string, provider string, sessionID string, updatedAt time.Time) (domain.Order, error) {
	return r.applyUpdates(ctx, orderID, []firestore.Update{
		{Path: "paymentProvider", Value: strings.TrimSpace(provider)},
		{Path: "providerSessionId", Value: strings.TrimSpace(sessionID)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

// CountByStatus tallies orders per fulfillment and payment status.
func (r *OrderRepository) CountByStatus(ctx context.Context) (repositories.OrderStatusCounts, error) {
	if r == nil || r.base == nil {
		return repositories.OrderStatusCounts{}, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, nil)
	if err != nil {
		return repositories.OrderStatusCounts{}, err
	}

	counts := repositories.OrderStatusCounts{
		ByStatus:        make(map[domain.OrderStatus]int64),
		ByPaymentStatus: make(map[domain.PaymentStatus]int64),
	}
	for _, doc := range docs {
		counts.Total++
		counts.ByStatus[domain.OrderStatus(doc.Data.Status)]++
		counts.ByPaymentStatus[domain.PaymentStatus(doc.Data.PaymentStatus)]++
	}
	return counts, nil
}

func (r *OrderRepository) applyUpdates(ctx context.Context, orderID string, updates []firestore.Update) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	if err := r.base.Update(ctx, orderID, updates, firestore.Exists); err != nil {
		return domain.Order{}, err
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

func buildOrderPage(docs []pfirestore.Document[orderDocument], limit, fetchLimit int) domain.CursorPage[domain.Order] {
	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductRef),
			DesignName: strings.TrimSpace(item.DesignName),
			DesignCode: strings.TrimSpace(item.DesignCode),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   strings.TrimSpace(item.ImageURL),
		})
	}

	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		CustomerName:  strings.TrimSpace(order.Customer.Name),
		CustomerEmail: domain.NormalizeEmail(order.Customer.Email),
		CustomerPhone: strings.TrimSpace(order.Customer.Phone),
		ShippingAddress: orderAddressDocument{
			Street:     strings.TrimSpace(order.Shipping.Street),
			City:       strings.TrimSpace(order.Shipping.City),
			PostalCode: strings.TrimSpace(order.Shipping.PostalCode),
			Country:    strings.TrimSpace(order.Shipping.Country),
		},
		Items:           items,
		SubtotalAmount:  order.Pricing.Subtotal,
		ShippingAmount:  order.Pricing.Shipping,
		TaxAmount:       order.Pricing.Tax,
		DiscountAmount:  order.Pricing.Discount,
		TotalAmount:     order.Pricing.Total,
		PromoCode:       strings.TrimSpace(order.Pricing.PromoCode),
		Currency:        strings.ToUpper(strings.TrimSpace(order.Pricing.Currency)),
		PaymentMethod:   string(order.Payment.Method),
		PaymentStatus:   string(order.Payment.Status),
		PaymentProvider: strings.TrimSpace(order.Payment.Provider),
		PaymentID:       strings.TrimSpace(order.Payment.PaymentID),
		SessionID:       strings.TrimSpace(order.Payment.SessionID),
		Status:          string(order.Status),
		TrackingID:      strings.TrimSpace(order.TrackingID),
		UserEmail:       domain.NormalizeEmail(order.UserEmail),
		IsGuest:         order.IsGuest,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductRef: item.ProductRef,
			DesignName: item.DesignName,
			DesignCode: item.DesignCode,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   item.ImageURL,
		})
	}

	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		Customer: domain.Customer{
			Name:  doc.CustomerName,
			Email: doc.CustomerEmail,
			Phone: doc.CustomerPhone,
		},
		Shipping: domain.ShippingAddress{
			Street:     doc.ShippingAddress.Street,
			City:       doc.ShippingAddress.City,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
		},
		Items: items,
		Pricing: domain.Pricing{
			Subtotal:  doc.SubtotalAmount,
			Shipping:  doc.ShippingAmount,
			Tax:       doc.TaxAmount,
			Discount:  doc.DiscountAmount,
			Total:     doc.TotalAmount,
			PromoCode: doc.PromoCode,
			Currency:  doc.Currency,
		},
		Payment: domain.PaymentInfo{
			Method:    domain.PaymentMethod(doc.PaymentMethod),
			Status:    domain.PaymentStatus(doc.PaymentStatus),
			Provider:  doc.PaymentProvider,
			PaymentID: doc.PaymentID,
			SessionID: doc.SessionID,
		},
		Status:     domain.OrderStatus(doc.Status),
		TrackingID: doc.TrackingID,
		UserEmail:  doc.UserEmail,
		IsGuest:    doc.IsGuest,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

// Page tokens carry the createdAt/docID cursor of the last row in the
// standard pagination envelope.
func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	docID, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}
