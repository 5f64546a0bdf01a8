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

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

// OrderHandlers exposes order creation and per-order reads. Creation accepts
// guests; reads require the owner or an admin session.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
}

type createOrderRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Shipping struct {
		Street     string `json:"street"`
		City       string `json:"city"`
		PostalCode string `json:"postalCode"`
		Country    string `json:"country"`
	} `json:"shipping"`
	Items   []orderItemRequest `json:"items"`
	Pricing struct {
		Subtotal  int64  `json:"subtotal"`
		Shipping  int64  `json:"shipping"`
		Tax       int64  `json:"tax"`
		Discount  int64  `json:"discount"`
		Total     int64  `json:"total"`
		PromoCode string `json:"promoCode"`
		Currency  string `json:"currency"`
	} `json:"pricing"`
	PaymentMethod string `json:"paymentMethod"`
}

type orderItemRequest struct {
	ProductRef string `json:"productRef"`
	DesignName string `json:"designName"`
	DesignCode string `json:"designCode"`
	UnitPrice  int64  `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
	ImageURL   string `json:"imageUrl"`
}

type createOrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

type orderItemPayload struct {
	ProductRef string `json:"productRef,omitempty"`
	DesignName string `json:"designName"`
	DesignCode string `json:"designCode,omitempty"`
	UnitPrice  int64  `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

type orderPricingPayload struct {
	Subtotal  int64  `json:"subtotal"`
	Shipping  int64  `json:"shipping"`
	Tax       int64  `json:"tax"`
	Discount  int64  `json:"discount"`
	Total     int64  `json:"total"`
	PromoCode string `json:"promoCode,omitempty"`
	Currency  string `json:"currency"`
}

type orderPaymentPayload struct {
	Method    string `json:"method"`
	Status    string `json:"status"`
	Provider  string `json:"provider,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type orderSummaryPayload struct {
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentMethod string `json:"paymentMethod"`
	PaymentStatus string `json:"paymentStatus"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	ItemCount     int    `json:"itemCount"`
	TrackingID    string `json:"trackingId,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

type orderDetailPayload struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Customer    struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Shipping struct {
		Street     string `json:"street"`
		City       string `json:"city"`
		PostalCode string `json:"postalCode"`
		Country    string `json:"country"`
	} `json:"shipping"`
	Items      []orderItemPayload  `json:"items"`
	Pricing    orderPricingPayload `json:"pricing"`
	Payment    orderPaymentPayload `json:"payment"`
	TrackingID string              `json:"trackingId,omitempty"`
	IsGuest    bool                `json:"isGuest"`
	CreatedAt  string              `json:"createdAt"`
	UpdatedAt  string              `json:"updatedAt"`
}

type orderListResponse struct {
	Orders        []orderSummaryPayload `json:"orders"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		Customer: services.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		Shipping: services.ShippingAddress{
			Street:     req.Shipping.Street,
			City:       req.Shipping.City,
			PostalCode: req.Shipping.PostalCode,
			Country:    req.Shipping.Country,
		},
		Items: buildCartItems(req.Items),
		Pricing: services.Pricing{
			Subtotal:  req.Pricing.Subtotal,
			Shipping:  req.Pricing.Shipping,
			Tax:       req.Pricing.Tax,
			Discount:  req.Pricing.Discount,
			Total:     req.Pricing.Total,
			PromoCode: req.Pricing.PromoCode,
			Currency:  req.Pricing.Currency,
		},
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
	}

	// Signed-in shoppers get the order linked to their account; everyone
	// else checks out as a guest.
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.UserID = identity.UID
		cmd.UserEmail = identity.Email
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if !canReadOrder(ctx, order) {
		// Do not leak existence to strangers probing ids.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderDetail(order))
}

// canReadOrder allows admins and the purchasing account. Ownership matches on
// the linked user email first, then the customer contact email.
func canReadOrder(ctx context.Context, order services.Order) bool {
	if auth.IsAdmin(ctx) {
		return true
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return false
	}
	email := domain.NormalizeEmail(identity.Email)
	if email == "" {
		return false
	}
	if domain.NormalizeEmail(order.UserEmail) == email {
		return true
	}
	return domain.NormalizeEmail(order.Customer.Email) == email
}

func buildCartItems(items []orderItemRequest) []services.CartItem {
	out := make([]services.CartItem, 0, len(items))
	for _, item := range items {
		out = append(out, services.CartItem{
			ProductRef: item.ProductRef,
			DesignName: item.DesignName,
			DesignCode: item.DesignCode,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   item.ImageURL,
		})
	}
	return out
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentMethod: string(order.Payment.Method),
		PaymentStatus: string(order.Payment.Status),
		Total:         order.Pricing.Total,
		Currency:      order.Pricing.Currency,
		ItemCount:     order.ItemCount(),
		TrackingID:    order.TrackingID,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderDetail(order services.Order) orderDetailPayload {
	payload := orderDetailPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Pricing: orderPricingPayload{
			Subtotal:  order.Pricing.Subtotal,
			Shipping:  order.Pricing.Shipping,
			Tax:       order.Pricing.Tax,
			Discount:  order.Pricing.Discount,
			Total:     order.Pricing.Total,
			PromoCode: order.Pricing.PromoCode,
			Currency:  order.Pricing.Currency,
		},
		Payment: orderPaymentPayload{
			Method:    string(order.Payment.Method),
			Status:    string(order.Payment.Status),
			Provider:  order.Payment.Provider,
			PaymentID: order.Payment.PaymentID,
			SessionID: order.Payment.SessionID,
		},
		TrackingID: order.TrackingID,
		IsGuest:    order.IsGuest,
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTime(order.UpdatedAt),
	}
	payload.Customer.Name = order.Customer.Name
	payload.Customer.Email = order.Customer.Email
	payload.Customer.Phone = order.Customer.Phone
	payload.Shipping.Street = order.Shipping.Street
	payload.Shipping.City = order.Shipping.City
	payload.Shipping.PostalCode = order.Shipping.PostalCode
	payload.Shipping.Country = order.Shipping.Country
	payload.Items = make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductRef: item.ProductRef,
			DesignName: item.DesignName,
			DesignCode: item.DesignCode,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   item.ImageURL,
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
