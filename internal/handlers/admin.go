package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/platform/storage"
	"github.com/loomline/api/internal/services"
)

const (
	maxAdminBodySize    = 64 * 1024
	exportPageSize      = 500
	exportMaxPages      = 200
	adminActor          = "admin"
	exportContentType   = "text/csv"
	exportStampLayout   = "20060102-150405"
	defaultLeadPageSize = 50
	maxLeadPageSize     = 200
)

// ExportArchiver stores a copy of a generated export in object storage.
type ExportArchiver interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// AdminDeps collects the collaborators behind the admin surface.
type AdminDeps struct {
	Sessions *auth.AdminSessionManager
	Orders   services.OrderService
	Catalog  services.CatalogService
	Content  services.ContentService
	Leads    services.LeadService
	Searches services.SearchLogService
	Audit    services.AuditLogService

	// Archiver and ExportsBucket are optional; exports are still streamed to
	// the caller when they are unset.
	Archiver      ExportArchiver
	ExportsBucket string

	Clock func() time.Time
}

// AdminHandlers exposes the passphrase-gated operations surface.
type AdminHandlers struct {
	deps  AdminDeps
	clock func() time.Time
}

// NewAdminHandlers constructs the admin handler set.
func NewAdminHandlers(deps AdminDeps) *AdminHandlers {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &AdminHandlers{deps: deps, clock: clock}
}

// Routes registers the /admin endpoints. Everything except /login requires a
// valid admin session.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)

	r.Group(func(pr chi.Router) {
		if h.deps.Sessions != nil {
			pr.Use(h.deps.Sessions.RequireAdmin())
		} else {
			// No session manager means no way to authenticate; refuse rather
			// than expose the operations surface unauthenticated.
			pr.Use(adminUnavailableMiddleware)
		}
		pr.Use(noStoreMiddleware)

		pr.Route("/orders", func(or chi.Router) {
			or.Get("/", h.listOrders)
			or.Patch("/", h.updateOrderStatus)
			or.Get("/export", h.exportOrders)
			or.Patch("/{orderID}/tracking", h.attachTracking)
			or.Post("/{orderID}/refund", h.refundOrder)
		})
		pr.Get("/stats", h.orderStats)

		pr.Route("/products", func(cr chi.Router) {
			cr.Post("/", h.saveProduct)
			cr.Put("/{productID}", h.saveProduct)
			cr.Delete("/{productID}", h.deleteProduct)
		})
		pr.Post("/categories", h.saveCategory)

		pr.Route("/content/hero", func(hr chi.Router) {
			hr.Get("/", h.listSlides)
			hr.Post("/", h.saveSlide)
			hr.Delete("/{slideID}", h.deleteSlide)
			hr.Post("/upload-url", h.createSlideUploadURL)
		})

		pr.Route("/wishlist", func(wr chi.Router) {
			wr.Get("/", h.listLeads)
			wr.Delete("/{leadID}", h.deleteLead)
		})

		pr.Route("/searches", func(sr chi.Router) {
			sr.Get("/", h.listSearches)
			sr.Get("/export", h.exportSearches)
		})

		pr.Get("/audit-logs", h.listAuditLogs)
	})
}

func adminUnavailableMiddleware(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("admin_unavailable", "admin sessions are not configured", http.StatusServiceUnavailable))
	})
}

// Admin reads must never be served from intermediary caches.
func noStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type adminLoginRequest struct {
	Passphrase string `json:"passphrase"`
}

type adminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *AdminHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_unavailable", "admin sessions are not configured", http.StatusServiceUnavailable))
		return
	}

	var req adminLoginRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	token, expiresAt, err := h.deps.Sessions.Exchange(req.Passphrase)
	if err != nil {
		if errors.Is(err, auth.ErrAdminPassphraseMismatch) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "passphrase does not match", http.StatusUnauthorized))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("admin_login_failed", "failed to establish admin session", http.StatusInternalServerError))
		return
	}

	http.SetCookie(w, h.deps.Sessions.SessionCookie(token, expiresAt))
	h.recordAudit(ctx, "admin.login", "admin/session", nil)
	writeJSONResponse(w, http.StatusOK, adminLoginResponse{
		Token:     token,
		ExpiresAt: formatTime(expiresAt),
	})
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, err := parseOrderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.deps.Orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	summaries := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		summaries = append(summaries, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        summaries,
		NextPageToken: page.NextPageToken,
	})
}

type updateOrderStatusRequest struct {
	OrderID   string `json:"orderId"`
	NewStatus string `json:"newStatus"`
	Force     bool   `json:"force"`
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	order, err := h.deps.Orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:   req.OrderID,
		NewStatus: domain.OrderStatus(strings.TrimSpace(req.NewStatus)),
		Force:     req.Force,
		ActorID:   adminActor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderDetail(order))
}

type attachTrackingRequest struct {
	TrackingID string `json:"trackingId"`
}

func (h *AdminHandlers) attachTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req attachTrackingRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	order, err := h.deps.Orders.AttachTracking(ctx, services.AttachTrackingCommand{
		OrderID:    orderID,
		TrackingID: req.TrackingID,
		ActorID:    adminActor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderDetail(order))
}

type refundOrderRequest struct {
	// Amount in whole currency units; zero or omitted refunds the full total.
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req refundOrderRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	order, err := h.deps.Orders.RefundPayment(ctx, services.RefundOrderCommand{
		OrderID: orderID,
		Amount:  req.Amount,
		Reason:  req.Reason,
		ActorID: adminActor,
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderRefundUnavailable) {
			httpx.WriteError(ctx, w, httpx.NewError("refund_unavailable", "payment provider could not process the refund", http.StatusBadGateway))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}

	h.recordAudit(ctx, "orders.payment.refunded", "orders/"+order.ID, map[string]any{
		"amount": req.Amount,
		"reason": strings.TrimSpace(req.Reason),
	})
	writeJSONResponse(w, http.StatusOK, buildOrderDetail(order))
}

var exportHeader = []string{
	"orderNumber", "orderId", "createdAt", "status",
	"paymentMethod", "paymentStatus", "customerName", "email", "phone",
	"city", "country", "itemCount", "subtotal", "shipping", "tax",
	"discount", "total", "currency", "trackingId",
}

func (h *AdminHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, err := parseOrderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination = services.Pagination{PageSize: exportPageSize}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_failed", "failed to build export", http.StatusInternalServerError))
		return
	}

	rowCount := 0
	for page := 0; page < exportMaxPages; page++ {
		result, err := h.deps.Orders.ListOrders(ctx, filter)
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		for _, order := range result.Items {
			if err := writer.Write(exportRow(order)); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("export_failed", "failed to build export", http.StatusInternalServerError))
				return
			}
			rowCount++
		}
		if result.NextPageToken == "" {
			break
		}
		filter.Pagination.PageToken = result.NextPageToken
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_failed", "failed to build export", http.StatusInternalServerError))
		return
	}

	stamp := h.clock().UTC().Format(exportStampLayout)
	fileName := fmt.Sprintf("orders-%s.csv", stamp)

	objectPath := h.archiveExport(ctx, stamp, buf.Bytes())
	if objectPath != "" {
		w.Header().Set("X-Export-Object", objectPath)
	}

	w.Header().Set("Content-Type", exportContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())

	h.recordAudit(ctx, "orders.exported", "orders/export", map[string]any{
		"rows":   rowCount,
		"object": objectPath,
	})
}

// archiveExport best-effort stores the CSV in the exports bucket and returns
// the object path, or "" when archiving is not configured or fails.
func (h *AdminHandlers) archiveExport(ctx context.Context, stamp string, data []byte) string {
	if h.deps.Archiver == nil || strings.TrimSpace(h.deps.ExportsBucket) == "" {
		return ""
	}
	objectPath, err := storage.BuildObjectPath(storage.PurposeOrderExport, storage.PathParams{Stamp: stamp})
	if err != nil {
		return ""
	}
	if err := h.deps.Archiver.WriteObject(ctx, h.deps.ExportsBucket, objectPath, exportContentType, data); err != nil {
		return ""
	}
	return objectPath
}

func exportRow(order services.Order) []string {
	return []string{
		order.OrderNumber,
		order.ID,
		formatTime(order.CreatedAt),
		string(order.Status),
		string(order.Payment.Method),
		string(order.Payment.Status),
		order.Customer.Name,
		order.Customer.Email,
		order.Customer.Phone,
		order.Shipping.City,
		order.Shipping.Country,
		strconv.Itoa(order.ItemCount()),
		strconv.FormatInt(order.Pricing.Subtotal, 10),
		strconv.FormatInt(order.Pricing.Shipping, 10),
		strconv.FormatInt(order.Pricing.Tax, 10),
		strconv.FormatInt(order.Pricing.Discount, 10),
		strconv.FormatInt(order.Pricing.Total, 10),
		order.Pricing.Currency,
		order.TrackingID,
	}
}

type orderStatsResponse struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"byStatus"`
	ByPaymentStatus map[string]int64 `json:"byPaymentStatus"`
}

func (h *AdminHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	stats, err := h.deps.Orders.OrderStats(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderStatsResponse{
		Total:           stats.Total,
		ByStatus:        make(map[string]int64, len(stats.ByStatus)),
		ByPaymentStatus: make(map[string]int64, len(stats.ByPaymentStatus)),
	}
	for status, count := range stats.ByStatus {
		resp.ByStatus[string(status)] = count
	}
	for status, count := range stats.ByPaymentStatus {
		resp.ByPaymentStatus[string(status)] = count
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func parseOrderListFilter(r *http.Request) (services.OrderListFilter, error) {
	query := r.URL.Query()
	filter := services.OrderListFilter{}

	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			status := domain.OrderStatus(value)
			if !status.IsValid() {
				return services.OrderListFilter{}, fmt.Errorf("unknown status %q", value)
			}
			filter.Status = append(filter.Status, status)
		}
	}
	for _, raw := range query["payment_status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			status := domain.PaymentStatus(value)
			if !status.IsValid() {
				return services.OrderListFilter{}, fmt.Errorf("unknown payment status %q", value)
			}
			filter.PaymentStatus = append(filter.PaymentStatus, status)
		}
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("created_after must be a valid RFC3339 timestamp")
		}
		filter.CreatedAfter = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("created_before must be a valid RFC3339 timestamp")
		}
		filter.CreatedBefore = &ts
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		return services.OrderListFilter{}, err
	}
	filter.Pagination = pager
	return filter, nil
}

func parseTimeParam(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func (h *AdminHandlers) recordAudit(ctx context.Context, action, targetRef string, metadata map[string]any) {
	if h.deps.Audit == nil {
		return
	}
	h.deps.Audit.Record(ctx, services.AuditLogRecord{
		Actor:     adminActor,
		ActorType: adminActor,
		Action:    action,
		TargetRef: targetRef,
		Metadata:  metadata,
	})
}
