package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/services"
)

const testAdminPassphrase = "weaver-moon-1947"

func newAdminSessionManager(t *testing.T) *auth.AdminSessionManager {
	t.Helper()
	mgr, err := auth.NewAdminSessionManager(auth.AdminSessionConfig{
		Passphrase:    testAdminPassphrase,
		SigningSecret: []byte("admin-signing-secret"),
	})
	if err != nil {
		t.Fatalf("NewAdminSessionManager: %v", err)
	}
	return mgr
}

func newAdminRouter(deps AdminDeps) http.Handler {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(deps).Routes)
	return router
}

func adminLogin(t *testing.T, router http.Handler) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"passphrase": "`+testAdminPassphrase+`"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == auth.AdminCookieName {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestAdminLogin(t *testing.T) {
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t)})

	cookie := adminLogin(t, router)
	if cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("cookie = %+v", cookie)
	}
}

func TestAdminLoginRejectsWrongPassphrase(t *testing.T) {
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t)})

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"passphrase": "guess"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "invalid_credentials" {
		t.Fatalf("error code = %v", resp["error"])
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	orders := &stubOrderService{
		statsFn: func(context.Context) (services.OrderStats, error) {
			return services.OrderStats{Total: 3}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Orders: orders})

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rr.Code)
	}

	cookie := adminLogin(t, router)
	req = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("cache-control = %q", got)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["total"] != float64(3) {
		t.Fatalf("stats = %v", resp)
	}
}

func TestAdminRoutesFailClosedWithoutSessions(t *testing.T) {
	router := newAdminRouter(AdminDeps{Orders: &stubOrderService{}})

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "admin_unavailable" {
		t.Fatalf("error code = %v", resp["error"])
	}
}

func TestAdminUpdateOrderStatus(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	order := sampleOrder()
	order.Status = domain.OrderStatusShipped
	orders := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			return order, nil
		},
	}
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Orders: orders})
	cookie := adminLogin(t, router)

	body := `{"orderId": "ord_abc123", "newStatus": "Shipped", "force": true}`
	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/", strings.NewReader(body))
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_abc123" || captured.NewStatus != domain.OrderStatusShipped || !captured.Force {
		t.Fatalf("command = %+v", captured)
	}
	if captured.ActorID != "admin" {
		t.Fatalf("actor = %q", captured.ActorID)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != string(domain.OrderStatusShipped) {
		t.Fatalf("response status = %v", resp["status"])
	}
}

func TestAdminAttachTracking(t *testing.T) {
	var captured services.AttachTrackingCommand
	order := sampleOrder()
	order.TrackingID = "TRK-9001"
	orders := &stubOrderService{
		trackingFn: func(_ context.Context, cmd services.AttachTrackingCommand) (services.Order, error) {
			captured = cmd
			return order, nil
		},
	}
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Orders: orders})
	cookie := adminLogin(t, router)

	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_abc123/tracking", strings.NewReader(`{"trackingId": "TRK-9001"}`))
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_abc123" || captured.TrackingID != "TRK-9001" {
		t.Fatalf("command = %+v", captured)
	}
}

func TestAdminListOrdersFilter(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "next-token",
			}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Orders: orders})
	cookie := adminLogin(t, router)

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/?status=Received,Shipped&payment_status=pending&pageSize=10", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusReceived || captured.Status[1] != domain.OrderStatusShipped {
		t.Fatalf("status filter = %v", captured.Status)
	}
	if len(captured.PaymentStatus) != 1 || captured.PaymentStatus[0] != domain.PaymentStatusPending {
		t.Fatalf("payment filter = %v", captured.PaymentStatus)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("page size = %d", captured.Pagination.PageSize)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["nextPageToken"] != "next-token" {
		t.Fatalf("response = %v", resp)
	}
}

func TestAdminListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Orders: &stubOrderService{}})
	cookie := adminLogin(t, router)

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/?status=Teleported", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

type captureArchiver struct {
	bucket      string
	object      string
	contentType string
	data        []byte
}

func (a *captureArchiver) WriteObject(_ context.Context, bucket, object, contentType string, data []byte) error {
	a.bucket = bucket
	a.object = object
	a.contentType = contentType
	a.data = append([]byte(nil), data...)
	return nil
}

func TestAdminExportOrders(t *testing.T) {
	pages := 0
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			pages++
			if filter.Pagination.PageToken == "" {
				return domain.CursorPage[services.Order]{
					Items:         []services.Order{sampleOrder()},
					NextPageToken: "page-2",
				}, nil
			}
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}
	archiver := &captureArchiver{}
	router := newAdminRouter(AdminDeps{
		Sessions:      newAdminSessionManager(t),
		Orders:        orders,
		Archiver:      archiver,
		ExportsBucket: "loomline-exports",
		Clock:         func() time.Time { return time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC) },
	})
	cookie := adminLogin(t, router)

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/export", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if pages != 2 {
		t.Fatalf("pages fetched = %d, want 2", pages)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("content type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "orders-20251103-120000.csv") {
		t.Fatalf("disposition = %q", got)
	}

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header plus two rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "orderNumber,orderId,createdAt") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "LL-2025-000042") {
		t.Fatalf("row = %q", lines[1])
	}

	if archiver.bucket != "loomline-exports" || len(archiver.data) == 0 {
		t.Fatalf("archive = %+v", archiver)
	}
	if got := rr.Header().Get("X-Export-Object"); got != archiver.object {
		t.Fatalf("export object header = %q, want %q", got, archiver.object)
	}
}

func TestAdminRefundOrder(t *testing.T) {
	var captured services.RefundOrderCommand
	order := sampleOrder()
	order.Payment.Status = domain.PaymentStatusRefunded
	orders := &stubOrderService{
		refundFn: func(_ context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
			captured = cmd
			return order, nil
		},
	}
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Orders: orders})
	cookie := adminLogin(t, router)

	body := `{"amount": 500, "reason": "damaged in transit"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_abc123/refund", strings.NewReader(body))
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_abc123" || captured.Amount != 500 || captured.Reason != "damaged in transit" {
		t.Fatalf("command = %+v", captured)
	}
	if captured.ActorID != "admin" {
		t.Fatalf("actor = %q", captured.ActorID)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	payment, ok := resp["payment"].(map[string]any)
	if !ok || payment["status"] != string(domain.PaymentStatusRefunded) {
		t.Fatalf("payment payload = %v", resp["payment"])
	}
}

func TestAdminRefundOrderProviderUnavailable(t *testing.T) {
	orders := &stubOrderService{
		refundFn: func(context.Context, services.RefundOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderRefundUnavailable
		},
	}
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Orders: orders})
	cookie := adminLogin(t, router)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_abc123/refund", strings.NewReader(`{}`))
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "refund_unavailable" {
		t.Fatalf("error code = %v", resp["error"])
	}
}

func TestAdminListSearches(t *testing.T) {
	var captured services.SearchListQuery
	searches := &stubSearchLogService{
		listFn: func(_ context.Context, query services.SearchListQuery) (domain.CursorPage[services.SearchRecord], error) {
			captured = query
			return domain.CursorPage[services.SearchRecord]{
				Items: []services.SearchRecord{{
					ID:        "srch_01",
					Term:      "merino wrap",
					RawTerm:   "Merino Wrap",
					UserID:    "usr_1",
					CreatedAt: time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC),
				}},
				NextPageToken: "next-token",
			}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Sessions: newAdminSessionManager(t), Searches: searches})
	cookie := adminLogin(t, router)

	req := httptest.NewRequest(http.MethodGet, "/admin/searches/?term=Merino+Wrap&pageSize=5", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.Term != "Merino Wrap" || captured.Pagination.PageSize != 5 {
		t.Fatalf("query = %+v", captured)
	}

	var resp searchListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Searches) != 1 || resp.Searches[0].Term != "merino wrap" {
		t.Fatalf("searches = %+v", resp.Searches)
	}
	if resp.NextPageToken != "next-token" {
		t.Fatalf("next token = %q", resp.NextPageToken)
	}
}

func TestAdminExportSearches(t *testing.T) {
	pages := 0
	searches := &stubSearchLogService{
		listFn: func(_ context.Context, query services.SearchListQuery) (domain.CursorPage[services.SearchRecord], error) {
			pages++
			record := services.SearchRecord{
				ID:        "srch_01",
				Term:      "indigo scarf",
				RawTerm:   "Indigo Scarf",
				CreatedAt: time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC),
			}
			if query.Pagination.PageToken == "" {
				return domain.CursorPage[services.SearchRecord]{
					Items:         []services.SearchRecord{record},
					NextPageToken: "page-2",
				}, nil
			}
			return domain.CursorPage[services.SearchRecord]{Items: []services.SearchRecord{record}}, nil
		},
	}
	router := newAdminRouter(AdminDeps{
		Sessions: newAdminSessionManager(t),
		Searches: searches,
		Clock:    func() time.Time { return time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC) },
	})
	cookie := adminLogin(t, router)

	req := httptest.NewRequest(http.MethodGet, "/admin/searches/export", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if pages != 2 {
		t.Fatalf("pages fetched = %d, want 2", pages)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("content type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "searches-20251103-120000.csv") {
		t.Fatalf("disposition = %q", got)
	}

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header plus two rows", len(lines))
	}
	if lines[0] != "term,rawTerm,userId,createdAt" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "indigo scarf") {
		t.Fatalf("row = %q", lines[1])
	}
}
