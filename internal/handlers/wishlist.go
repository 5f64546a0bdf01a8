package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const (
	maxWishlistBodySize = 8 * 1024
	wishlistRateLimit   = 10
	wishlistRateWindow  = time.Minute
)

// WishlistHandlers exposes the public wishlist capture endpoint. Submissions
// are rate limited per client address since the endpoint is unauthenticated.
type WishlistHandlers struct {
	leads   services.LeadService
	limiter rateLimiter
}

// NewWishlistHandlers constructs a new WishlistHandlers instance.
func NewWishlistHandlers(leads services.LeadService) *WishlistHandlers {
	return &WishlistHandlers{
		leads:   leads,
		limiter: newSimpleRateLimiter(wishlistRateLimit, wishlistRateWindow, nil),
	}
}

// Routes registers wishlist capture at the API root.
func (h *WishlistHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/wishlist", h.captureLead)
}

type captureLeadRequest struct {
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	ProductRef string `json:"productRef"`
	Note       string `json:"note"`
}

type captureLeadResponse struct {
	ID string `json:"id"`
}

func (h *WishlistHandlers) captureLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.leads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many wishlist submissions, try again later", http.StatusTooManyRequests))
		return
	}

	var req captureLeadRequest
	if !decodeJSONBody(ctx, w, r, maxWishlistBodySize, &req) {
		return
	}

	lead, err := h.leads.CaptureLead(ctx, services.CaptureLeadCommand{
		Email:      req.Email,
		Phone:      req.Phone,
		ProductRef: req.ProductRef,
		Note:       req.Note,
	})
	if err != nil {
		writeLeadError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, captureLeadResponse{ID: lead.ID})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeLeadError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrLeadInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLeadNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("lead_not_found", "lead not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_error", "failed to process wishlist request", http.StatusInternalServerError))
	}
}
