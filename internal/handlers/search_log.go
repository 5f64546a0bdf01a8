package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const (
	maxSearchLogBodySize = 4 * 1024
	searchLogRateLimit   = 30
	searchLogRateWindow  = time.Minute
)

// SearchLogHandlers exposes the public search capture endpoint. Like the
// wishlist endpoint it is unauthenticated and rate limited per client address.
type SearchLogHandlers struct {
	searches services.SearchLogService
	limiter  rateLimiter
}

// NewSearchLogHandlers constructs a new SearchLogHandlers instance.
func NewSearchLogHandlers(searches services.SearchLogService) *SearchLogHandlers {
	return &SearchLogHandlers{
		searches: searches,
		limiter:  newSimpleRateLimiter(searchLogRateLimit, searchLogRateWindow, nil),
	}
}

// Routes registers search capture at the API root.
func (h *SearchLogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/search-log", h.recordSearch)
}

type recordSearchRequest struct {
	Term string `json:"term"`
}

type recordSearchResponse struct {
	Recorded bool `json:"recorded"`
}

func (h *SearchLogHandlers) recordSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.searches == nil {
		httpx.WriteError(ctx, w, httpx.NewError("search_service_unavailable", "search log service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many search submissions, try again later", http.StatusTooManyRequests))
		return
	}

	var req recordSearchRequest
	if !decodeJSONBody(ctx, w, r, maxSearchLogBodySize, &req) {
		return
	}

	cmd := services.RecordSearchCommand{Term: req.Term}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.UserID = identity.UID
	}

	if _, err := h.searches.RecordSearch(ctx, cmd); err != nil {
		// Short terms are dropped on purpose; the client still gets a 200 so
		// it never retries or surfaces an error for them.
		if errors.Is(err, services.ErrSearchTermSkipped) {
			writeJSONResponse(w, http.StatusOK, recordSearchResponse{Recorded: false})
			return
		}
		writeSearchLogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, recordSearchResponse{Recorded: true})
}

func writeSearchLogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, services.ErrSearchInvalidInput) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("search_log_error", "failed to record search", http.StatusInternalServerError))
}
