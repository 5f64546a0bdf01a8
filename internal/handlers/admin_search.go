package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

type searchRecordPayload struct {
	ID        string `json:"id"`
	Term      string `json:"term"`
	RawTerm   string `json:"rawTerm,omitempty"`
	UserID    string `json:"userId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type searchListResponse struct {
	Searches      []searchRecordPayload `json:"searches"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func (h *AdminHandlers) listSearches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Searches == nil {
		httpx.WriteError(ctx, w, httpx.NewError("search_service_unavailable", "search log service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultLeadPageSize, maxLeadPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.deps.Searches.ListSearches(ctx, services.SearchListQuery{
		Term:       strings.TrimSpace(r.URL.Query().Get("term")),
		Pagination: pager,
	})
	if err != nil {
		writeSearchLogError(ctx, w, err)
		return
	}

	searches := make([]searchRecordPayload, 0, len(page.Items))
	for _, record := range page.Items {
		searches = append(searches, searchRecordPayload{
			ID:        record.ID,
			Term:      record.Term,
			RawTerm:   record.RawTerm,
			UserID:    record.UserID,
			CreatedAt: formatTime(record.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, searchListResponse{
		Searches:      searches,
		NextPageToken: page.NextPageToken,
	})
}

var searchExportHeader = []string{"term", "rawTerm", "userId", "createdAt"}

func (h *AdminHandlers) exportSearches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Searches == nil {
		httpx.WriteError(ctx, w, httpx.NewError("search_service_unavailable", "search log service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := services.SearchListQuery{
		Term:       strings.TrimSpace(r.URL.Query().Get("term")),
		Pagination: services.Pagination{PageSize: exportPageSize},
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(searchExportHeader); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_failed", "failed to build export", http.StatusInternalServerError))
		return
	}

	rowCount := 0
	for page := 0; page < exportMaxPages; page++ {
		result, err := h.deps.Searches.ListSearches(ctx, query)
		if err != nil {
			writeSearchLogError(ctx, w, err)
			return
		}
		for _, record := range result.Items {
			row := []string{record.Term, record.RawTerm, record.UserID, formatTime(record.CreatedAt)}
			if err := writer.Write(row); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("export_failed", "failed to build export", http.StatusInternalServerError))
				return
			}
			rowCount++
		}
		if result.NextPageToken == "" {
			break
		}
		query.Pagination.PageToken = result.NextPageToken
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_failed", "failed to build export", http.StatusInternalServerError))
		return
	}

	fileName := fmt.Sprintf("searches-%s.csv", h.clock().UTC().Format(exportStampLayout))
	w.Header().Set("Content-Type", exportContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())

	h.recordAudit(ctx, "searches.exported", "searches/export", map[string]any{"rows": rowCount})
}
