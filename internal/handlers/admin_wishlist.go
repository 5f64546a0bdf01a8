package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

type leadPayload struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ProductRef string `json:"productRef"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

type leadListResponse struct {
	Leads         []leadPayload `json:"leads"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

func (h *AdminHandlers) listLeads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Leads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultLeadPageSize, maxLeadPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.deps.Leads.ListLeads(ctx, services.LeadListQuery{
		ProductRef: strings.TrimSpace(r.URL.Query().Get("product")),
		Pagination: pager,
	})
	if err != nil {
		writeLeadError(ctx, w, err)
		return
	}

	leads := make([]leadPayload, 0, len(page.Items))
	for _, lead := range page.Items {
		leads = append(leads, leadPayload{
			ID:         lead.ID,
			Email:      lead.Email,
			Phone:      lead.Phone,
			ProductRef: lead.ProductRef,
			Note:       lead.Note,
			CreatedAt:  formatTime(lead.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, leadListResponse{
		Leads:         leads,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) deleteLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Leads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service unavailable", http.StatusServiceUnavailable))
		return
	}

	leadID := strings.TrimSpace(chi.URLParam(r, "leadID"))
	if leadID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "lead id is required", http.StatusBadRequest))
		return
	}

	if err := h.deps.Leads.DeleteLead(ctx, leadID); err != nil {
		writeLeadError(ctx, w, err)
		return
	}
	h.recordAudit(ctx, "wishlist.lead.deleted", "wishlist/"+leadID, nil)
	w.WriteHeader(http.StatusNoContent)
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actorType,omitempty"`
	Action    string         `json:"action"`
	TargetRef string         `json:"targetRef,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit log service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultLeadPageSize, maxLeadPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	page, err := h.deps.Audit.List(ctx, services.AuditLogQuery{
		Actor:      strings.TrimSpace(query.Get("actor")),
		Action:     strings.TrimSpace(query.Get("action")),
		TargetRef:  strings.TrimSpace(query.Get("target")),
		Pagination: pager,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	entries := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		entries = append(entries, auditLogPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Metadata:  entry.Metadata,
			Severity:  entry.Severity,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"entries":       entries,
		"nextPageToken": page.NextPageToken,
	})
}
