package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

type saveSlideRequest struct {
	SlideID   string `json:"slideId"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	ImagePath string `json:"imagePath"`
	LinkURL   string `json:"linkUrl"`
	Position  int    `json:"position"`
	Active    bool   `json:"active"`
}

type slideUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type slideUploadResponse struct {
	URL        string            `json:"url"`
	ObjectPath string            `json:"objectPath"`
	ExpiresAt  string            `json:"expiresAt"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (h *AdminHandlers) listSlides(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_service_unavailable", "content service unavailable", http.StatusServiceUnavailable))
		return
	}

	// Admins see inactive slides too.
	slides, err := h.deps.Content.ListHeroSlides(ctx, false)
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}

	payload := make([]heroSlidePayload, 0, len(slides))
	for _, slide := range slides {
		payload = append(payload, buildHeroSlidePayload(slide))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"slides": payload})
}

func (h *AdminHandlers) saveSlide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_service_unavailable", "content service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req saveSlideRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	slide, err := h.deps.Content.SaveHeroSlide(ctx, services.SaveHeroSlideCommand{
		SlideID:   req.SlideID,
		Title:     req.Title,
		Subtitle:  req.Subtitle,
		ImagePath: req.ImagePath,
		LinkURL:   req.LinkURL,
		Position:  req.Position,
		Active:    req.Active,
	})
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if strings.TrimSpace(req.SlideID) == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, buildHeroSlidePayload(slide))
}

func (h *AdminHandlers) deleteSlide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_service_unavailable", "content service unavailable", http.StatusServiceUnavailable))
		return
	}

	slideID := strings.TrimSpace(chi.URLParam(r, "slideID"))
	if slideID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "slide id is required", http.StatusBadRequest))
		return
	}

	if err := h.deps.Content.DeleteHeroSlide(ctx, slideID); err != nil {
		writeContentError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) createSlideUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_service_unavailable", "content service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req slideUploadRequest
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, &req) {
		return
	}

	result, err := h.deps.Content.CreateSlideUploadURL(ctx, services.SlideUploadCommand{
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, slideUploadResponse{
		URL:        result.URL,
		ObjectPath: result.ObjectPath,
		ExpiresAt:  formatTime(result.ExpiresAt),
		Headers:    result.Headers,
	})
}
