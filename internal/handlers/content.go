package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

// ContentHandlers exposes the public hero carousel read endpoint.
type ContentHandlers struct {
	content services.ContentService
}

// NewContentHandlers constructs a new ContentHandlers instance.
func NewContentHandlers(content services.ContentService) *ContentHandlers {
	return &ContentHandlers{content: content}
}

// Routes registers content reads at the API root.
func (h *ContentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/content/hero", h.listActiveSlides)
}

type heroSlidePayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle,omitempty"`
	ImagePath string `json:"imagePath,omitempty"`
	LinkURL   string `json:"linkUrl,omitempty"`
	Position  int    `json:"position"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (h *ContentHandlers) listActiveSlides(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_service_unavailable", "content service unavailable", http.StatusServiceUnavailable))
		return
	}

	slides, err := h.content.ListHeroSlides(ctx, true)
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

func buildHeroSlidePayload(slide services.HeroSlide) heroSlidePayload {
	return heroSlidePayload{
		ID:        slide.ID,
		Title:     slide.Title,
		Subtitle:  slide.Subtitle,
		ImagePath: slide.ImagePath,
		LinkURL:   slide.LinkURL,
		Position:  slide.Position,
		Active:    slide.Active,
		UpdatedAt: formatTime(slide.UpdatedAt),
	}
}

func writeContentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrContentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrContentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("slide_not_found", "slide not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("content_error", "failed to process content request", http.StatusInternalServerError))
	}
}
