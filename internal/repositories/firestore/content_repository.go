package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

const heroSlidesCollection = "hero_slides"

type heroSlideDocument struct {
	Title     string    `firestore:"title"`
	Subtitle  string    `firestore:"subtitle,omitempty"`
	ImagePath string    `firestore:"imagePath"`
	LinkURL   string    `firestore:"linkUrl,omitempty"`
	Position  int       `firestore:"position"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// ContentRepository implements repositories.ContentRepository backed by Firestore.
type ContentRepository struct {
	base *pfirestore.BaseRepository[heroSlideDocument]
}

var _ repositories.ContentRepository = (*ContentRepository)(nil)

// NewContentRepository constructs a Firestore-backed content repository.
func NewContentRepository(provider *pfirestore.Provider) (*ContentRepository, error) {
	if provider == nil {
		return nil, errors.New("content repository requires firestore provider")
	}
	return &ContentRepository{
		base: pfirestore.NewBaseRepository[heroSlideDocument](provider, heroSlidesCollection),
	}, nil
}

// ListSlides returns hero slides ordered by position.
func (r *ContentRepository) ListSlides(ctx context.Context, activeOnly bool) ([]domain.HeroSlide, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("content repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if activeOnly {
			q = q.Where("active", "==", true)
		}
		return q.OrderBy("position", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	slides := make([]domain.HeroSlide, 0, len(docs))
	for _, doc := range docs {
		slides = append(slides, decodeHeroSlideDocument(doc.ID, doc.Data))
	}
	return slides, nil
}

// UpsertSlide writes the slide document keyed by its identifier.
func (r *ContentRepository) UpsertSlide(ctx context.Context, slide domain.HeroSlide) (domain.HeroSlide, error) {
	if r == nil || r.base == nil {
		return domain.HeroSlide{}, errors.New("content repository not initialised")
	}
	slideID := strings.TrimSpace(slide.ID)
	if slideID == "" {
		return domain.HeroSlide{}, errors.New("content repository: slide id is required")
	}

	doc := heroSlideDocument{
		Title:     strings.TrimSpace(slide.Title),
		Subtitle:  strings.TrimSpace(slide.Subtitle),
		ImagePath: strings.TrimSpace(slide.ImagePath),
		LinkURL:   strings.TrimSpace(slide.LinkURL),
		Position:  slide.Position,
		Active:    slide.Active,
		CreatedAt: slide.CreatedAt.UTC(),
		UpdatedAt: slide.UpdatedAt.UTC(),
	}
	if err := r.base.Set(ctx, slideID, doc); err != nil {
		return domain.HeroSlide{}, err
	}
	return decodeHeroSlideDocument(slideID, doc), nil
}

// DeleteSlide removes the slide document.
func (r *ContentRepository) DeleteSlide(ctx context.Context, slideID string) error {
	if r == nil || r.base == nil {
		return errors.New("content repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(slideID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("hero_slides.delete", err)
	}
	return nil
}

func decodeHeroSlideDocument(id string, doc heroSlideDocument) domain.HeroSlide {
	return domain.HeroSlide{
		ID:        id,
		Title:     doc.Title,
		Subtitle:  doc.Subtitle,
		ImagePath: doc.ImagePath,
		LinkURL:   doc.LinkURL,
		Position:  doc.Position,
		Active:    doc.Active,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
