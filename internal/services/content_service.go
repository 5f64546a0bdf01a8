package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/storage"
	"github.com/loomline/api/internal/platform/textutil"
	"github.com/loomline/api/internal/repositories"
)

const (
	slideIDPrefix        = "hero_"
	slideUploadExpiry    = 15 * time.Minute
	slideUploadSizeLimit = 10 << 20
)

var slideUploadContentTypes = []string{"image/jpeg", "image/png", "image/webp", "image/avif"}

var (
	// ErrContentInvalidInput indicates an invalid slide mutation payload.
	ErrContentInvalidInput = errors.New("content service: invalid input")
	// ErrContentNotFound indicates the requested slide does not exist.
	ErrContentNotFound = errors.New("content service: not found")
)

// SlideUploadSigner issues signed upload URLs for slide image objects.
type SlideUploadSigner interface {
	SignedUploadURL(ctx context.Context, bucket, object string, opts storage.UploadOptions) (storage.SignedURLResult, error)
}

// ContentServiceDeps bundles constructor inputs for the content service.
type ContentServiceDeps struct {
	Content repositories.ContentRepository
	Signer  SlideUploadSigner
	Bucket  string
	Audit   AuditLogService
	Clock   func() time.Time
}

type contentService struct {
	content repositories.ContentRepository
	signer  SlideUploadSigner
	bucket  string
	audit   AuditLogService
	clock   func() time.Time
}

// NewContentService constructs the hero content service.
func NewContentService(deps ContentServiceDeps) (ContentService, error) {
	if deps.Content == nil {
		return nil, errors.New("content service: content repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &contentService{
		content: deps.Content,
		signer:  deps.Signer,
		bucket:  strings.TrimSpace(deps.Bucket),
		audit:   deps.Audit,
		clock:   func() time.Time { return clock().UTC() },
	}, nil
}

var _ ContentService = (*contentService)(nil)

func (s *contentService) ListHeroSlides(ctx context.Context, activeOnly bool) ([]HeroSlide, error) {
	slides, err := s.content.ListSlides(ctx, activeOnly)
	if err != nil {
		return nil, mapContentRepositoryError(err)
	}
	return slides, nil
}

func (s *contentService) SaveHeroSlide(ctx context.Context, cmd SaveHeroSlideCommand) (HeroSlide, error) {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return HeroSlide{}, fmt.Errorf("%w: title is required", ErrContentInvalidInput)
	}
	if cmd.Position < 0 {
		return HeroSlide{}, fmt.Errorf("%w: position must not be negative", ErrContentInvalidInput)
	}

	slide := domain.HeroSlide{
		ID:        strings.TrimSpace(cmd.SlideID),
		Title:     title,
		Subtitle:  strings.TrimSpace(cmd.Subtitle),
		ImagePath: strings.TrimSpace(cmd.ImagePath),
		LinkURL:   strings.TrimSpace(cmd.LinkURL),
		Position:  cmd.Position,
		Active:    cmd.Active,
		UpdatedAt: s.clock(),
	}
	if slide.ID == "" {
		slide.ID = slideIDPrefix + ulid.Make().String()
		slide.CreatedAt = slide.UpdatedAt
	}

	saved, err := s.content.UpsertSlide(ctx, slide)
	if err != nil {
		return HeroSlide{}, mapContentRepositoryError(err)
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Action:    "content.slide.saved",
			TargetRef: "slide/" + saved.ID,
		})
	}
	return saved, nil
}

func (s *contentService) DeleteHeroSlide(ctx context.Context, slideID string) error {
	slideID = strings.TrimSpace(slideID)
	if slideID == "" {
		return fmt.Errorf("%w: slide id is required", ErrContentInvalidInput)
	}
	if err := s.content.DeleteSlide(ctx, slideID); err != nil {
		return mapContentRepositoryError(err)
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Action:    "content.slide.deleted",
			TargetRef: "slide/" + slideID,
		})
	}
	return nil
}

// CreateSlideUploadURL issues a short-lived signed PUT URL so the admin UI
// uploads slide imagery straight to the bucket. The returned object path goes
// into SaveHeroSlideCommand.ImagePath once the upload completes.
func (s *contentService) CreateSlideUploadURL(ctx context.Context, cmd SlideUploadCommand) (SlideUploadResult, error) {
	if s.signer == nil || s.bucket == "" {
		return SlideUploadResult{}, errors.New("content service: upload signing not configured")
	}
	fileName := strings.TrimSpace(cmd.FileName)
	if fileName == "" {
		return SlideUploadResult{}, fmt.Errorf("%w: file name is required", ErrContentInvalidInput)
	}
	contentType := strings.TrimSpace(cmd.ContentType)
	if contentType == "" {
		return SlideUploadResult{}, fmt.Errorf("%w: content type is required", ErrContentInvalidInput)
	}

	objectPath, err := storage.BuildObjectPath(storage.PurposeHeroSlide, storage.PathParams{
		SlideID:  strings.ToLower(ulid.Make().String()),
		FileName: fileName,
	})
	if err != nil {
		return SlideUploadResult{}, fmt.Errorf("%w: %v", ErrContentInvalidInput, err)
	}

	signed, err := s.signer.SignedUploadURL(ctx, s.bucket, objectPath, storage.UploadOptions{
		Method:              "PUT",
		ContentType:         contentType,
		AllowedContentTypes: slideUploadContentTypes,
		MaxSize:             slideUploadSizeLimit,
		ExpiresIn:           slideUploadExpiry,
	})
	if err != nil {
		return SlideUploadResult{}, err
	}

	return SlideUploadResult{
		URL:        signed.URL,
		ObjectPath: objectPath,
		ExpiresAt:  signed.ExpiresAt,
		Headers:    textutil.NormalizeStringMap(signed.Headers),
	}, nil
}

func mapContentRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrContentNotFound, err)
	}
	return err
}
