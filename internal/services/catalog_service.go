package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

const (
	productIDPrefix  = "prd_"
	categoryIDPrefix = "cat_"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the requested product or category does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products   repositories.ProductRepository
	Categories repositories.CategoryRepository
	Audit      AuditLogService
	Clock      func() time.Time
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	audit      AuditLogService
	clock      func() time.Time
	sanitizer  *bluemonday.Policy
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, fmt.Errorf("catalog service: category repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		audit:      deps.Audit,
		clock:      func() time.Time { return clock().UTC() },
		// Descriptions come from the admin form as free text; strip any
		// markup before it reaches the storefront.
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

var _ CatalogService = (*catalogService)(nil)

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductFilter{
		CategoryID:  strings.TrimSpace(query.CategoryID),
		InStockOnly: query.InStockOnly,
		Pagination:  query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, mapCatalogRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, mapCatalogRepositoryError(err)
	}
	return categories, nil
}

func (s *catalogService) SaveProduct(ctx context.Context, cmd SaveProductCommand) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}

	now := s.clock()
	product := domain.Product{
		ID:          strings.TrimSpace(cmd.ProductID),
		Name:        name,
		DesignCode:  strings.ToUpper(strings.TrimSpace(cmd.DesignCode)),
		Slug:        normalizeSlug(cmd.Slug, name),
		Description: s.sanitizer.Sanitize(strings.TrimSpace(cmd.Description)),
		Price:       cmd.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		ImageURL:    strings.TrimSpace(cmd.ImageURL),
		CategoryID:  strings.TrimSpace(cmd.CategoryID),
		InStock:     cmd.InStock,
		UpdatedAt:   now,
	}
	if product.Currency == "" {
		product.Currency = defaultCurrency
	}
	if product.ID == "" {
		product.ID = productIDPrefix + ulid.Make().String()
		product.CreatedAt = now
	}

	saved, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	s.recordAudit(ctx, "catalog.product.saved", "product/"+saved.ID)
	return saved, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return mapCatalogRepositoryError(err)
	}
	s.recordAudit(ctx, "catalog.product.deleted", "product/"+productID)
	return nil
}

func (s *catalogService) SaveCategory(ctx context.Context, cmd SaveCategoryCommand) (Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}

	category := domain.Category{
		ID:       strings.TrimSpace(cmd.CategoryID),
		Name:     name,
		Slug:     normalizeSlug(cmd.Slug, name),
		ImageURL: strings.TrimSpace(cmd.ImageURL),
	}
	if category.ID == "" {
		category.ID = categoryIDPrefix + ulid.Make().String()
		category.CreatedAt = s.clock()
	}

	saved, err := s.categories.Upsert(ctx, category)
	if err != nil {
		return Category{}, mapCatalogRepositoryError(err)
	}
	s.recordAudit(ctx, "catalog.category.saved", "category/"+saved.ID)
	return saved, nil
}

func (s *catalogService) recordAudit(ctx context.Context, action, targetRef string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Action:    action,
		TargetRef: targetRef,
	})
}

func normalizeSlug(slug, fallback string) string {
	value := strings.ToLower(strings.TrimSpace(slug))
	if value == "" {
		value = strings.ToLower(strings.TrimSpace(fallback))
	}
	value = slugSanitizer.ReplaceAllString(value, "-")
	return strings.Trim(value, "-")
}

func mapCatalogRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
	}
	return err
}
