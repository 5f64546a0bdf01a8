package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

type memoryProductRepository struct {
	products map[string]domain.Product
}

func newMemoryProductRepository() *memoryProductRepository {
	return &memoryProductRepository{products: make(map[string]domain.Product)}
}

func (r *memoryProductRepository) List(_ context.Context, filter repositories.ProductFilter) (domain.CursorPage[domain.Product], error) {
	page := domain.CursorPage[domain.Product]{}
	for _, product := range r.products {
		if filter.CategoryID != "" && product.CategoryID != filter.CategoryID {
			continue
		}
		if filter.InStockOnly && !product.InStock {
			continue
		}
		page.Items = append(page.Items, product)
	}
	return page, nil
}

func (r *memoryProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFoundError{msg: "product missing"}
	}
	return product, nil
}

func (r *memoryProductRepository) Upsert(_ context.Context, product domain.Product) (domain.Product, error) {
	if existing, ok := r.products[product.ID]; ok && product.CreatedAt.IsZero() {
		product.CreatedAt = existing.CreatedAt
	}
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryProductRepository) Delete(_ context.Context, productID string) error {
	if _, ok := r.products[productID]; !ok {
		return notFoundError{msg: "product missing"}
	}
	delete(r.products, productID)
	return nil
}

type memoryCategoryRepository struct {
	categories map[string]domain.Category
}

func newMemoryCategoryRepository() *memoryCategoryRepository {
	return &memoryCategoryRepository{categories: make(map[string]domain.Category)}
}

func (r *memoryCategoryRepository) List(context.Context) ([]domain.Category, error) {
	out := make([]domain.Category, 0, len(r.categories))
	for _, category := range r.categories {
		out = append(out, category)
	}
	return out, nil
}

func (r *memoryCategoryRepository) Upsert(_ context.Context, category domain.Category) (domain.Category, error) {
	r.categories[category.ID] = category
	return category, nil
}

func (r *memoryCategoryRepository) Delete(_ context.Context, categoryID string) error {
	delete(r.categories, categoryID)
	return nil
}

type recordingAudit struct {
	records []AuditLogRecord
}

func (a *recordingAudit) Record(_ context.Context, record AuditLogRecord) {
	a.records = append(a.records, record)
}

func (a *recordingAudit) List(context.Context, AuditLogQuery) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, nil
}

func newTestCatalogService(t *testing.T, products *memoryProductRepository, audit AuditLogService) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:   products,
		Categories: newMemoryCategoryRepository(),
		Audit:      audit,
		Clock:      func() time.Time { return time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func TestSaveProductNew(t *testing.T) {
	products := newMemoryProductRepository()
	audit := &recordingAudit{}
	svc := newTestCatalogService(t, products, audit)

	product, err := svc.SaveProduct(context.Background(), SaveProductCommand{
		Name:        "  Silk Paisley Scarf  ",
		DesignCode:  "sp-201",
		Description: "<script>alert(1)</script>Hand printed in Jaipur",
		Price:       2499,
		CategoryID:  "cat_silk",
		InStock:     true,
	})
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	if !strings.HasPrefix(product.ID, "prd_") {
		t.Fatalf("product id = %q", product.ID)
	}
	if product.Name != "Silk Paisley Scarf" {
		t.Fatalf("name = %q", product.Name)
	}
	if product.DesignCode != "SP-201" {
		t.Fatalf("design code = %q, want uppercased", product.DesignCode)
	}
	if product.Slug != "silk-paisley-scarf" {
		t.Fatalf("slug = %q", product.Slug)
	}
	if strings.Contains(product.Description, "<script>") {
		t.Fatalf("description not sanitised: %q", product.Description)
	}
	if !strings.Contains(product.Description, "Hand printed in Jaipur") {
		t.Fatalf("description text lost: %q", product.Description)
	}
	if product.Currency != "INR" {
		t.Fatalf("currency = %q, want INR default", product.Currency)
	}
	if product.CreatedAt.IsZero() {
		t.Fatal("new product must stamp CreatedAt")
	}

	if len(audit.records) != 1 || audit.records[0].Action != "catalog.product.saved" {
		t.Fatalf("audit records = %+v", audit.records)
	}
}

func TestSaveProductUpdateKeepsID(t *testing.T) {
	products := newMemoryProductRepository()
	svc := newTestCatalogService(t, products, nil)
	ctx := context.Background()

	created, err := svc.SaveProduct(ctx, SaveProductCommand{Name: "Scarf", Price: 100})
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}

	updated, err := svc.SaveProduct(ctx, SaveProductCommand{
		ProductID: created.ID,
		Name:      "Scarf, Revised",
		Price:     150,
	})
	if err != nil {
		t.Fatalf("SaveProduct update: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("id changed: %q -> %q", created.ID, updated.ID)
	}
	if len(products.products) != 1 {
		t.Fatalf("products stored = %d", len(products.products))
	}
}

func TestSaveProductValidation(t *testing.T) {
	svc := newTestCatalogService(t, newMemoryProductRepository(), nil)
	ctx := context.Background()

	if _, err := svc.SaveProduct(ctx, SaveProductCommand{Price: 100}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("missing name error = %v", err)
	}
	if _, err := svc.SaveProduct(ctx, SaveProductCommand{Name: "Scarf", Price: -1}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("negative price error = %v", err)
	}
}

func TestListProductsFilters(t *testing.T) {
	products := newMemoryProductRepository()
	svc := newTestCatalogService(t, products, nil)
	ctx := context.Background()

	seed := []SaveProductCommand{
		{Name: "A", Price: 100, CategoryID: "cat_silk", InStock: true},
		{Name: "B", Price: 200, CategoryID: "cat_silk", InStock: false},
		{Name: "C", Price: 300, CategoryID: "cat_wool", InStock: true},
	}
	for _, cmd := range seed {
		if _, err := svc.SaveProduct(ctx, cmd); err != nil {
			t.Fatalf("SaveProduct: %v", err)
		}
	}

	page, err := svc.ListProducts(ctx, ProductListQuery{CategoryID: "cat_silk", InStockOnly: true})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "A" {
		t.Fatalf("filtered products = %+v", page.Items)
	}
}

func TestGetProductNotFound(t *testing.T) {
	svc := newTestCatalogService(t, newMemoryProductRepository(), nil)

	if _, err := svc.GetProduct(context.Background(), "prd_missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("error = %v, want ErrCatalogNotFound", err)
	}
	if _, err := svc.GetProduct(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("blank id error = %v", err)
	}
}

func TestDeleteProductAuditsAndMapsNotFound(t *testing.T) {
	products := newMemoryProductRepository()
	audit := &recordingAudit{}
	svc := newTestCatalogService(t, products, audit)
	ctx := context.Background()

	created, err := svc.SaveProduct(ctx, SaveProductCommand{Name: "Scarf", Price: 100})
	if err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
	if err := svc.DeleteProduct(ctx, created.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if err := svc.DeleteProduct(ctx, created.ID); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("second delete error = %v", err)
	}

	var sawDelete bool
	for _, record := range audit.records {
		if record.Action == "catalog.product.deleted" {
			sawDelete = true
		}
	}
	if !sawDelete {
		t.Fatalf("audit records = %+v", audit.records)
	}
}

func TestSaveCategorySlug(t *testing.T) {
	svc := newTestCatalogService(t, newMemoryProductRepository(), nil)

	category, err := svc.SaveCategory(context.Background(), SaveCategoryCommand{Name: "Wool & Cashmere"})
	if err != nil {
		t.Fatalf("SaveCategory: %v", err)
	}
	if !strings.HasPrefix(category.ID, "cat_") {
		t.Fatalf("category id = %q", category.ID)
	}
	if category.Slug != "wool-cashmere" {
		t.Fatalf("slug = %q", category.Slug)
	}
}
