package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

const leadsCollection = "wishlist_leads"

type leadDocument struct {
	Email      string    `firestore:"email"`
	Phone      string    `firestore:"phone,omitempty"`
	ProductRef string    `firestore:"productRef,omitempty"`
	Note       string    `firestore:"note,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

// LeadRepository implements repositories.LeadRepository backed by Firestore.
type LeadRepository struct {
	base *pfirestore.BaseRepository[leadDocument]
}

var _ repositories.LeadRepository = (*LeadRepository)(nil)

// NewLeadRepository constructs a Firestore-backed wishlist lead repository.
func NewLeadRepository(provider *pfirestore.Provider) (*LeadRepository, error) {
	if provider == nil {
		return nil, errors.New("lead repository requires firestore provider")
	}
	return &LeadRepository{
		base: pfirestore.NewBaseRepository[leadDocument](provider, leadsCollection),
	}, nil
}

// Insert persists a captured lead.
func (r *LeadRepository) Insert(ctx context.Context, lead domain.WishlistLead) error {
	if r == nil || r.base == nil {
		return errors.New("lead repository not initialised")
	}
	leadID := strings.TrimSpace(lead.ID)
	if leadID == "" {
		return errors.New("lead repository: lead id is required")
	}

	ref, err := r.base.DocumentRef(ctx, leadID)
	if err != nil {
		return err
	}
	doc := leadDocument{
		Email:      domain.NormalizeEmail(lead.Email),
		Phone:      strings.TrimSpace(lead.Phone),
		ProductRef: strings.TrimSpace(lead.ProductRef),
		Note:       strings.TrimSpace(lead.Note),
		CreatedAt:  lead.CreatedAt.UTC(),
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("wishlist_leads.insert", err)
	}
	return nil
}

// List returns leads newest first applying the optional product filter.
func (r *LeadRepository) List(ctx context.Context, filter repositories.LeadFilter) (domain.CursorPage[domain.WishlistLead], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.WishlistLead]{}, errors.New("lead repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.WishlistLead]{}, fmt.Errorf("lead repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	productRef := strings.TrimSpace(filter.ProductRef)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if productRef != "" {
			q = q.Where("productRef", "==", productRef)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.WishlistLead]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.WishlistLead, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, domain.WishlistLead{
			ID:         doc.ID,
			Email:      doc.Data.Email,
			Phone:      doc.Data.Phone,
			ProductRef: doc.Data.ProductRef,
			Note:       doc.Data.Note,
			CreatedAt:  doc.Data.CreatedAt,
		})
	}
	return domain.CursorPage[domain.WishlistLead]{Items: items, NextPageToken: nextToken}, nil
}

// Delete removes a lead record.
func (r *LeadRepository) Delete(ctx context.Context, leadID string) error {
	if r == nil || r.base == nil {
		return errors.New("lead repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(leadID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("wishlist_leads.delete", err)
	}
	return nil
}
