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

const searchLogsCollection = "search_logs"

type searchLogDocument struct {
	Term      string    `firestore:"term"`
	RawTerm   string    `firestore:"rawTerm,omitempty"`
	UserID    string    `firestore:"userId,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// SearchLogRepository implements repositories.SearchLogRepository backed by
// Firestore.
type SearchLogRepository struct {
	base *pfirestore.BaseRepository[searchLogDocument]
}

var _ repositories.SearchLogRepository = (*SearchLogRepository)(nil)

// NewSearchLogRepository constructs a Firestore-backed search log repository.
func NewSearchLogRepository(provider *pfirestore.Provider) (*SearchLogRepository, error) {
	if provider == nil {
		return nil, errors.New("search log repository requires firestore provider")
	}
	return &SearchLogRepository{
		base: pfirestore.NewBaseRepository[searchLogDocument](provider, searchLogsCollection),
	}, nil
}

// Insert persists one logged search.
func (r *SearchLogRepository) Insert(ctx context.Context, record domain.SearchRecord) error {
	if r == nil || r.base == nil {
		return errors.New("search log repository not initialised")
	}
	recordID := strings.TrimSpace(record.ID)
	if recordID == "" {
		return errors.New("search log repository: record id is required")
	}

	ref, err := r.base.DocumentRef(ctx, recordID)
	if err != nil {
		return err
	}
	doc := searchLogDocument{
		Term:      strings.TrimSpace(record.Term),
		RawTerm:   strings.TrimSpace(record.RawTerm),
		UserID:    strings.TrimSpace(record.UserID),
		CreatedAt: record.CreatedAt.UTC(),
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("search_logs.insert", err)
	}
	return nil
}

// List returns logged searches newest first, optionally filtered to one term.
func (r *SearchLogRepository) List(ctx context.Context, filter repositories.SearchLogFilter) (domain.CursorPage[domain.SearchRecord], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.SearchRecord]{}, errors.New("search log repository not initialised")
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
			return domain.CursorPage[domain.SearchRecord]{}, fmt.Errorf("search log repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	term := strings.TrimSpace(filter.Term)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if term != "" {
			q = q.Where("term", "==", term)
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
		return domain.CursorPage[domain.SearchRecord]{}, err
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

	items := make([]domain.SearchRecord, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, domain.SearchRecord{
			ID:        doc.ID,
			Term:      doc.Data.Term,
			RawTerm:   doc.Data.RawTerm,
			UserID:    doc.Data.UserID,
			CreatedAt: doc.Data.CreatedAt,
		})
	}
	return domain.CursorPage[domain.SearchRecord]{Items: items, NextPageToken: nextToken}, nil
}
