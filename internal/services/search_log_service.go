package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/textutil"
	"github.com/loomline/api/internal/repositories"
)

const (
	searchIDPrefix      = "srch_"
	minSearchTermLength = 2
	maxSearchTermLength = 120
)

var (
	// ErrSearchInvalidInput indicates a malformed search log payload.
	ErrSearchInvalidInput = errors.New("search log: invalid input")
	// ErrSearchTermSkipped indicates the term was too short to be worth
	// logging. Handlers treat this as success.
	ErrSearchTermSkipped = errors.New("search log: term skipped")
)

// SearchLogServiceDeps bundles constructor inputs for the search log service.
type SearchLogServiceDeps struct {
	Searches repositories.SearchLogRepository
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type searchLogService struct {
	searches repositories.SearchLogRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewSearchLogService constructs the search log service.
func NewSearchLogService(deps SearchLogServiceDeps) (SearchLogService, error) {
	if deps.Searches == nil {
		return nil, errors.New("search log: search repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &searchLogService{
		searches: deps.Searches,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

var _ SearchLogService = (*searchLogService)(nil)

// RecordSearch folds and persists a storefront search term. Terms shorter
// than two characters after folding are skipped rather than rejected.
func (s *searchLogService) RecordSearch(ctx context.Context, cmd RecordSearchCommand) (SearchRecord, error) {
	raw := strings.TrimSpace(cmd.Term)
	if raw == "" {
		return SearchRecord{}, fmt.Errorf("%w: term is required", ErrSearchInvalidInput)
	}
	if utf8.RuneCountInString(raw) > maxSearchTermLength {
		return SearchRecord{}, fmt.Errorf("%w: term exceeds %d characters", ErrSearchInvalidInput, maxSearchTermLength)
	}

	term := textutil.Fold(raw)
	if utf8.RuneCountInString(term) < minSearchTermLength {
		return SearchRecord{}, fmt.Errorf("%w: %q", ErrSearchTermSkipped, raw)
	}

	record := domain.SearchRecord{
		ID:        searchIDPrefix + ulid.Make().String(),
		Term:      term,
		RawTerm:   raw,
		UserID:    strings.TrimSpace(cmd.UserID),
		CreatedAt: s.clock(),
	}
	if err := s.searches.Insert(ctx, record); err != nil {
		return SearchRecord{}, err
	}
	s.logger(ctx, "search.recorded", map[string]any{
		"searchId": record.ID,
		"term":     term,
	})
	return record, nil
}

func (s *searchLogService) ListSearches(ctx context.Context, query SearchListQuery) (domain.CursorPage[SearchRecord], error) {
	return s.searches.List(ctx, repositories.SearchLogFilter{
		Term:       textutil.Fold(query.Term),
		Pagination: query.Pagination,
	})
}
