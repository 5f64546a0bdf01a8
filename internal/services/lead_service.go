package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/textutil"
	"github.com/loomline/api/internal/repositories"
)

const leadIDPrefix = "lead_"

var (
	// ErrLeadInvalidInput indicates a malformed lead capture payload.
	ErrLeadInvalidInput = errors.New("lead service: invalid input")
	// ErrLeadNotFound indicates the requested lead does not exist.
	ErrLeadNotFound = errors.New("lead service: not found")
)

// LeadServiceDeps bundles constructor inputs for the wishlist lead service.
type LeadServiceDeps struct {
	Leads  repositories.LeadRepository
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type leadService struct {
	leads  repositories.LeadRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewLeadService constructs the wishlist lead service.
func NewLeadService(deps LeadServiceDeps) (LeadService, error) {
	if deps.Leads == nil {
		return nil, errors.New("lead service: lead repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &leadService{
		leads:  deps.Leads,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

var _ LeadService = (*leadService)(nil)

// CaptureLead records buying interest for a product. Either an email or a
// phone number is enough to follow up on.
func (s *leadService) CaptureLead(ctx context.Context, cmd CaptureLeadCommand) (WishlistLead, error) {
	// Unicode folding so "Asha@Example.com" and its fullwidth or composed
	// variants dedupe to one outreach contact.
	email := textutil.FoldEmail(cmd.Email)
	phone := strings.TrimSpace(cmd.Phone)
	if email == "" && phone == "" {
		return WishlistLead{}, fmt.Errorf("%w: email or phone is required", ErrLeadInvalidInput)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return WishlistLead{}, fmt.Errorf("%w: email is malformed", ErrLeadInvalidInput)
		}
	}
	productRef := strings.TrimSpace(cmd.ProductRef)
	if productRef == "" {
		return WishlistLead{}, fmt.Errorf("%w: product reference is required", ErrLeadInvalidInput)
	}

	lead := domain.WishlistLead{
		ID:         leadIDPrefix + ulid.Make().String(),
		Email:      email,
		Phone:      phone,
		ProductRef: productRef,
		Note:       strings.TrimSpace(cmd.Note),
		CreatedAt:  s.clock(),
	}
	if err := s.leads.Insert(ctx, lead); err != nil {
		return WishlistLead{}, err
	}
	s.logger(ctx, "lead.captured", map[string]any{
		"leadId":     lead.ID,
		"productRef": productRef,
	})
	return lead, nil
}

func (s *leadService) ListLeads(ctx context.Context, query LeadListQuery) (domain.CursorPage[WishlistLead], error) {
	return s.leads.List(ctx, repositories.LeadFilter{
		ProductRef: strings.TrimSpace(query.ProductRef),
		Pagination: query.Pagination,
	})
}

func (s *leadService) DeleteLead(ctx context.Context, leadID string) error {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return fmt.Errorf("%w: lead id is required", ErrLeadInvalidInput)
	}
	if err := s.leads.Delete(ctx, leadID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
		}
		return err
	}
	return nil
}
