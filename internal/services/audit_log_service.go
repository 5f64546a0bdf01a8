package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

const (
	defaultAuditSeverity = "info"
	defaultActorType     = "admin"
	maxAuditTextLen      = 256
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	logger AuditLogger
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	Logger     AuditLogger
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

var _ AuditLogService = (*auditLogService)(nil)

// Record persists an audit log entry. Repository failures are logged but do
// not bubble up to callers, so the primary mutation is never interrupted by
// a trail write.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if entry.Action == "" {
		s.logger.Warnf("audit log entry dropped: missing action")
		return
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List delegates to the repository to retrieve paginated audit logs.
func (s *auditLogService) List(ctx context.Context, filter AuditLogQuery) (domain.CursorPage[AuditLogEntry], error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		Actor:      strings.TrimSpace(filter.Actor),
		Action:     strings.TrimSpace(filter.Action),
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Pagination: filter.Pagination,
	})
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	severity := strings.ToLower(strings.TrimSpace(record.Severity))
	switch severity {
	case "info", "warning", "critical":
	default:
		severity = defaultAuditSeverity
	}

	actorType := strings.ToLower(strings.TrimSpace(record.ActorType))
	if actorType == "" {
		actorType = defaultActorType
	}

	return domain.AuditLogEntry{
		Actor:     sanitizeAuditText(record.Actor),
		ActorType: actorType,
		Action:    sanitizeAuditText(record.Action),
		TargetRef: sanitizeAuditText(record.TargetRef),
		Metadata:  record.Metadata,
		Diff:      record.Diff,
		Severity:  severity,
		RequestID: sanitizeAuditText(record.RequestID),
		CreatedAt: s.clock(),
	}
}

func sanitizeAuditText(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > maxAuditTextLen {
		value = value[:maxAuditTextLen]
	}
	return value
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}
