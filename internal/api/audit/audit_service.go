package audit

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/go-user-directory/internal/types"
)

// Service serves the read side of the audit log. Writes go through
// Repo.Record on the mutating transaction and never pass through here.
type Service interface {
	ListEntries(ctx context.Context, filter types.AuditLogFilter) (*types.AuditLogPage, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repo
}

var _ Service = (*ServiceImpl)(nil)

func NewService(repo Repo, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{logger: logger, repo: repo}
}

func (s *ServiceImpl) ListEntries(ctx context.Context, filter types.AuditLogFilter) (*types.AuditLogPage, error) {
	ctx, span := otel.Tracer("AuditService").Start(ctx, "ListEntries")
	defer span.End()

	page, err := s.repo.ListEntries(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list audit entries")
		s.logger.ErrorContext(ctx, "failed to list audit entries", slog.Any("error", err))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("audit.total", page.Metadata.TotalData))
	return page, nil
}
