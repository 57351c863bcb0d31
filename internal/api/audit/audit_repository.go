package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/go-user-directory/app/observability/metrics"
	"github.com/FACorreiaa/go-user-directory/internal/api"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

// Repo records change-history rows and serves the admin listing.
// Record runs on the caller's transaction so a log entry commits or
// rolls back together with the mutation it describes.
type Repo interface {
	Record(ctx context.Context, tx pgx.Tx, entry *types.AuditLogEntry) error
	ListEntries(ctx context.Context, filter types.AuditLogFilter) (*types.AuditLogPage, error)
}

type PostgresAuditRepo struct {
	logger *slog.Logger
	pgpool api.PGPool
}

var _ Repo = (*PostgresAuditRepo)(nil)

func NewPostgresAuditRepo(pgpool api.PGPool, logger *slog.Logger) *PostgresAuditRepo {
	return &PostgresAuditRepo{logger: logger, pgpool: pgpool}
}

func (r *PostgresAuditRepo) Record(ctx context.Context, tx pgx.Tx, entry *types.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	start := time.Now()
	_, err := tx.Exec(ctx, `
        INSERT INTO audit_logs (id, actor_id, entity, entity_id, action, before, after)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.ActorID, entry.Entity, entry.EntityID, entry.Action, entry.Before, entry.After)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepo) ListEntries(ctx context.Context, filter types.AuditLogFilter) (*types.AuditLogPage, error) {
	filter.Normalize()

	where := "WHERE 1=1"
	args := []interface{}{}
	if filter.EntityID != 0 {
		args = append(args, filter.EntityID)
		where += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}

	var total int64
	start := time.Now()
	if err := r.pgpool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	args = append(args, filter.Limit, offset)
	query := fmt.Sprintf(`
        SELECT id, actor_id, entity, entity_id, action, before, after, created_at
        FROM audit_logs %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pgpool.Query(ctx, query, args...)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]types.AuditLogEntry, 0, filter.Limit)
	for rows.Next() {
		var e types.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Entity, &e.EntityID, &e.Action, &e.Before, &e.After, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	totalPage := (total + int64(filter.Limit) - 1) / int64(filter.Limit)
	return &types.AuditLogPage{
		Data: entries,
		Metadata: types.PageMetadata{
			TotalData:   total,
			TotalPage:   int(totalPage),
			CurrentPage: filter.Page,
			PerPage:     filter.Limit,
		},
	}, nil
}
