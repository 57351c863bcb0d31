package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/go-user-directory/app/observability/metrics"
	"github.com/FACorreiaa/go-user-directory/internal/api"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

// Repo serves aggregate reports computed in the database.
type Repo interface {
	ActiveUserCountByRole(ctx context.Context) ([]types.RoleCount, error)
}

type PostgresReportRepo struct {
	logger *slog.Logger
	pgpool api.PGPool
}

var _ Repo = (*PostgresReportRepo)(nil)

func NewPostgresReportRepo(pgpool api.PGPool, logger *slog.Logger) *PostgresReportRepo {
	return &PostgresReportRepo{logger: logger, pgpool: pgpool}
}

func (r *PostgresReportRepo) ActiveUserCountByRole(ctx context.Context) ([]types.RoleCount, error) {
	start := time.Now()
	rows, err := r.pgpool.Query(ctx, `SELECT role, active_users FROM get_active_user_count_by_role()`)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("active user count by role: %w", err)
	}
	defer rows.Close()

	counts := []types.RoleCount{}
	for rows.Next() {
		var rc types.RoleCount
		if err := rows.Scan(&rc.Role, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		counts = append(counts, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return counts, nil
}
