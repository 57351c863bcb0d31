package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/go-user-directory/app/observability/metrics"
	"github.com/FACorreiaa/go-user-directory/internal/api"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

var _ AuthRepo = (*PostgresAuthRepo)(nil)

// AuthRepo defines the credential-store lookups the auth flow needs.
// Soft-deleted users are invisible to every method.
type AuthRepo interface {
	// GetUserByUsername returns the full record for a live user, hash
	// included. Returns types.ErrNotFound when absent or soft-deleted.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)

	// GetUserByID returns the full record for a live user by id.
	GetUserByID(ctx context.Context, userID int64) (*types.User, error)
}

type PostgresAuthRepo struct {
	logger *slog.Logger
	pgpool api.PGPool
}

func NewPostgresAuthRepo(pgpool api.PGPool, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userColumns = `id, name, username, password_hash, role, created_by, updated_by, created_at, updated_at, deleted_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Name, &u.Username, &u.PasswordHash, &u.Role,
		&u.CreatedBy, &u.UpdatedBy, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresAuthRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	start := time.Now()
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 AND deleted_at IS NULL`,
		username)
	user, err := scanUser(row)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

func (r *PostgresAuthRepo) GetUserByID(ctx context.Context, userID int64) (*types.User, error) {
	start := time.Now()
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`,
		userID)
	user, err := scanUser(row)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}
