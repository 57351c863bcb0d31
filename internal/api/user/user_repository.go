package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/go-user-directory/app/observability/metrics"
	"github.com/FACorreiaa/go-user-directory/internal/api"
	"github.com/FACorreiaa/go-user-directory/internal/api/audit"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

var _ UserRepo = (*PostgresUserRepo)(nil)

// CreateUserRecord is the persistence-level input for a new user; the
// service layer has already hashed the password at this point.
type CreateUserRecord struct {
	Name         string
	Username     string
	PasswordHash string
	Role         types.Role
	CreatedBy    string
}

// UserRepo is the persistence boundary of the directory. Every mutation
// writes its audit entry on the same transaction as the row change.
type UserRepo interface {
	ListUsers(ctx context.Context, filter types.UserFilter) ([]types.UserProfile, int64, error)
	GetUserByID(ctx context.Context, userID int64) (*types.UserProfile, error)
	// GetUserRecord returns the full live record, hash included. Used for
	// the admin password re-check on deletes.
	GetUserRecord(ctx context.Context, userID int64) (*types.User, error)
	CreateUser(ctx context.Context, rec CreateUserRecord, actorID int64) (*types.User, error)
	UpdateUser(ctx context.Context, userID int64, params types.UpdateUserParams, actorID int64, actorTag string) (*types.User, error)
	SoftDeleteUser(ctx context.Context, userID int64, actorID int64) error
	// ExportUsers returns every live row matching the filter predicate,
	// ignoring pagination.
	ExportUsers(ctx context.Context, filter types.UserFilter) ([]types.UserProfile, error)
}

type PostgresUserRepo struct {
	logger    *slog.Logger
	pgpool    api.PGPool
	auditRepo audit.Repo
}

func NewPostgresUserRepo(pgpool api.PGPool, auditRepo audit.Repo, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
		logger:    logger,
		pgpool:    pgpool,
		auditRepo: auditRepo,
	}
}

const profileColumns = `id, name, username, role, created_at, updated_at`

// sortColumns whitelists the ORDER BY targets; anything else falls back
// to created_at.
var sortColumns = map[string]string{
	"name":       "name",
	"username":   "username",
	"role":       "role",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func scanProfile(row pgx.Row) (*types.UserProfile, error) {
	var p types.UserProfile
	err := row.Scan(&p.ID, &p.Name, &p.Username, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// buildFilter renders the shared WHERE clause for listings and exports.
func buildFilter(filter types.UserFilter) (string, []interface{}) {
	where := "WHERE deleted_at IS NULL"
	args := []interface{}{}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		n := len(args)
		where += fmt.Sprintf(" AND (name ILIKE $%d OR username ILIKE $%d)", n, n)
	}
	if filter.Role != "" {
		args = append(args, filter.Role)
		where += fmt.Sprintf(" AND role = $%d", len(args))
	}
	return where, args
}

func orderClause(filter types.UserFilter) string {
	col, ok := sortColumns[filter.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if filter.SortDir == "asc" {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s", col, dir)
}

func (r *PostgresUserRepo) ListUsers(ctx context.Context, filter types.UserFilter) ([]types.UserProfile, int64, error) {
	where, args := buildFilter(filter)

	var total int64
	start := time.Now()
	if err := r.pgpool.QueryRow(ctx, "SELECT COUNT(*) FROM users "+where, args...).Scan(&total); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	args = append(args, filter.Limit, offset)
	query := fmt.Sprintf("SELECT %s FROM users %s %s LIMIT $%d OFFSET $%d",
		profileColumns, where, orderClause(filter), len(args)-1, len(args))

	rows, err := r.pgpool.Query(ctx, query, args...)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	profiles := make([]types.UserProfile, 0, filter.Limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user row: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate user rows: %w", err)
	}
	return profiles, total, nil
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, userID int64) (*types.UserProfile, error) {
	start := time.Now()
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`,
		userID)
	profile, err := scanProfile(row)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return profile, nil
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

func (r *PostgresUserRepo) GetUserRecord(ctx context.Context, userID int64) (*types.User, error) {
	row := r.pgpool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`,
		userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get user record: %w", err)
	}
	return user, nil
}

// isUniqueViolation reports a duplicate-key failure, used to surface
// username conflicts as types.ErrConflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, rec CreateUserRecord, actorID int64) (*types.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start := time.Now()
	row := tx.QueryRow(ctx, `
        INSERT INTO users (name, username, password_hash, role, created_by)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+userColumns,
		rec.Name, rec.Username, rec.PasswordHash, rec.Role, rec.CreatedBy)
	created, err := scanUser(row)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", rec.Username, types.ErrConflict)
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("insert user: %w", err)
	}

	// The snapshot carries the whole row; the password hash stays out via
	// the struct's json tag.
	after, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	entry := &types.AuditLogEntry{
		ActorID:  actorID,
		Entity:   "user",
		EntityID: created.ID,
		Action:   types.AuditCreate,
		After:    after,
	}
	if err := r.auditRepo.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) UpdateUser(ctx context.Context, userID int64, params types.UpdateUserParams, actorID int64, actorTag string) (*types.User, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		userID)
	before, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("lock user row: %w", err)
	}

	name := before.Name
	username := before.Username
	role := before.Role
	if params.Name != nil {
		name = *params.Name
	}
	if params.Username != nil {
		username = *params.Username
	}
	if params.Role != nil {
		role = *params.Role
	}

	start := time.Now()
	row = tx.QueryRow(ctx, `
        UPDATE users
        SET name = $1, username = $2, role = $3, updated_by = $4, updated_at = NOW()
        WHERE id = $5
        RETURNING `+userColumns,
		name, username, role, actorTag, userID)
	updated, err := scanUser(row)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", username, types.ErrConflict)
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("update user: %w", err)
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	afterJSON, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	entry := &types.AuditLogEntry{
		ActorID:  actorID,
		Entity:   "user",
		EntityID: userID,
		Action:   types.AuditUpdate,
		Before:   beforeJSON,
		After:    afterJSON,
	}
	if err := r.auditRepo.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

func (r *PostgresUserRepo) SoftDeleteUser(ctx context.Context, userID int64, actorID int64) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		userID)
	before, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.ErrNotFound
		}
		return fmt.Errorf("lock user row: %w", err)
	}

	start := time.Now()
	var deletedAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE users SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 RETURNING deleted_at`,
		userID).Scan(&deletedAt)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("soft delete user: %w", err)
	}

	// Deletes record the whole old row, attribution columns included.
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("marshal audit snapshot: %w", err)
	}
	afterJSON, err := json.Marshal(map[string]time.Time{"deleted_at": deletedAt})
	if err != nil {
		return fmt.Errorf("marshal audit snapshot: %w", err)
	}
	entry := &types.AuditLogEntry{
		ActorID:  actorID,
		Entity:   "user",
		EntityID: userID,
		Action:   types.AuditDelete,
		Before:   beforeJSON,
		After:    afterJSON,
	}
	if err := r.auditRepo.Record(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) ExportUsers(ctx context.Context, filter types.UserFilter) ([]types.UserProfile, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf("SELECT %s FROM users %s %s", profileColumns, where, orderClause(filter))

	start := time.Now()
	rows, err := r.pgpool.Query(ctx, query, args...)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("export users: %w", err)
	}
	defer rows.Close()

	profiles := []types.UserProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return profiles, nil
}
