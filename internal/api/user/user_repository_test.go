package user

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-user-directory/internal/api/audit"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

func setupUserRepoTest(t *testing.T) (*PostgresUserRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditRepo := audit.NewPostgresAuditRepo(mockPool, logger)
	return NewPostgresUserRepo(mockPool, auditRepo, logger), mockPool
}

func fullUserRow(now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "username", "password_hash", "role",
		"created_by", "updated_by", "created_at", "updated_at", "deleted_at",
	}).AddRow(int64(2), "Jane", "jane1234", "$2a$10$hash", types.RoleUser,
		"1", (*string)(nil), now, now, (*time.Time)(nil))
}

// jsonWithKeys matches a jsonb argument that decodes to an object carrying
// every listed key and never the password hash.
type jsonWithKeys []string

func (keys jsonWithKeys) Match(v interface{}) bool {
	raw, ok := v.(json.RawMessage)
	if !ok {
		return false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for _, k := range keys {
		if _, present := doc[k]; !present {
			return false
		}
	}
	_, leaked := doc["password_hash"]
	return !leaked
}

func TestPostgresUserRepo_GetUserByID(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		rows := pgxmock.NewRows([]string{"id", "name", "username", "role", "created_at", "updated_at"}).
			AddRow(int64(2), "Jane", "jane1234", types.RoleUser, now, now)
		mockPool.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1 AND deleted_at IS NULL`).
			WithArgs(int64(2)).
			WillReturnRows(rows)

		profile, err := repo.GetUserByID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "jane1234", profile.Username)
		assert.Equal(t, types.RoleUser, profile.Role)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("absent or soft-deleted", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		mockPool.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1 AND deleted_at IS NULL`).
			WithArgs(int64(99)).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetUserByID(ctx, 99)
		assert.ErrorIs(t, err, types.ErrNotFound)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresUserRepo_ListUsers(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("query filter hits name and username", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		filter := types.UserFilter{Query: "jane"}
		filter.Normalize()

		mockPool.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE deleted_at IS NULL AND \(name ILIKE \$1 OR username ILIKE \$1\)`).
			WithArgs("%jane%").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
		rows := pgxmock.NewRows([]string{"id", "name", "username", "role", "created_at", "updated_at"}).
			AddRow(int64(2), "Jane", "jane1234", types.RoleUser, now, now)
		mockPool.ExpectQuery(`SELECT .+ FROM users WHERE deleted_at IS NULL AND \(name ILIKE \$1 OR username ILIKE \$1\) ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
			WithArgs("%jane%", 10, 0).
			WillReturnRows(rows)

		profiles, total, err := repo.ListUsers(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, profiles, 1)
		assert.Equal(t, "jane1234", profiles[0].Username)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unknown sort column falls back to created_at", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		filter := types.UserFilter{SortBy: "password_hash; DROP TABLE users"}
		filter.Normalize()

		mockPool.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE deleted_at IS NULL`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mockPool.ExpectQuery(`ORDER BY created_at DESC`).
			WithArgs(10, 0).
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "username", "role", "created_at", "updated_at"}))

		_, _, err := repo.ListUsers(ctx, filter)
		require.NoError(t, err)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresUserRepo_CreateUser(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	rec := CreateUserRecord{
		Name:         "Jane",
		Username:     "jane1234",
		PasswordHash: "$2a$10$hash",
		Role:         types.RoleUser,
		CreatedBy:    "1",
	}

	t.Run("row insert and audit entry share one transaction", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`INSERT INTO users`).
			WithArgs("Jane", "jane1234", "$2a$10$hash", types.RoleUser, "1").
			WillReturnRows(fullUserRow(now))
		mockPool.ExpectExec(`INSERT INTO audit_logs`).
			WithArgs(pgxmock.AnyArg(), int64(1), "user", int64(2), types.AuditCreate, pgxmock.AnyArg(), jsonWithKeys{"created_by"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		created, err := repo.CreateUser(ctx, rec, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), created.ID)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("audit failure rolls the insert back", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`INSERT INTO users`).
			WithArgs("Jane", "jane1234", "$2a$10$hash", types.RoleUser, "1").
			WillReturnRows(fullUserRow(now))
		mockPool.ExpectExec(`INSERT INTO audit_logs`).
			WithArgs(pgxmock.AnyArg(), int64(1), "user", int64(2), types.AuditCreate, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(assert.AnError)
		mockPool.ExpectRollback()

		_, err := repo.CreateUser(ctx, rec, 1)
		require.Error(t, err)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresUserRepo_UpdateUser(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("audit snapshots carry the full record", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		newName := "Jane Doe"
		updatedBy := "1"

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
			WithArgs(int64(2)).
			WillReturnRows(fullUserRow(now))
		updatedRows := pgxmock.NewRows([]string{
			"id", "name", "username", "password_hash", "role",
			"created_by", "updated_by", "created_at", "updated_at", "deleted_at",
		}).AddRow(int64(2), "Jane Doe", "jane1234", "$2a$10$hash", types.RoleUser,
			"1", &updatedBy, now, now, (*time.Time)(nil))
		mockPool.ExpectQuery(`UPDATE users`).
			WithArgs("Jane Doe", "jane1234", types.RoleUser, "1", int64(2)).
			WillReturnRows(updatedRows)
		// Both snapshots keep the attribution columns and drop the hash.
		mockPool.ExpectExec(`INSERT INTO audit_logs`).
			WithArgs(pgxmock.AnyArg(), int64(1), "user", int64(2), types.AuditUpdate,
				jsonWithKeys{"created_by"}, jsonWithKeys{"created_by", "updated_by"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		updated, err := repo.UpdateUser(ctx, 2, types.UpdateUserParams{Name: &newName}, 1, "1")
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", updated.Name)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("missing target", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		name := "Nobody"
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
			WithArgs(int64(404)).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectRollback()

		_, err := repo.UpdateUser(ctx, 404, types.UpdateUserParams{Name: &name}, 1, "1")
		assert.ErrorIs(t, err, types.ErrNotFound)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresUserRepo_SoftDeleteUser(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("marks the row and records the audit entry", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
			WithArgs(int64(2)).
			WillReturnRows(fullUserRow(now))
		mockPool.ExpectQuery(`UPDATE users SET deleted_at = NOW\(\).+RETURNING deleted_at`).
			WithArgs(int64(2)).
			WillReturnRows(pgxmock.NewRows([]string{"deleted_at"}).AddRow(now))
		// The before snapshot is the whole old row; the after snapshot only
		// the deletion timestamp.
		mockPool.ExpectExec(`INSERT INTO audit_logs`).
			WithArgs(pgxmock.AnyArg(), int64(1), "user", int64(2), types.AuditDelete,
				jsonWithKeys{"created_by"}, jsonWithKeys{"deleted_at"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		require.NoError(t, repo.SoftDeleteUser(ctx, 2, 1))
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("second delete sees no live row", func(t *testing.T) {
		repo, mockPool := setupUserRepoTest(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
			WithArgs(int64(2)).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectRollback()

		err := repo.SoftDeleteUser(ctx, 2, 1)
		assert.ErrorIs(t, err, types.ErrNotFound)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})
}
