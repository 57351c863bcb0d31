package user

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/go-user-directory/app/cache"
	"github.com/FACorreiaa/go-user-directory/app/observability/metrics"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

const (
	// listCachePrefix namespaces cached listing pages; the whole namespace
	// is swept after any mutation.
	listCachePrefix = "users:"
	// userCachePrefix namespaces cached single-user lookups, keyed by id.
	userCachePrefix = "user:"
)

var _ UserService = (*UserServiceImpl)(nil)

// UserService is the directory's business layer: validation, password
// hashing, result caching and cache invalidation sit here.
type UserService interface {
	ListUsers(ctx context.Context, filter types.UserFilter) (*types.UserPage, error)
	GetUser(ctx context.Context, userID int64) (*types.UserProfile, error)
	CreateUser(ctx context.Context, params types.CreateUserParams, actorID int64) (*types.UserProfile, error)
	UpdateUser(ctx context.Context, userID int64, params types.UpdateUserParams, actorID int64) (*types.UserProfile, error)
	DeleteUser(ctx context.Context, userID int64, adminPassword string, actorID int64) error
	ExportUsersCSV(ctx context.Context, filter types.UserFilter) ([]byte, error)
}

type UserServiceImpl struct {
	logger   *slog.Logger
	repo     UserRepo
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewUserService(repo UserRepo, resultCache cache.Cache, cacheTTL time.Duration, logger *slog.Logger) *UserServiceImpl {
	return &UserServiceImpl{
		logger:   logger,
		repo:     repo,
		cache:    resultCache,
		cacheTTL: cacheTTL,
	}
}

func listCacheKey(filter types.UserFilter) string {
	return listCachePrefix + filter.CacheKey()
}

func userCacheKey(userID int64) string {
	return userCachePrefix + strconv.FormatInt(userID, 10)
}

// sweepListings drops every cached listing page. Invalidation failures are
// logged, not returned: the mutation already committed and the entries
// expire on their own within the TTL.
func (s *UserServiceImpl) sweepListings(ctx context.Context) {
	n, err := s.cache.DeleteByPrefix(ctx, listCachePrefix)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to sweep listing cache", slog.Any("error", err))
		return
	}
	metrics.Get().CacheSweepsTotal.Add(ctx, 1)
	s.logger.DebugContext(ctx, "Swept listing cache", slog.Int("keys", n))
}

func (s *UserServiceImpl) purgeUser(ctx context.Context, userID int64) {
	if err := s.cache.Delete(ctx, userCacheKey(userID)); err != nil {
		s.logger.WarnContext(ctx, "Failed to purge cached user", slog.Any("error", err), slog.Int64("userID", userID))
	}
}

func (s *UserServiceImpl) ListUsers(ctx context.Context, filter types.UserFilter) (*types.UserPage, error) {
	ctx, span := otel.Tracer("UserService").Start(ctx, "ListUsers")
	defer span.End()

	filter.Normalize()
	key := listCacheKey(filter)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var page types.UserPage
		if err := json.Unmarshal(raw, &page); err == nil {
			metrics.Get().CacheHitsTotal.Add(ctx, 1)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &page, nil
		}
		// Corrupt entry; fall through to the database and overwrite it.
		s.logger.WarnContext(ctx, "Discarding corrupt cache entry", slog.String("key", key), slog.Any("error", err))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.WarnContext(ctx, "Cache read failed", slog.Any("error", err))
	}
	metrics.Get().CacheMissesTotal.Add(ctx, 1)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	profiles, total, err := s.repo.ListUsers(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list users")
		return nil, err
	}

	totalPage := int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	page := &types.UserPage{
		Data: profiles,
		Metadata: types.PageMetadata{
			TotalData:   total,
			TotalPage:   totalPage,
			CurrentPage: filter.Page,
			PerPage:     filter.Limit,
		},
	}

	if raw, err := json.Marshal(page); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			s.logger.WarnContext(ctx, "Cache write failed", slog.Any("error", err))
		}
	}
	return page, nil
}

func (s *UserServiceImpl) GetUser(ctx context.Context, userID int64) (*types.UserProfile, error) {
	ctx, span := otel.Tracer("UserService").Start(ctx, "GetUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	key := userCacheKey(userID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var profile types.UserProfile
		if err := json.Unmarshal(raw, &profile); err == nil {
			metrics.Get().CacheHitsTotal.Add(ctx, 1)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &profile, nil
		}
		s.logger.WarnContext(ctx, "Discarding corrupt cache entry", slog.String("key", key), slog.Any("error", err))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.WarnContext(ctx, "Cache read failed", slog.Any("error", err))
	}
	metrics.Get().CacheMissesTotal.Add(ctx, 1)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	profile, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get user")
		}
		return nil, err
	}

	if raw, err := json.Marshal(profile); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			s.logger.WarnContext(ctx, "Cache write failed", slog.Any("error", err))
		}
	}
	return profile, nil
}

// validateCreateUserParams enforces the same bounds the login endpoint
// applies, plus the confirmation and role checks.
func validateCreateUserParams(params types.CreateUserParams) error {
	if params.Name == "" {
		return fmt.Errorf("name must not be empty: %w", types.ErrValidation)
	}
	if len(params.Username) < 4 || len(params.Username) > 100 {
		return fmt.Errorf("username must be between 4 and 100 characters: %w", types.ErrValidation)
	}
	if len(params.Password) < 8 || len(params.Password) > 100 {
		return fmt.Errorf("password must be between 8 and 100 characters: %w", types.ErrValidation)
	}
	if params.Password != params.ConfirmPassword {
		return fmt.Errorf("password confirmation does not match: %w", types.ErrValidation)
	}
	if !params.Role.Valid() {
		return fmt.Errorf("role must be admin or user: %w", types.ErrValidation)
	}
	return nil
}

// actorTag is the value stored in the created_by / updated_by attribution
// columns: the acting user's id rendered as a string.
func actorTag(actorID int64) string {
	return strconv.FormatInt(actorID, 10)
}

func (s *UserServiceImpl) CreateUser(ctx context.Context, params types.CreateUserParams, actorID int64) (*types.UserProfile, error) {
	ctx, span := otel.Tracer("UserService").Start(ctx, "CreateUser")
	defer span.End()
	l := s.logger.With(slog.String("method", "CreateUser"))

	if err := validateCreateUserParams(params); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.repo.CreateUser(ctx, CreateUserRecord{
		Name:         params.Name,
		Username:     params.Username,
		PasswordHash: string(hash),
		Role:         params.Role,
		CreatedBy:    actorTag(actorID),
	}, actorID)
	if err != nil {
		if !errors.Is(err, types.ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create user")
			l.ErrorContext(ctx, "Failed to create user", slog.Any("error", err))
		}
		return nil, err
	}

	s.sweepListings(ctx)
	l.InfoContext(ctx, "User created", slog.Int64("userID", created.ID), slog.String("username", created.Username))
	profile := created.Profile()
	return &profile, nil
}

func (s *UserServiceImpl) UpdateUser(ctx context.Context, userID int64, params types.UpdateUserParams, actorID int64) (*types.UserProfile, error) {
	ctx, span := otel.Tracer("UserService").Start(ctx, "UpdateUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))
	l := s.logger.With(slog.String("method", "UpdateUser"), slog.Int64("userID", userID))

	if params.Name == nil && params.Username == nil && params.Role == nil {
		return nil, fmt.Errorf("no fields to update: %w", types.ErrValidation)
	}
	if params.Username != nil && (len(*params.Username) < 4 || len(*params.Username) > 100) {
		return nil, fmt.Errorf("username must be between 4 and 100 characters: %w", types.ErrValidation)
	}
	if params.Role != nil && !params.Role.Valid() {
		return nil, fmt.Errorf("role must be admin or user: %w", types.ErrValidation)
	}

	updated, err := s.repo.UpdateUser(ctx, userID, params, actorID, actorTag(actorID))
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) && !errors.Is(err, types.ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to update user")
			l.ErrorContext(ctx, "Failed to update user", slog.Any("error", err))
		}
		return nil, err
	}

	// Listing pages and the per-id entry may both carry stale copies.
	s.sweepListings(ctx)
	s.purgeUser(ctx, userID)

	l.InfoContext(ctx, "User updated")
	profile := updated.Profile()
	return &profile, nil
}

func (s *UserServiceImpl) DeleteUser(ctx context.Context, userID int64, adminPassword string, actorID int64) error {
	ctx, span := otel.Tracer("UserService").Start(ctx, "DeleteUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))
	l := s.logger.With(slog.String("method", "DeleteUser"), slog.Int64("userID", userID))

	// Destructive operation: re-check the acting admin's own password
	// before touching the target row.
	actor, err := s.repo.GetUserRecord(ctx, actorID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrWrongAdminPassword
		}
		span.RecordError(err)
		return err
	}
	if actor.Role != types.RoleAdmin {
		return types.ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(adminPassword)); err != nil {
		l.WarnContext(ctx, "Admin password re-check failed", slog.Int64("actorID", actorID))
		return types.ErrWrongAdminPassword
	}

	if err := s.repo.SoftDeleteUser(ctx, userID, actorID); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete user")
			l.ErrorContext(ctx, "Failed to delete user", slog.Any("error", err))
		}
		return err
	}

	s.sweepListings(ctx)
	s.purgeUser(ctx, userID)

	l.InfoContext(ctx, "User soft-deleted", slog.Int64("actorID", actorID))
	return nil
}

// csvHeader fixes the export column order.
var csvHeader = []string{"id", "name", "username", "role", "created_at"}

func (s *UserServiceImpl) ExportUsersCSV(ctx context.Context, filter types.UserFilter) ([]byte, error) {
	ctx, span := otel.Tracer("UserService").Start(ctx, "ExportUsersCSV")
	defer span.End()

	filter.Normalize()
	profiles, err := s.repo.ExportUsers(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to export users")
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range profiles {
		record := []string{
			strconv.FormatInt(p.ID, 10),
			p.Name,
			p.Username,
			string(p.Role),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	span.SetAttributes(attribute.Int("export.rows", len(profiles)))
	return buf.Bytes(), nil
}
