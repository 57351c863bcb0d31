package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/go-user-directory/app/cache"
	"github.com/FACorreiaa/go-user-directory/config"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

// MockAuthRepo is a mock implementation of AuthRepo.
type MockAuthRepo struct {
	mock.Mock
}

func (m *MockAuthRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockAuthRepo) GetUserByID(ctx context.Context, userID int64) (*types.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		SecretKey:       "test-secret",
		Issuer:          "go-user-directory",
		Audience:        "go-user-directory",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
}

// setupAuthServiceTest wires the service against a mock repo and a real
// in-memory session store so rotation semantics are exercised for real.
func setupAuthServiceTest(t *testing.T) (*AuthServiceImpl, *MockAuthRepo, *CacheSessionStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockRepo := new(MockAuthRepo)
	sessions := NewCacheSessionStore(cache.NewMemoryCache(time.Minute), time.Minute)
	service := NewAuthService(mockRepo, sessions, testJWTConfig(), logger)
	return service, mockRepo, sessions
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func testUser(t *testing.T) *types.User {
	return &types.User{
		ID:           42,
		Name:         "Administrator",
		Username:     "admin123",
		PasswordHash: hashPassword(t, "admin123"),
		Role:         types.RoleAdmin,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func TestAuthServiceImpl_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success issues token pair and stores session", func(t *testing.T) {
		service, mockRepo, sessions := setupAuthServiceTest(t)
		user := testUser(t)
		mockRepo.On("GetUserByUsername", ctx, "admin123").Return(user, nil).Once()

		resp, err := service.Login(ctx, "admin123", "admin123")
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Equal(t, user.ID, resp.User.ID)
		assert.Equal(t, types.RoleAdmin, resp.User.Role)
		assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiredAt, 5*time.Second)

		// The refresh token is redeemable exactly once.
		userID, err := sessions.Redeem(ctx, resp.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, userID)
		mockRepo.AssertExpectations(t)
	})

	t.Run("access token carries id and role claims", func(t *testing.T) {
		service, mockRepo, _ := setupAuthServiceTest(t)
		user := testUser(t)
		mockRepo.On("GetUserByUsername", ctx, "admin123").Return(user, nil).Once()

		resp, err := service.Login(ctx, "admin123", "admin123")
		require.NoError(t, err)

		claims := &types.Claims{}
		parsed, err := jwt.ParseWithClaims(resp.Token, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		require.True(t, parsed.Valid)
		assert.Equal(t, int64(42), claims.UserID)
		assert.Equal(t, "admin", claims.Role)
		assert.Equal(t, "go-user-directory", claims.Issuer)
	})

	t.Run("unknown username maps to ErrUnauthenticated", func(t *testing.T) {
		service, mockRepo, _ := setupAuthServiceTest(t)
		mockRepo.On("GetUserByUsername", ctx, "ghost123").Return(nil, types.ErrNotFound).Once()

		_, err := service.Login(ctx, "ghost123", "whatever-pass")
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
		mockRepo.AssertExpectations(t)
	})

	t.Run("wrong password leaves no session behind", func(t *testing.T) {
		service, mockRepo, sessions := setupAuthServiceTest(t)
		user := testUser(t)
		mockRepo.On("GetUserByUsername", ctx, "admin123").Return(user, nil).Once()

		_, err := service.Login(ctx, "admin123", "not-the-password")
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrUnauthenticated)

		// No refresh token should have been written for the failed attempt.
		_, err = sessions.Redeem(ctx, "any-token")
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
		mockRepo.AssertExpectations(t)
	})

	t.Run("repository error is wrapped, not unauthenticated", func(t *testing.T) {
		service, mockRepo, _ := setupAuthServiceTest(t)
		repoErr := errors.New("connection refused")
		mockRepo.On("GetUserByUsername", ctx, "admin123").Return(nil, repoErr).Once()

		_, err := service.Login(ctx, "admin123", "admin123")
		require.Error(t, err)
		assert.NotErrorIs(t, err, types.ErrUnauthenticated)
		assert.ErrorIs(t, err, repoErr)
	})
}

func TestAuthServiceImpl_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotation invalidates the redeemed token", func(t *testing.T) {
		service, mockRepo, _ := setupAuthServiceTest(t)
		user := testUser(t)
		mockRepo.On("GetUserByUsername", ctx, "admin123").Return(user, nil).Once()
		mockRepo.On("GetUserByID", ctx, user.ID).Return(user, nil).Once()

		login, err := service.Login(ctx, "admin123", "admin123")
		require.NoError(t, err)

		rotated, err := service.Refresh(ctx, login.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, rotated.Token)
		assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

		// Replaying the original token must fail: it was consumed.
		_, err = service.Refresh(ctx, login.RefreshToken)
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
		mockRepo.AssertExpectations(t)
	})

	t.Run("unknown token", func(t *testing.T) {
		service, _, _ := setupAuthServiceTest(t)

		_, err := service.Refresh(ctx, "never-issued")
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
	})

	t.Run("user deleted after login", func(t *testing.T) {
		service, mockRepo, sessions := setupAuthServiceTest(t)
		require.NoError(t, sessions.Store(ctx, "orphaned-token", 99))
		mockRepo.On("GetUserByID", ctx, int64(99)).Return(nil, types.ErrNotFound).Once()

		_, err := service.Refresh(ctx, "orphaned-token")
		assert.ErrorIs(t, err, types.ErrNotFound)
		mockRepo.AssertExpectations(t)
	})
}

func TestAuthServiceImpl_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes the session", func(t *testing.T) {
		service, mockRepo, _ := setupAuthServiceTest(t)
		user := testUser(t)
		mockRepo.On("GetUserByUsername", ctx, "admin123").Return(user, nil).Once()

		login, err := service.Login(ctx, "admin123", "admin123")
		require.NoError(t, err)

		require.NoError(t, service.Logout(ctx, login.RefreshToken))

		_, err = service.Refresh(ctx, login.RefreshToken)
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
	})

	t.Run("idempotent for unknown tokens", func(t *testing.T) {
		service, _, _ := setupAuthServiceTest(t)

		require.NoError(t, service.Logout(ctx, "already-gone"))
		require.NoError(t, service.Logout(ctx, "already-gone"))
	})
}
