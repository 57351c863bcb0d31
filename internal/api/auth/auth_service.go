package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/go-user-directory/app/observability/metrics"
	"github.com/FACorreiaa/go-user-directory/config"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService defines the business logic contract for the auth flow.
type AuthService interface {
	// Login authenticates credentials and issues a fresh access/refresh pair.
	// Returns types.ErrUnauthenticated for unknown usernames, soft-deleted
	// users and wrong passwords alike.
	Login(ctx context.Context, username, password string) (*types.LoginResponse, error)

	// Refresh redeems a refresh token, rotating it: the redeemed token is
	// invalidated before the replacement pair is issued. Reuse of a rotated
	// token fails with types.ErrUnauthenticated; a vanished user fails with
	// types.ErrNotFound.
	Refresh(ctx context.Context, refreshToken string) (*types.RefreshTokenResponse, error)

	// Logout revokes the refresh token. Idempotent.
	Logout(ctx context.Context, refreshToken string) error
}

// AuthServiceImpl provides the implementation for AuthService.
type AuthServiceImpl struct {
	logger   *slog.Logger
	repo     AuthRepo
	sessions SessionStore
	jwtCfg   config.JWTConfig
}

// NewAuthService creates a new auth service instance.
func NewAuthService(repo AuthRepo, sessions SessionStore, jwtCfg config.JWTConfig, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:   logger,
		repo:     repo,
		sessions: sessions,
		jwtCfg:   jwtCfg,
	}
}

// generateRefreshToken creates a random refresh token value.
func generateRefreshToken() string {
	return uuid.NewString()
}

// generateAccessToken signs a stateless access token carrying the user's id
// and role.
func (s *AuthServiceImpl) generateAccessToken(user *types.User, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.jwtCfg.AccessTokenTTL)
	claims := types.Claims{
		UserID: user.ID,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.jwtCfg.Issuer,
			Audience:  jwt.ClaimStrings{s.jwtCfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtCfg.SecretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Login authenticates a user and establishes a session.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (*types.LoginResponse, error) {
	l := s.logger.With(slog.String("method", "Login"), slog.String("username", username))
	l.DebugContext(ctx, "Authenticating user")
	metrics.Get().LoginAttemptsTotal.Add(ctx, 1)

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		metrics.Get().LoginFailuresTotal.Add(ctx, 1)
		if errors.Is(err, types.ErrNotFound) {
			// Same error as a wrong password so callers cannot probe for
			// registered usernames.
			return nil, types.ErrUnauthenticated
		}
		l.ErrorContext(ctx, "Failed to look up user", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		metrics.Get().LoginFailuresTotal.Add(ctx, 1)
		return nil, types.ErrUnauthenticated
	}

	now := time.Now()
	accessToken, expiresAt, err := s.generateAccessToken(user, now)
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate access token", slog.Any("error", err))
		return nil, err
	}

	refreshToken := generateRefreshToken()
	if err := s.sessions.Store(ctx, refreshToken, user.ID); err != nil {
		l.ErrorContext(ctx, "Failed to store refresh token", slog.Any("error", err))
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}

	l.InfoContext(ctx, "User logged in", slog.Int64("userID", user.ID))
	return &types.LoginResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user.Profile(),
		ExpiredAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token and issues a new access token.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (*types.RefreshTokenResponse, error) {
	l := s.logger.With(slog.String("method", "Refresh"))
	l.DebugContext(ctx, "Rotating refresh token")

	// Redeem is fetch-and-delete in one step, so concurrent redemptions of
	// the same token cannot both succeed.
	userID, err := s.sessions.Redeem(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			return nil, err
		}
		l.ErrorContext(ctx, "Failed to redeem refresh token", slog.Any("error", err))
		return nil, fmt.Errorf("error redeeming refresh token: %w", err)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrNotFound
		}
		l.ErrorContext(ctx, "Failed to load user for refresh", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching user: %w", err)
	}

	now := time.Now()
	accessToken, expiresAt, err := s.generateAccessToken(user, now)
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate access token", slog.Any("error", err))
		return nil, err
	}

	newRefreshToken := generateRefreshToken()
	if err := s.sessions.Store(ctx, newRefreshToken, user.ID); err != nil {
		l.ErrorContext(ctx, "Failed to store rotated refresh token", slog.Any("error", err))
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}

	metrics.Get().TokenRefreshesTotal.Add(ctx, 1)
	l.InfoContext(ctx, "Refresh token rotated", slog.Int64("userID", user.ID))
	return &types.RefreshTokenResponse{
		Token:        accessToken,
		RefreshToken: newRefreshToken,
		ExpiredAt:    expiresAt,
	}, nil
}

// Logout revokes a refresh token. Revoking an absent token is not an error.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	l := s.logger.With(slog.String("method", "Logout"))

	if err := s.sessions.Delete(ctx, refreshToken); err != nil {
		l.ErrorContext(ctx, "Failed to delete refresh token", slog.Any("error", err))
		return fmt.Errorf("error deleting refresh token: %w", err)
	}

	l.InfoContext(ctx, "Session revoked")
	return nil
}
