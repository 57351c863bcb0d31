package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/FACorreiaa/go-user-directory/internal/api"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

type AuthHandler struct {
	authService AuthService
	logger      *slog.Logger
}

func NewAuthHandler(authService AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		logger:      logger,
		authService: authService,
	}
}

// validateLoginRequest enforces the credential length bounds before any
// store access.
func validateLoginRequest(req *types.LoginRequest) string {
	if len(req.Username) < 4 || len(req.Username) > 100 {
		return "username must be between 4 and 100 characters"
	}
	if len(req.Password) < 8 || len(req.Password) > 100 {
		return "password must be between 8 and 100 characters"
	}
	return ""
}

// Login godoc
// @Summary      Login
// @Description  Authenticates a user and issues an access/refresh token pair.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        credentials body types.LoginRequest true "Login Credentials"
// @Success      200 {object} types.LoginResponse "Session Established"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      401 {object} types.Response "Invalid Credentials"
// @Router       /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "Login"))

	var req types.LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if msg := validateLoginRequest(&req); msg != "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, msg)
		return
	}

	session, err := h.authService.Login(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			api.ErrorResponse(w, r, http.StatusUnauthorized, "invalid username or password")
			return
		}
		l.ErrorContext(ctx, "Login failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to log in")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, session)
}

// RefreshSession godoc
// @Summary      Refresh Session
// @Description  Rotates a refresh token and issues a new access token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        token body types.RefreshTokenRequest true "Refresh Token"
// @Success      200 {object} types.RefreshTokenResponse "Rotated Tokens"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      401 {object} types.Response "Invalid Or Expired Token"
// @Router       /auth/refresh [post]
func (h *AuthHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "RefreshSession"))

	var req types.RefreshTokenRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}

	session, err := h.authService.Refresh(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrUnauthenticated):
			api.ErrorResponse(w, r, http.StatusUnauthorized, "invalid or expired refresh token")
		case errors.Is(err, types.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusUnauthorized, "user not found")
		default:
			l.ErrorContext(ctx, "Refresh failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to refresh session")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, session)
}

// Logout godoc
// @Summary      Logout
// @Description  Revokes a refresh token. Safe to call repeatedly.
// @Tags         Auth
// @Accept       json
// @Success      204 "Session Revoked"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "Logout"))

	var req types.LogoutRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.Logout(ctx, req.RefreshToken); err != nil {
		l.ErrorContext(ctx, "Logout failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to log out")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}
