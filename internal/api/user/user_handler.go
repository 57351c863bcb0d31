package user

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/go-user-directory/internal/api"
	"github.com/FACorreiaa/go-user-directory/internal/api/auth"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

type UserHandler struct {
	userService UserService
	logger      *slog.Logger
}

func NewUserHandler(userService UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		logger:      logger,
		userService: userService,
	}
}

func filterFromQuery(r *http.Request) types.UserFilter {
	q := r.URL.Query()
	return types.UserFilter{
		Query:   q.Get("q"),
		Role:    types.Role(q.Get("role")),
		Page:    api.QueryInt(r, "page", 1),
		Limit:   api.QueryInt(r, "limit", 10),
		SortBy:  q.Get("sortBy"),
		SortDir: q.Get("sortDir"),
	}
}

func userIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, l *slog.Logger, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrWrongAdminPassword):
		api.ErrorResponse(w, r, http.StatusBadRequest, "wrong admin password")
	case errors.Is(err, types.ErrNotFound):
		api.ErrorResponse(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, types.ErrConflict):
		api.ErrorResponse(w, r, http.StatusConflict, "username already taken")
	case errors.Is(err, types.ErrUnauthenticated):
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, types.ErrForbidden):
		api.ErrorResponse(w, r, http.StatusForbidden, "Forbidden")
	default:
		l.ErrorContext(r.Context(), "Unhandled service error", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// ListUsers godoc
// @Summary      List Users
// @Description  Lists live users with filtering, sorting and pagination.
// @Tags         Users
// @Produce      json
// @Param        q query string false "Search in name and username"
// @Param        role query string false "Filter by role" Enums(admin, user)
// @Param        page query int false "Page number"
// @Param        limit query int false "Page size"
// @Param        sortBy query string false "Sort column"
// @Param        sortDir query string false "Sort direction" Enums(asc, desc)
// @Success      200 {object} types.UserPage "User Page"
// @Failure      401 {object} types.Response "Unauthenticated"
// @Security     BearerAuth
// @Router       /users [get]
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ListUsers"))

	page, err := h.userService.ListUsers(ctx, filterFromQuery(r))
	if err != nil {
		writeServiceError(w, r, l, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, page)
}

// GetUser godoc
// @Summary      Get User
// @Description  Returns a single live user by id.
// @Tags         Users
// @Produce      json
// @Param        id path int true "User ID"
// @Success      200 {object} types.UserProfile "User"
// @Failure      404 {object} types.Response "Not Found"
// @Security     BearerAuth
// @Router       /users/{id} [get]
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "GetUser"))

	id, err := userIDParam(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := h.userService.GetUser(ctx, id)
	if err != nil {
		writeServiceError(w, r, l, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, profile)
}

// CreateUser godoc
// @Summary      Create User
// @Description  Creates a user. Admin only.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        user body types.CreateUserParams true "New User"
// @Success      201 {object} types.UserProfile "Created"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      409 {object} types.Response "Username Taken"
// @Security     BearerAuth
// @Router       /users [post]
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "CreateUser"))

	actorID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var params types.CreateUserParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := h.userService.CreateUser(ctx, params, actorID)
	if err != nil {
		writeServiceError(w, r, l, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, profile)
}

// UpdateUser godoc
// @Summary      Update User
// @Description  Applies a partial update to a user. Admin only.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        id path int true "User ID"
// @Param        user body types.UpdateUserParams true "Fields to update"
// @Success      200 {object} types.UserProfile "Updated"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      404 {object} types.Response "Not Found"
// @Failure      409 {object} types.Response "Username Taken"
// @Security     BearerAuth
// @Router       /users/{id} [put]
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "UpdateUser"))

	actorID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := userIDParam(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var params types.UpdateUserParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := h.userService.UpdateUser(ctx, id, params, actorID)
	if err != nil {
		writeServiceError(w, r, l, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, profile)
}

// DeleteUser godoc
// @Summary      Delete User
// @Description  Soft-deletes a user after re-checking the acting admin's password.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        id path int true "User ID"
// @Param        confirmation body types.DeleteUserParams true "Admin password confirmation"
// @Success      200 {object} types.Response "Deleted"
// @Failure      400 {object} types.Response "Wrong Admin Password"
// @Failure      404 {object} types.Response "Not Found"
// @Security     BearerAuth
// @Router       /users/{id} [delete]
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "DeleteUser"))

	actorID, ok := auth.GetUserIDFromContext(ctx)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := userIDParam(r)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var params types.DeleteUserParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.userService.DeleteUser(ctx, id, params.ConfirmPassword, actorID); err != nil {
		writeServiceError(w, r, l, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]string{"message": "user deleted"})
}

// ExportUsers godoc
// @Summary      Export Users
// @Description  Streams the filtered directory as a CSV attachment. Admin only.
// @Tags         Users
// @Produce      text/csv
// @Param        q query string false "Search in name and username"
// @Param        role query string false "Filter by role" Enums(admin, user)
// @Success      200 {string} string "CSV body"
// @Security     BearerAuth
// @Router       /users/export [get]
func (h *UserHandler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ExportUsers"))

	body, err := h.userService.ExportUsersCSV(ctx, filterFromQuery(r))
	if err != nil {
		writeServiceError(w, r, l, err)
		return
	}

	filename := fmt.Sprintf("users-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	api.WriteRawResponse(w, r, http.StatusOK, "text/csv", body)
}
