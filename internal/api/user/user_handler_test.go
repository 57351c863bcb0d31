package user

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-user-directory/internal/api/auth"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

// MockUserService is a mock implementation of UserService.
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) ListUsers(ctx context.Context, filter types.UserFilter) (*types.UserPage, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserPage), args.Error(1)
}

func (m *MockUserService) GetUser(ctx context.Context, userID int64) (*types.UserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserProfile), args.Error(1)
}

func (m *MockUserService) CreateUser(ctx context.Context, params types.CreateUserParams, actorID int64) (*types.UserProfile, error) {
	args := m.Called(ctx, params, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserProfile), args.Error(1)
}

func (m *MockUserService) UpdateUser(ctx context.Context, userID int64, params types.UpdateUserParams, actorID int64) (*types.UserProfile, error) {
	args := m.Called(ctx, userID, params, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserProfile), args.Error(1)
}

func (m *MockUserService) DeleteUser(ctx context.Context, userID int64, adminPassword string, actorID int64) error {
	args := m.Called(ctx, userID, adminPassword, actorID)
	return args.Error(0)
}

func (m *MockUserService) ExportUsersCSV(ctx context.Context, filter types.UserFilter) ([]byte, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func setupUserHandlerTest() (*UserHandler, *MockUserService) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockService := new(MockUserService)
	return NewUserHandler(mockService, logger), mockService
}

// asActor injects the authenticated actor's claims the way the middleware does.
func asActor(req *http.Request, actorID int64) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, actorID)
	ctx = context.WithValue(ctx, auth.UserRoleKey, "admin")
	return req.WithContext(ctx)
}

// withURLParam attaches a chi route parameter to the request context.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestUserHandler_CreateUser(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		handler, mockService := setupUserHandlerTest()
		profile := &types.UserProfile{ID: 2, Name: "Jane", Username: "jane1234", Role: types.RoleUser}
		mockService.On("CreateUser", mock.Anything, mock.MatchedBy(func(p types.CreateUserParams) bool {
			return p.Username == "jane1234"
		}), int64(1)).Return(profile, nil).Once()

		body := `{"name":"Jane","username":"jane1234","password":"password123","confirm_password":"password123","role":"user"}`
		req := asActor(httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(body)), 1)
		rec := httptest.NewRecorder()
		handler.CreateUser(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("duplicate username", func(t *testing.T) {
		handler, mockService := setupUserHandlerTest()
		mockService.On("CreateUser", mock.Anything, mock.Anything, int64(1)).
			Return(nil, types.ErrConflict).Once()

		body := `{"name":"Jane","username":"jane1234","password":"password123","confirm_password":"password123","role":"user"}`
		req := asActor(httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(body)), 1)
		rec := httptest.NewRecorder()
		handler.CreateUser(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing actor claim", func(t *testing.T) {
		handler, mockService := setupUserHandlerTest()

		req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.CreateUser(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		mockService.AssertNotCalled(t, "CreateUser")
	})
}

func TestUserHandler_DeleteUser(t *testing.T) {
	t.Run("returns a confirmation message", func(t *testing.T) {
		handler, mockService := setupUserHandlerTest()
		mockService.On("DeleteUser", mock.Anything, int64(2), "admin123", int64(1)).Return(nil).Once()

		req := asActor(httptest.NewRequest(http.MethodDelete, "/users/2",
			strings.NewReader(`{"confirm_password":"admin123"}`)), 1)
		req = withURLParam(req, "id", "2")
		rec := httptest.NewRecorder()
		handler.DeleteUser(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "user deleted")
		mockService.AssertExpectations(t)
	})

	t.Run("wrong admin password", func(t *testing.T) {
		handler, mockService := setupUserHandlerTest()
		mockService.On("DeleteUser", mock.Anything, int64(2), "guessing", int64(1)).
			Return(types.ErrWrongAdminPassword).Once()

		req := asActor(httptest.NewRequest(http.MethodDelete, "/users/2",
			strings.NewReader(`{"confirm_password":"guessing"}`)), 1)
		req = withURLParam(req, "id", "2")
		rec := httptest.NewRecorder()
		handler.DeleteUser(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "wrong admin password")
	})

	t.Run("non-numeric id", func(t *testing.T) {
		handler, mockService := setupUserHandlerTest()

		req := asActor(httptest.NewRequest(http.MethodDelete, "/users/abc",
			strings.NewReader(`{"confirm_password":"admin123"}`)), 1)
		req = withURLParam(req, "id", "abc")
		rec := httptest.NewRecorder()
		handler.DeleteUser(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		mockService.AssertNotCalled(t, "DeleteUser")
	})
}

func TestUserHandler_ExportUsers(t *testing.T) {
	handler, mockService := setupUserHandlerTest()
	csvBody := []byte("id,name,username,role,created_at\n1,Administrator,admin123,admin,2026-03-01T12:00:00Z\n")
	mockService.On("ExportUsersCSV", mock.Anything, mock.Anything).Return(csvBody, nil).Once()

	req := asActor(httptest.NewRequest(http.MethodGet, "/users/export?role=admin", nil), 1)
	rec := httptest.NewRecorder()
	handler.ExportUsers(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	assert.Equal(t, string(csvBody), rec.Body.String())
	mockService.AssertExpectations(t)
}

func TestUserHandler_ListUsers(t *testing.T) {
	handler, mockService := setupUserHandlerTest()
	page := &types.UserPage{
		Data: []types.UserProfile{{ID: 1, Username: "admin123", Role: types.RoleAdmin}},
		Metadata: types.PageMetadata{
			TotalData: 1, TotalPage: 1, CurrentPage: 1, PerPage: 10,
		},
	}
	mockService.On("ListUsers", mock.Anything, types.UserFilter{
		Query: "admin", Role: types.RoleAdmin, Page: 1, Limit: 10,
	}).Return(page, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/users?q=admin&role=admin", nil)
	rec := httptest.NewRecorder()
	handler.ListUsers(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalData":1`)
	mockService.AssertExpectations(t)
}
