package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/FACorreiaa/go-user-directory/config"
	"github.com/FACorreiaa/go-user-directory/internal/api/audit"
	"github.com/FACorreiaa/go-user-directory/internal/api/auth"
	"github.com/FACorreiaa/go-user-directory/internal/api/report"
	"github.com/FACorreiaa/go-user-directory/internal/api/user"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

// Deps contains the handlers and configuration the router wires together.
// Server-wide middleware (request ID, recoverer, logging) is applied in
// main.go before this router is mounted.
type Deps struct {
	Config        *config.Config
	Logger        *slog.Logger
	AuthHandler   *auth.AuthHandler
	UserHandler   *user.UserHandler
	AuditHandler  *audit.AuditHandler
	ReportHandler *report.ReportHandler
}

// SetupRouter builds the HTTP surface: public auth endpoints, then the
// bearer-authenticated group with the admin-gated directory inside it.
func SetupRouter(deps *Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Per-client rate limit across the whole API surface.
	r.Use(httprate.LimitByIP(deps.Config.RateLimit.Requests, deps.Config.RateLimit.Window))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	authenticate := auth.Authenticate(deps.Logger, deps.Config.JWT)
	adminOnly := auth.RequireRole(deps.Logger, types.RoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		// Public: login and the token endpoints. Refresh and logout
		// authenticate by refresh token, not by bearer header, so an
		// expired access token never blocks them.
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", deps.AuthHandler.Login)
			r.Post("/auth/refresh", deps.AuthHandler.RefreshSession)
			r.Post("/auth/logout", deps.AuthHandler.Logout)
		})

		// Bearer-authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			// The whole directory is admin-gated, reads included.
			r.Group(func(r chi.Router) {
				r.Use(adminOnly)

				r.Get("/users", deps.UserHandler.ListUsers)
				r.Get("/users/{id}", deps.UserHandler.GetUser)
				r.Post("/users", deps.UserHandler.CreateUser)
				r.Put("/users/{id}", deps.UserHandler.UpdateUser)
				r.Delete("/users/{id}", deps.UserHandler.DeleteUser)
				r.Get("/users/export", deps.UserHandler.ExportUsers)

				r.Get("/audit-logs", deps.AuditHandler.ListAuditLogs)
				r.Get("/reports/active-users", deps.ReportHandler.ActiveUsersByRole)
			})
		})
	})

	return r
}
