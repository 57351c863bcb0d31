package report

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"

	"github.com/FACorreiaa/go-user-directory/internal/api"
)

type ReportHandler struct {
	repo   Repo
	logger *slog.Logger
}

func NewReportHandler(repo Repo, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		logger: logger,
		repo:   repo,
	}
}

// ActiveUsersByRole godoc
// @Summary      Active Users By Role
// @Description  Counts live users grouped by role. Admin only.
// @Tags         Reports
// @Produce      json
// @Success      200 {array} types.RoleCount "Role Counts"
// @Failure      401 {object} types.Response "Unauthenticated"
// @Failure      403 {object} types.Response "Forbidden"
// @Security     BearerAuth
// @Router       /reports/active-users [get]
func (h *ReportHandler) ActiveUsersByRole(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ReportHandler").Start(r.Context(), "ActiveUsersByRole")
	defer span.End()
	l := h.logger.With(slog.String("handler", "ActiveUsersByRole"))

	counts, err := h.repo.ActiveUserCountByRole(ctx)
	if err != nil {
		span.RecordError(err)
		l.ErrorContext(ctx, "Failed to build report", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to build report")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, counts)
}
