package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/FACorreiaa/go-user-directory/internal/api"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

type AuditHandler struct {
	auditService Service
	logger       *slog.Logger
}

func NewAuditHandler(auditService Service, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		logger:       logger,
		auditService: auditService,
	}
}

// ListAuditLogs godoc
// @Summary      List Audit Logs
// @Description  Lists change-history entries, newest first. Admin only.
// @Tags         Audit
// @Produce      json
// @Param        entityId query int false "Filter by entity ID"
// @Param        page query int false "Page number"
// @Param        limit query int false "Page size"
// @Success      200 {object} types.AuditLogPage "Audit Entries"
// @Failure      401 {object} types.Response "Unauthenticated"
// @Failure      403 {object} types.Response "Forbidden"
// @Security     BearerAuth
// @Router       /audit-logs [get]
func (h *AuditHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "ListAuditLogs"))

	filter := types.AuditLogFilter{
		Page:  api.QueryInt(r, "page", 1),
		Limit: api.QueryInt(r, "limit", 20),
	}
	if raw := r.URL.Query().Get("entityId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			api.ErrorResponse(w, r, http.StatusBadRequest, "entityId must be an integer")
			return
		}
		filter.EntityID = id
	}

	page, err := h.auditService.ListEntries(ctx, filter)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list audit logs", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to list audit logs")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, page)
}
