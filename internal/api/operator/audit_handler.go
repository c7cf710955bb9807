package operator

import (
	"net/http"

	"github.com/CaioWing/Armada/internal/api/response"
	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/service"
)

type AuditHandler struct {
	auditSvc *service.AuditService
}

func NewAuditHandler(auditSvc *service.AuditService) *AuditHandler {
	return &AuditHandler{auditSvc: auditSvc}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	params := response.ParseListParams(r)

	filter := domain.AuditFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}

	if v := r.URL.Query().Get("actor"); v != "" {
		filter.Actor = &v
	}
	if v := r.URL.Query().Get("action"); v != "" {
		filter.Action = &v
	}
	if v := r.URL.Query().Get("resource"); v != "" {
		filter.Resource = &v
	}
	if v := r.URL.Query().Get("order"); v != "" {
		filter.SortOrder = v
	}

	entries, total, err := h.auditSvc.List(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	response.Paginated(w, http.StatusOK, entries, params, total)
}
