package operator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/api/response"
	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/orchestrator"
	"github.com/CaioWing/Armada/internal/service"
)

type RollbackHandler struct {
	rollbackSvc *service.RollbackService
	orch        *orchestrator.Orchestrator
}

func NewRollbackHandler(rollbackSvc *service.RollbackService, orch *orchestrator.Orchestrator) *RollbackHandler {
	return &RollbackHandler{rollbackSvc: rollbackSvc, orch: orch}
}

func (h *RollbackHandler) List(w http.ResponseWriter, r *http.Request) {
	params := response.ParseListParams(r)
	q := r.URL.Query()

	filter := domain.RollbackFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}

	if c := q.Get("campaign_id"); c != "" {
		id, err := uuid.Parse(c)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid campaign_id")
			return
		}
		filter.CampaignID = &id
	}
	if d := q.Get("device_id"); d != "" {
		id, err := uuid.Parse(d)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid device_id")
			return
		}
		filter.DeviceID = &id
	}
	if s := q.Get("status"); s != "" {
		status := domain.RollbackStatus(s)
		filter.Status = &status
	}

	ops, total, err := h.rollbackSvc.List(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to list rollback operations")
		return
	}

	response.Paginated(w, http.StatusOK, ops, params, total)
}

func (h *RollbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid rollback id")
		return
	}

	op, err := h.rollbackSvc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "rollback operation not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to get rollback operation")
		return
	}

	response.JSON(w, http.StatusOK, op)
}

type deviceRollbackRequest struct {
	DeviceID string `json:"device_id"`
	Reason   string `json:"reason"`
}

// RollbackDevice reverts a single device to its previously installed
// firmware, outside any campaign.
func (h *RollbackHandler) RollbackDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid device_id")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator initiated rollback"
	}

	op, err := h.orch.RollbackDevice(r.Context(), deviceID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			response.Error(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrInvalidInput):
			response.Error(w, http.StatusConflict, err.Error())
		default:
			response.Error(w, http.StatusInternalServerError, "failed to roll back device")
		}
		return
	}

	response.JSON(w, http.StatusCreated, op)
}
