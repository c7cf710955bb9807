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

type UpdateHandler struct {
	updateSvc *service.UpdateService
	orch      *orchestrator.Orchestrator
}

func NewUpdateHandler(updateSvc *service.UpdateService, orch *orchestrator.Orchestrator) *UpdateHandler {
	return &UpdateHandler{updateSvc: updateSvc, orch: orch}
}

type scheduleUpdateRequest struct {
	DeviceID       string `json:"device_id"`
	FirmwareID     string `json:"firmware_id"`
	Priority       int    `json:"priority"`
	MaxRetries     int    `json:"max_retries"`
	TimeoutMinutes int    `json:"timeout_minutes"`
}

// Schedule creates and dispatches a standalone single-device update, outside
// any campaign.
func (h *UpdateHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid device_id")
		return
	}
	firmwareID, err := uuid.Parse(req.FirmwareID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid firmware_id")
		return
	}

	if req.Priority == 0 {
		req.Priority = 5
	}
	if req.MaxRetries == 0 {
		req.MaxRetries = 3
	}

	update, err := h.orch.ScheduleUpdate(r.Context(), service.ScheduleUpdateInput{
		DeviceID:       deviceID,
		FirmwareID:     firmwareID,
		Priority:       req.Priority,
		MaxRetries:     req.MaxRetries,
		TimeoutMinutes: req.TimeoutMinutes,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrDeviceNotFound):
			response.Error(w, http.StatusNotFound, "device not found in registry")
		case errors.Is(err, domain.ErrNotFound):
			response.Error(w, http.StatusNotFound, "firmware not found")
		case errors.Is(err, domain.ErrIncompatibleFirmware):
			response.Error(w, http.StatusUnprocessableEntity, "firmware is not compatible with this device model")
		case errors.Is(err, domain.ErrDependencyUnavailable):
			response.Error(w, http.StatusServiceUnavailable, "device registry unavailable")
		default:
			response.Error(w, http.StatusInternalServerError, "failed to schedule update")
		}
		return
	}

	response.JSON(w, http.StatusCreated, update)
}

func (h *UpdateHandler) List(w http.ResponseWriter, r *http.Request) {
	params := response.ParseListParams(r)
	q := r.URL.Query()

	filter := domain.UpdateFilter{
		Page:      params.Page,
		PerPage:   params.PerPage,
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
	}

	if s := q.Get("status"); s != "" {
		status := domain.UpdateStatus(s)
		filter.Status = &status
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

	updates, total, err := h.updateSvc.List(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to list updates")
		return
	}

	response.Paginated(w, http.StatusOK, updates, params, total)
}

func (h *UpdateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid update id")
		return
	}

	update, err := h.updateSvc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "update not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to get update")
		return
	}

	response.JSON(w, http.StatusOK, update)
}

func (h *UpdateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid update id")
		return
	}

	update, err := h.updateSvc.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			response.Error(w, http.StatusNotFound, "update not found")
		case errors.Is(err, domain.ErrCancellationRefused):
			response.Error(w, http.StatusConflict, err.Error())
		default:
			response.Error(w, http.StatusInternalServerError, "failed to cancel update")
		}
		return
	}

	response.JSON(w, http.StatusOK, update)
}

func (h *UpdateHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid update id")
		return
	}

	update, err := h.orch.RetryUpdate(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			response.Error(w, http.StatusNotFound, "update not found")
		case errors.Is(err, domain.ErrRetryLimitExceeded):
			response.Error(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrInvalidTransition):
			response.Error(w, http.StatusConflict, err.Error())
		default:
			response.Error(w, http.StatusInternalServerError, "failed to retry update")
		}
		return
	}

	response.JSON(w, http.StatusOK, update)
}
