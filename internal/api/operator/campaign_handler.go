package operator

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/api/middleware"
	"github.com/CaioWing/Armada/internal/api/response"
	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/orchestrator"
	"github.com/CaioWing/Armada/internal/service"
)

type CampaignHandler struct {
	campaignSvc *service.CampaignService
	updateSvc   *service.UpdateService
	orch        *orchestrator.Orchestrator
}

func NewCampaignHandler(campaignSvc *service.CampaignService, updateSvc *service.UpdateService, orch *orchestrator.Orchestrator) *CampaignHandler {
	return &CampaignHandler{campaignSvc: campaignSvc, updateSvc: updateSvc, orch: orch}
}

type createCampaignRequest struct {
	Name                    string   `json:"name"`
	FirmwareID              string   `json:"firmware_id"`
	DeploymentStrategy      string   `json:"deployment_strategy"`
	TargetDeviceIDs         []string `json:"target_device_ids"`
	MaxConcurrentUpdates    int      `json:"max_concurrent_updates"`
	BatchSize               int      `json:"batch_size"`
	AutoRollback            bool     `json:"auto_rollback"`
	FailureThresholdPercent float64  `json:"failure_threshold_percent"`
	RequiresApproval        bool     `json:"requires_approval"`
	ScheduledAt             *string  `json:"scheduled_at,omitempty"`
}

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	firmwareID, err := uuid.Parse(req.FirmwareID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid firmware_id")
		return
	}

	var deviceIDs []uuid.UUID
	for _, idStr := range req.TargetDeviceIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid device id: "+idStr)
			return
		}
		deviceIDs = append(deviceIDs, id)
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid scheduled_at, expected RFC3339")
			return
		}
		scheduledAt = &t
	}

	input := service.CreateCampaignInput{
		Name:                    req.Name,
		FirmwareID:              firmwareID,
		Strategy:                domain.DeploymentStrategy(req.DeploymentStrategy),
		TargetDeviceIDs:         deviceIDs,
		MaxConcurrentUpdates:    req.MaxConcurrentUpdates,
		BatchSize:               req.BatchSize,
		AutoRollback:            req.AutoRollback,
		FailureThresholdPercent: req.FailureThresholdPercent,
		RequiresApproval:        req.RequiresApproval,
		ScheduledAt:             scheduledAt,
	}

	campaign, err := h.campaignSvc.Create(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			response.Error(w, http.StatusNotFound, "firmware not found")
		case errors.Is(err, domain.ErrFirmwareDeprecated):
			response.Error(w, http.StatusUnprocessableEntity, "firmware is deprecated")
		default:
			response.Error(w, http.StatusInternalServerError, "failed to create campaign")
		}
		return
	}

	response.JSON(w, http.StatusCreated, campaign)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	params := response.ParseListParams(r)
	q := r.URL.Query()

	filter := domain.CampaignFilter{
		Page:      params.Page,
		PerPage:   params.PerPage,
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
	}

	if s := q.Get("status"); s != "" {
		status := domain.CampaignStatus(s)
		filter.Status = &status
	}
	if f := q.Get("firmware_id"); f != "" {
		id, err := uuid.Parse(f)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid firmware_id")
			return
		}
		filter.FirmwareID = &id
	}

	campaigns, total, err := h.campaignSvc.List(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	response.Paginated(w, http.StatusOK, campaigns, params, total)
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := h.campaignSvc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "campaign not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}

	response.JSON(w, http.StatusOK, campaign)
}

func (h *CampaignHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	approver, _ := r.Context().Value(middleware.UserIDKey).(string)
	if approver == "" {
		approver = "operator"
	}

	campaign, err := h.campaignSvc.Approve(r.Context(), id, approver)
	if err != nil {
		h.lifecycleError(w, err, "failed to approve campaign")
		return
	}

	response.JSON(w, http.StatusOK, campaign)
}

func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := h.orch.StartCampaign(r.Context(), id)
	if err != nil {
		h.lifecycleError(w, err, "failed to start campaign")
		return
	}

	response.JSON(w, http.StatusOK, campaign)
}

func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := h.orch.PauseCampaign(r.Context(), id)
	if err != nil {
		h.lifecycleError(w, err, "failed to pause campaign")
		return
	}

	response.JSON(w, http.StatusOK, campaign)
}

func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := h.orch.ResumeCampaign(r.Context(), id)
	if err != nil {
		h.lifecycleError(w, err, "failed to resume campaign")
		return
	}

	response.JSON(w, http.StatusOK, campaign)
}

func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := h.orch.CancelCampaign(r.Context(), id)
	if err != nil {
		h.lifecycleError(w, err, "failed to cancel campaign")
		return
	}

	// In-flight updates drain asynchronously; 202 signals the cancel is
	// underway rather than settled.
	response.JSON(w, http.StatusAccepted, campaign)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (h *CampaignHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req rollbackRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "operator initiated rollback"
	}

	campaign, err := h.orch.RollbackCampaign(r.Context(), id, req.Reason)
	if err != nil {
		h.lifecycleError(w, err, "failed to roll back campaign")
		return
	}

	response.JSON(w, http.StatusAccepted, campaign)
}

func (h *CampaignHandler) GetDevices(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	updates, err := h.updateSvc.ListByCampaign(r.Context(), id)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to get campaign devices")
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"data": updates})
}

func (h *CampaignHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.campaignSvc.GetStats(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	response.JSON(w, http.StatusOK, stats)
}

func (h *CampaignHandler) lifecycleError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.Error(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrApprovalRequired):
		response.Error(w, http.StatusForbidden, "campaign requires approval before starting")
	case errors.Is(err, domain.ErrConflict):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, err.Error())
	default:
		response.Error(w, http.StatusInternalServerError, fallback)
	}
}
