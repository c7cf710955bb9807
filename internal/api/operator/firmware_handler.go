package operator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/api/response"
	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/service"
)

type FirmwareHandler struct {
	firmwareSvc *service.FirmwareService
}

func NewFirmwareHandler(firmwareSvc *service.FirmwareService) *FirmwareHandler {
	return &FirmwareHandler{firmwareSvc: firmwareSvc}
}

func (h *FirmwareHandler) List(w http.ResponseWriter, r *http.Request) {
	params := response.ParseListParams(r)
	q := r.URL.Query()

	filter := domain.FirmwareFilter{
		Page:      params.Page,
		PerPage:   params.PerPage,
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
	}

	if v := q.Get("version"); v != "" {
		filter.Version = &v
	}
	if m := q.Get("device_model"); m != "" {
		filter.DeviceModel = &m
	}
	if d := q.Get("deprecated"); d != "" {
		deprecated := d == "true"
		filter.Deprecated = &deprecated
	}

	firmwares, total, err := h.firmwareSvc.List(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to list firmware")
		return
	}

	response.Paginated(w, http.StatusOK, firmwares, params, total)
}

func (h *FirmwareHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid firmware id")
		return
	}

	fw, err := h.firmwareSvc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "firmware not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to get firmware")
		return
	}

	response.JSON(w, http.StatusOK, fw)
}

func (h *FirmwareHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Max 500MB
	if err := r.ParseMultipartForm(500 << 20); err != nil {
		response.Error(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	input := service.UploadFirmwareInput{
		Name:             r.FormValue("name"),
		Version:          r.FormValue("version"),
		DeviceModel:      r.FormValue("device_model"),
		Description:      r.FormValue("description"),
		FileName:         header.Filename,
		IsSecurityUpdate: r.FormValue("is_security_update") == "true",
		File:             file,
	}

	fw, err := h.firmwareSvc.Upload(r.Context(), input)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, domain.ErrConflict) {
			response.Error(w, http.StatusConflict, "firmware with this name, version and model already exists")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to upload firmware")
		return
	}

	response.JSON(w, http.StatusCreated, fw)
}

func (h *FirmwareHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid firmware id")
		return
	}

	reader, fw, err := h.firmwareSvc.OpenFile(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "firmware not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to open firmware")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fw.FileName))
	w.Header().Set("X-Checksum-SHA256", fw.ChecksumSHA256)
	w.Header().Set("Content-Length", strconv.FormatInt(fw.FileSize, 10))

	buf := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
}

type deprecateRequest struct {
	Deprecated bool `json:"deprecated"`
}

func (h *FirmwareHandler) SetDeprecated(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid firmware id")
		return
	}

	var req deprecateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.firmwareSvc.SetDeprecated(r.Context(), id, req.Deprecated); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "firmware not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to update firmware")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *FirmwareHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid firmware id")
		return
	}

	if err := h.firmwareSvc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "firmware not found")
			return
		}
		if errors.Is(err, domain.ErrFirmwareInUse) {
			response.Error(w, http.StatusConflict, "firmware is referenced by an active campaign")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to delete firmware")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
