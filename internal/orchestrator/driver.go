package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/CaioWing/Armada/internal/domain"
)

// Driver executes the device-side phases of an update. Each call blocks
// until the device acknowledges the phase or the context expires; the
// orchestrator wraps every call in a per-phase timeout.
type Driver interface {
	Download(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error
	Verify(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error
	Install(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error
	Reboot(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error
}

// PhaseError carries the error code recorded on the update when a phase
// fails for a reason the device reported, as opposed to a timeout.
type PhaseError struct {
	Code    string
	Message string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AgentDriver drives updates through the device gateway's command API. One
// blocking POST per phase; the gateway holds the request open until the
// device acknowledges completion of that phase.
type AgentDriver struct {
	baseURL string
	client  *http.Client
}

func NewAgentDriver(baseURL string, client *http.Client) *AgentDriver {
	if client == nil {
		client = &http.Client{}
	}
	return &AgentDriver{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

type phaseCommand struct {
	UpdateID       string `json:"update_id"`
	FirmwareID     string `json:"firmware_id"`
	Version        string `json:"version"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	ChecksumSHA256 string `json:"checksum_sha256"`
}

type phaseResult struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (d *AgentDriver) Download(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error {
	return d.phase(ctx, "download", u, fw)
}

func (d *AgentDriver) Verify(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error {
	return d.phase(ctx, "verify", u, fw)
}

func (d *AgentDriver) Install(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error {
	return d.phase(ctx, "install", u, fw)
}

func (d *AgentDriver) Reboot(ctx context.Context, u *domain.DeviceUpdate, fw *domain.Firmware) error {
	return d.phase(ctx, "reboot", u, fw)
}

func (d *AgentDriver) phase(ctx context.Context, phase string, u *domain.DeviceUpdate, fw *domain.Firmware) error {
	cmd := phaseCommand{
		UpdateID:       u.ID.String(),
		FirmwareID:     fw.ID.String(),
		Version:        fw.Version,
		FileName:       fw.FileName,
		FileSize:       fw.FileSize,
		ChecksumSHA256: fw.ChecksumSHA256,
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", phase, err)
	}

	url := fmt.Sprintf("%s/api/v1/devices/%s/commands/%s", d.baseURL, u.DeviceID, phase)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", phase, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return &PhaseError{Code: domain.ErrorCodeDeviceNotFound, Message: "device not reachable through gateway"}
	case http.StatusUnprocessableEntity:
		var res phaseResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil || res.ErrorCode == "" {
			return &PhaseError{Code: phaseErrorCode(phase), Message: fmt.Sprintf("%s rejected by device", phase)}
		}
		return &PhaseError{Code: res.ErrorCode, Message: res.ErrorMessage}
	default:
		return fmt.Errorf("%w: gateway returned %d for %s", domain.ErrDependencyUnavailable, resp.StatusCode, phase)
	}
}

// phaseErrorCode maps a phase to the error code recorded when the device
// rejects it without a structured reason.
func phaseErrorCode(phase string) string {
	switch phase {
	case "verify":
		return domain.ErrorCodeChecksumMismatch
	case "install", "reboot":
		return domain.ErrorCodeInstallFailed
	default:
		return domain.ErrorCodeDependency
	}
}

var _ Driver = (*AgentDriver)(nil)
