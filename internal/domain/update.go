package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UpdateStatus string

const (
	UpdateStatusScheduled   UpdateStatus = "scheduled"
	UpdateStatusDownloading UpdateStatus = "downloading"
	UpdateStatusVerifying   UpdateStatus = "verifying"
	UpdateStatusInstalling  UpdateStatus = "installing"
	UpdateStatusRebooting   UpdateStatus = "rebooting"
	UpdateStatusCompleted   UpdateStatus = "completed"
	UpdateStatusFailed      UpdateStatus = "failed"
	UpdateStatusCancelled   UpdateStatus = "cancelled"
)

// Terminal reports whether an update status admits no further transitions
// (other than the explicit failed -> scheduled retry).
func (s UpdateStatus) Terminal() bool {
	switch s {
	case UpdateStatusCompleted, UpdateStatusFailed, UpdateStatusCancelled:
		return true
	}
	return false
}

// phaseOrder positions the happy-path phases so that forward-only movement
// can be validated with a single comparison.
var phaseOrder = map[UpdateStatus]int{
	UpdateStatusScheduled:   0,
	UpdateStatusDownloading: 1,
	UpdateStatusVerifying:   2,
	UpdateStatusInstalling:  3,
	UpdateStatusRebooting:   4,
	UpdateStatusCompleted:   5,
}

// CanAdvanceUpdate validates a happy-path phase transition:
// scheduled -> downloading -> verifying -> installing -> rebooting -> completed,
// one phase at a time, never backwards.
func CanAdvanceUpdate(from, to UpdateStatus) bool {
	fi, ok := phaseOrder[from]
	if !ok || from == UpdateStatusCompleted {
		return false
	}
	ti, ok := phaseOrder[to]
	if !ok {
		return false
	}
	return ti == fi+1
}

// CanCancelUpdate reports whether an update may be cancelled from its current
// phase. Once installation begins the flash must run to completion or
// failure; interrupting mid-flash can brick the device.
func CanCancelUpdate(from UpdateStatus) bool {
	return from == UpdateStatusScheduled || from == UpdateStatusDownloading
}

// ProgressCeiling is the progress percentage an update may reach while in
// the given phase: download 0-60, verify 60-70, install 70-95, reboot 95-100.
func ProgressCeiling(s UpdateStatus) int {
	switch s {
	case UpdateStatusScheduled:
		return 0
	case UpdateStatusDownloading:
		return 60
	case UpdateStatusVerifying:
		return 70
	case UpdateStatusInstalling:
		return 95
	case UpdateStatusRebooting, UpdateStatusCompleted:
		return 100
	}
	return 0
}

// Error codes recorded on failed updates.
const (
	ErrorCodeTimeout          = "timeout"
	ErrorCodeChecksumMismatch = "checksum_mismatch"
	ErrorCodeInstallFailed    = "install_failed"
	ErrorCodeDeviceNotFound   = "device_not_found"
	ErrorCodeIncompatible     = "incompatible_firmware"
	ErrorCodeDependency       = "dependency_unavailable"
	ErrorCodeCancelled        = "cancelled"
)

type DeviceUpdate struct {
	ID                 uuid.UUID    `json:"id"`
	CampaignID         *uuid.UUID   `json:"campaign_id,omitempty"`
	DeviceID           uuid.UUID    `json:"device_id"`
	FirmwareID         uuid.UUID    `json:"firmware_id"`
	Status             UpdateStatus `json:"status"`
	ProgressPercentage int          `json:"progress_percentage"`
	RetryCount         int          `json:"retry_count"`
	MaxRetries         int          `json:"max_retries"`
	Priority           int          `json:"priority"`
	TimeoutMinutes     int          `json:"timeout_minutes,omitempty"`
	FromVersion        string       `json:"from_version"`
	ToVersion          string       `json:"to_version"`
	ErrorCode          string       `json:"error_code,omitempty"`
	ErrorMessage       string       `json:"error_message,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	FinishedAt         *time.Time   `json:"finished_at,omitempty"`
}

type UpdateFilter struct {
	CampaignID *uuid.UUID
	DeviceID   *uuid.UUID
	Status     *UpdateStatus
	Page       int
	PerPage    int
	SortBy     string
	SortOrder  string
}

type UpdateRepository interface {
	Create(ctx context.Context, u *DeviceUpdate) error
	GetByID(ctx context.Context, id uuid.UUID) (*DeviceUpdate, error)
	List(ctx context.Context, filter UpdateFilter) ([]*DeviceUpdate, int, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*DeviceUpdate, error)
	// SetPhase writes a phase transition and its progress checkpoint.
	SetPhase(ctx context.Context, id uuid.UUID, status UpdateStatus, progress int) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	// ResetForRetry moves a failed update back to scheduled, zeroes progress
	// and increments the retry counter.
	ResetForRetry(ctx context.Context, id uuid.UUID) error
	CountByStatusForCampaign(ctx context.Context, campaignID uuid.UUID) (map[UpdateStatus]int, error)
	// LatestCompletedByCampaign returns, per device, the most recent update in
	// the campaign that reached completed. Used for rollback targeting.
	LatestCompletedByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*DeviceUpdate, error)
	// LatestForDevice returns the device's most recent update, campaign or
	// standalone, regardless of state.
	LatestForDevice(ctx context.Context, deviceID uuid.UUID) (*DeviceUpdate, error)
	// ListStandaloneScheduled returns scheduled updates with no campaign,
	// awaiting dispatch. Used to recover standalone work after a restart.
	ListStandaloneScheduled(ctx context.Context) ([]*DeviceUpdate, error)
	// ListStaleInFlight returns in-flight updates that started before the
	// cutoff and never reached a terminal state.
	ListStaleInFlight(ctx context.Context, cutoff time.Time) ([]*DeviceUpdate, error)
}
