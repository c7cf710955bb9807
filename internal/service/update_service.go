package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/events"
)

// UpdateService owns the per-device update state machine. Every transition is
// validated here; callers (the API surface and the campaign orchestrator)
// never mutate update rows directly.
type UpdateService struct {
	repo      domain.UpdateRepository
	fwRepo    domain.FirmwareRepository
	registry  domain.DeviceRegistry
	publisher events.Publisher
	log       *slog.Logger
}

func NewUpdateService(
	repo domain.UpdateRepository,
	fwRepo domain.FirmwareRepository,
	registry domain.DeviceRegistry,
	publisher events.Publisher,
	log *slog.Logger,
) *UpdateService {
	return &UpdateService{
		repo:      repo,
		fwRepo:    fwRepo,
		registry:  registry,
		publisher: publisher,
		log:       log,
	}
}

type ScheduleUpdateInput struct {
	CampaignID *uuid.UUID
	DeviceID   uuid.UUID
	FirmwareID uuid.UUID
	Priority   int
	MaxRetries int
	// TimeoutMinutes bounds each phase of this update; 0 falls back to the
	// orchestrator's configured default.
	TimeoutMinutes int
}

// Schedule validates the device against the registry and firmware catalog and
// creates the update in scheduled. Registry unavailability fails scheduling
// with ErrDependencyUnavailable rather than skipping the device.
func (s *UpdateService) Schedule(ctx context.Context, input ScheduleUpdateInput) (*domain.DeviceUpdate, error) {
	if input.Priority < 1 || input.Priority > 10 {
		return nil, fmt.Errorf("%w: priority must be 1-10", domain.ErrInvalidInput)
	}
	if input.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries must be >= 0", domain.ErrInvalidInput)
	}
	if input.TimeoutMinutes < 0 {
		return nil, fmt.Errorf("%w: timeout_minutes must be >= 0", domain.ErrInvalidInput)
	}

	fw, err := s.fwRepo.GetByID(ctx, input.FirmwareID)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}

	exists, err := s.registry.Exists(ctx, input.DeviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrDeviceNotFound
	}

	model, err := s.registry.GetModel(ctx, input.DeviceID)
	if err != nil {
		return nil, err
	}
	if model != fw.DeviceModel {
		return nil, fmt.Errorf("%w: device model %q, firmware targets %q",
			domain.ErrIncompatibleFirmware, model, fw.DeviceModel)
	}

	fromVersion, err := s.registry.GetInstalledVersion(ctx, input.DeviceID)
	if err != nil {
		return nil, err
	}

	u := &domain.DeviceUpdate{
		CampaignID:     input.CampaignID,
		DeviceID:       input.DeviceID,
		FirmwareID:     input.FirmwareID,
		Status:         domain.UpdateStatusScheduled,
		Priority:       input.Priority,
		MaxRetries:     input.MaxRetries,
		TimeoutMinutes: input.TimeoutMinutes,
		FromVersion:    fromVersion,
		ToVersion:      fw.Version,
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create device update: %w", err)
	}

	s.log.Info("update scheduled", "id", u.ID, "device", u.DeviceID, "firmware", u.FirmwareID)
	return u, nil
}

// Advance moves an update to the next phase. Transitions must follow
// scheduled -> downloading -> verifying -> installing -> rebooting ->
// completed one step at a time, and progress is clamped to the phase's
// checkpoint band and never decreases.
func (s *UpdateService) Advance(ctx context.Context, id uuid.UUID, next domain.UpdateStatus, progress int) (*domain.DeviceUpdate, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !domain.CanAdvanceUpdate(u.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, u.Status, next)
	}
	if progress < u.ProgressPercentage {
		return nil, fmt.Errorf("%w: progress %d would regress below %d",
			domain.ErrInvalidInput, progress, u.ProgressPercentage)
	}
	if progress > domain.ProgressCeiling(next) {
		progress = domain.ProgressCeiling(next)
	}
	if next == domain.UpdateStatusCompleted {
		progress = 100
	}

	if err := s.repo.SetPhase(ctx, id, next, progress); err != nil {
		return nil, err
	}
	u.Status = next
	u.ProgressPercentage = progress

	if next == domain.UpdateStatusCompleted {
		now := time.Now()
		u.FinishedAt = &now
		s.publish(ctx, events.TypeUpdateCompleted, u)
		s.log.Info("update completed", "id", u.ID, "device", u.DeviceID)
	}

	return u, nil
}

// Fail marks an update failed with the reported error. Legal from any
// non-terminal state; terminal updates are left untouched.
func (s *UpdateService) Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (*domain.DeviceUpdate, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s -> failed", domain.ErrInvalidTransition, u.Status)
	}

	if err := s.repo.MarkFailed(ctx, id, errorCode, errorMessage); err != nil {
		return nil, err
	}
	u.Status = domain.UpdateStatusFailed
	u.ErrorCode = errorCode
	u.ErrorMessage = errorMessage
	now := time.Now()
	u.FinishedAt = &now

	s.publish(ctx, events.TypeUpdateFailed, u)
	s.log.Warn("update failed", "id", u.ID, "device", u.DeviceID, "code", errorCode, "msg", errorMessage)
	return u, nil
}

// Retry re-enters the state machine from failed: back to scheduled with
// progress reset and the retry counter incremented.
func (s *UpdateService) Retry(ctx context.Context, id uuid.UUID) (*domain.DeviceUpdate, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != domain.UpdateStatusFailed {
		return nil, fmt.Errorf("%w: retry only legal from failed, got %s", domain.ErrInvalidTransition, u.Status)
	}
	if u.RetryCount >= u.MaxRetries {
		return nil, fmt.Errorf("%w: %d of %d retries used", domain.ErrRetryLimitExceeded, u.RetryCount, u.MaxRetries)
	}

	if err := s.repo.ResetForRetry(ctx, id); err != nil {
		return nil, err
	}
	u.Status = domain.UpdateStatusScheduled
	u.ProgressPercentage = 0
	u.RetryCount++
	u.ErrorCode = ""
	u.ErrorMessage = ""
	u.FinishedAt = nil

	s.log.Info("update retried", "id", u.ID, "retry_count", u.RetryCount)
	return u, nil
}

// Cancel aborts an update that has not begun installing. Once the flash
// starts the update must run to completion or failure.
func (s *UpdateService) Cancel(ctx context.Context, id uuid.UUID) (*domain.DeviceUpdate, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanCancelUpdate(u.Status) {
		return nil, fmt.Errorf("%w: cannot cancel from %s", domain.ErrCancellationRefused, u.Status)
	}

	if err := s.repo.MarkCancelled(ctx, id); err != nil {
		return nil, err
	}
	u.Status = domain.UpdateStatusCancelled
	now := time.Now()
	u.FinishedAt = &now

	s.log.Info("update cancelled", "id", u.ID, "device", u.DeviceID)
	return u, nil
}

func (s *UpdateService) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeviceUpdate, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UpdateService) List(ctx context.Context, filter domain.UpdateFilter) ([]*domain.DeviceUpdate, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *UpdateService) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.DeviceUpdate, error) {
	return s.repo.ListByCampaign(ctx, campaignID)
}

// RecordScheduleFailure writes a failed audit row for a campaign device that
// could not be scheduled (unknown device, incompatible model, registry
// outage). Keeps campaign accounting complete without a retryable row.
func (s *UpdateService) RecordScheduleFailure(ctx context.Context, campaignID, deviceID, firmwareID uuid.UUID, cause error) (*domain.DeviceUpdate, error) {
	code := domain.ErrorCodeDependency
	switch {
	case errors.Is(cause, domain.ErrDeviceNotFound):
		code = domain.ErrorCodeDeviceNotFound
	case errors.Is(cause, domain.ErrIncompatibleFirmware):
		code = domain.ErrorCodeIncompatible
	}

	now := time.Now()
	u := &domain.DeviceUpdate{
		CampaignID:   &campaignID,
		DeviceID:     deviceID,
		FirmwareID:   firmwareID,
		Status:       domain.UpdateStatusFailed,
		Priority:     5,
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
		FinishedAt:   &now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeUpdateFailed, u)
	return u, nil
}

// RecordCancelled writes a cancelled row for a campaign device that was still
// pending admission when the campaign was cancelled or rolled back, so the
// device's outcome is auditable.
func (s *UpdateService) RecordCancelled(ctx context.Context, campaignID, deviceID, firmwareID uuid.UUID) (*domain.DeviceUpdate, error) {
	now := time.Now()
	u := &domain.DeviceUpdate{
		CampaignID: &campaignID,
		DeviceID:   deviceID,
		FirmwareID: firmwareID,
		Status:     domain.UpdateStatusCancelled,
		Priority:   5,
		FinishedAt: &now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UpdateService) publish(ctx context.Context, eventType string, u *domain.DeviceUpdate) {
	ev := events.Event{
		Type:       eventType,
		CampaignID: u.CampaignID,
		UpdateID:   &u.ID,
		DeviceID:   &u.DeviceID,
		FirmwareID: &u.FirmwareID,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish event", "type", eventType, "err", err)
	}
}
