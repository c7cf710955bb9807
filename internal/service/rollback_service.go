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

// Reverse updates jump the queue ahead of regular campaign traffic.
const rollbackPriority = 10

// RollbackService creates rollback operations and the reverse device updates
// that execute them. It never dispatches anything itself; the orchestrator
// picks reverse updates up through the regular scheduler and resolves the
// operation when its update reaches a terminal phase.
type RollbackService struct {
	repo       domain.RollbackRepository
	updateRepo domain.UpdateRepository
	fwRepo     domain.FirmwareRepository
	publisher  events.Publisher
	log        *slog.Logger
}

func NewRollbackService(
	repo domain.RollbackRepository,
	updateRepo domain.UpdateRepository,
	fwRepo domain.FirmwareRepository,
	publisher events.Publisher,
	log *slog.Logger,
) *RollbackService {
	return &RollbackService{repo: repo, updateRepo: updateRepo, fwRepo: fwRepo, publisher: publisher, log: log}
}

// PrepareCampaignRollback creates one rollback operation per device whose
// latest update in the campaign reached completed. Devices whose previous
// firmware version is unknown or no longer in the catalog get an operation
// that is failed from the start, so the rollback report accounts for every
// completed device. Returns the operations whose reverse update was
// scheduled and is awaiting dispatch.
func (s *RollbackService) PrepareCampaignRollback(ctx context.Context, c *domain.Campaign, trigger domain.RollbackTrigger, reason string) ([]*domain.RollbackOperation, error) {
	completed, err := s.updateRepo.LatestCompletedByCampaign(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list completed updates: %w", err)
	}

	dispatchable := make([]*domain.RollbackOperation, 0, len(completed))
	for _, u := range completed {
		op, err := s.createOperation(ctx, &c.ID, u, trigger, reason)
		if err != nil {
			return nil, err
		}
		if op.Status == domain.RollbackStatusInProgress {
			dispatchable = append(dispatchable, op)
		}
	}

	s.log.Info("campaign rollback prepared",
		"campaign", c.ID, "trigger", trigger,
		"operations", len(completed), "dispatchable", len(dispatchable))
	return dispatchable, nil
}

// RollbackDevice reverts a single device to its previously installed
// firmware. The device's latest update must have completed; anything still
// in flight has nothing settled to revert to.
func (s *RollbackService) RollbackDevice(ctx context.Context, deviceID uuid.UUID, reason string) (*domain.RollbackOperation, error) {
	u, err := s.updateRepo.LatestForDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: device has no update history", domain.ErrNotFound)
		}
		return nil, err
	}
	if u.Status != domain.UpdateStatusCompleted {
		return nil, fmt.Errorf("%w: latest update is %s, only a completed update can be rolled back", domain.ErrInvalidInput, u.Status)
	}

	op, err := s.createOperation(ctx, nil, u, domain.RollbackTriggerManual, reason)
	if err != nil {
		return nil, err
	}
	if op.Status == domain.RollbackStatusFailed {
		return op, fmt.Errorf("%w: previous firmware %q is not available", domain.ErrNotFound, u.FromVersion)
	}
	return op, nil
}

// createOperation persists the rollback operation and, when the previous
// firmware is still in the catalog, the reverse update that carries it out.
// Reverse updates are standalone (no campaign id) so they never distort the
// originating campaign's counters.
func (s *RollbackService) createOperation(ctx context.Context, campaignID *uuid.UUID, completed *domain.DeviceUpdate, trigger domain.RollbackTrigger, reason string) (*domain.RollbackOperation, error) {
	op := &domain.RollbackOperation{
		CampaignID:  campaignID,
		DeviceID:    completed.DeviceID,
		Trigger:     trigger,
		FromVersion: completed.ToVersion,
		ToVersion:   completed.FromVersion,
		Status:      domain.RollbackStatusInProgress,
		Reason:      reason,
	}

	prior, err := s.priorFirmware(ctx, completed)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		op.Status = domain.RollbackStatusFailed
		if err := s.repo.Create(ctx, op); err != nil {
			return nil, fmt.Errorf("create rollback operation: %w", err)
		}
		s.log.Warn("rollback operation unservable, previous firmware unavailable",
			"device", completed.DeviceID, "version", completed.FromVersion)
		return op, nil
	}

	reverse := &domain.DeviceUpdate{
		DeviceID:    completed.DeviceID,
		FirmwareID:  prior.ID,
		Status:      domain.UpdateStatusScheduled,
		Priority:    rollbackPriority,
		MaxRetries:  completed.MaxRetries,
		FromVersion: completed.ToVersion,
		ToVersion:   completed.FromVersion,
	}
	if err := s.updateRepo.Create(ctx, reverse); err != nil {
		return nil, fmt.Errorf("create reverse update: %w", err)
	}
	op.UpdateID = reverse.ID

	if err := s.repo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("create rollback operation: %w", err)
	}

	ev := events.Event{
		Type:       events.TypeRollbackInitiated,
		CampaignID: campaignID,
		UpdateID:   &reverse.ID,
		DeviceID:   &completed.DeviceID,
		FirmwareID: &prior.ID,
		RollbackID: &op.ID,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish event", "type", ev.Type, "err", err)
	}
	return op, nil
}

// priorFirmware resolves the firmware image the device ran before the given
// update. Returns nil without error when the version is unknown or has left
// the catalog.
func (s *RollbackService) priorFirmware(ctx context.Context, u *domain.DeviceUpdate) (*domain.Firmware, error) {
	if u.FromVersion == "" {
		return nil, nil
	}
	current, err := s.fwRepo.GetByID(ctx, u.FirmwareID)
	if err != nil {
		return nil, fmt.Errorf("firmware %s: %w", u.FirmwareID, err)
	}
	prior, err := s.fwRepo.GetByVersion(ctx, u.FromVersion, current.DeviceModel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return prior, nil
}

// ResolveByUpdate settles the rollback operation linked to a finished
// reverse update. Not every update has one; untracked ids are ignored.
func (s *RollbackService) ResolveByUpdate(ctx context.Context, updateID uuid.UUID, finalStatus domain.UpdateStatus) error {
	op, err := s.repo.GetByUpdateID(ctx, updateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if op.Status != domain.RollbackStatusInProgress {
		return nil
	}

	status := domain.RollbackStatusFailed
	if finalStatus == domain.UpdateStatusCompleted {
		status = domain.RollbackStatusCompleted
	}
	if err := s.repo.UpdateStatus(ctx, op.ID, status); err != nil {
		return err
	}
	s.log.Info("rollback operation resolved", "id", op.ID, "device", op.DeviceID, "status", status)
	return nil
}

func (s *RollbackService) GetByID(ctx context.Context, id uuid.UUID) (*domain.RollbackOperation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *RollbackService) List(ctx context.Context, filter domain.RollbackFilter) ([]*domain.RollbackOperation, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *RollbackService) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.RollbackOperation, error) {
	return s.repo.ListByCampaign(ctx, campaignID)
}
