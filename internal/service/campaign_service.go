package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/events"
)

// CampaignService owns the campaign aggregate: creation with a frozen target
// set, approval, and the created -> in_progress <-> paused lifecycle edges
// initiated by operators. Counter mutation and terminal resolution belong to
// the campaign's orchestrator runner, not here.
type CampaignService struct {
	repo      domain.CampaignRepository
	fwRepo    domain.FirmwareRepository
	publisher events.Publisher
	log       *slog.Logger
}

func NewCampaignService(
	repo domain.CampaignRepository,
	fwRepo domain.FirmwareRepository,
	publisher events.Publisher,
	log *slog.Logger,
) *CampaignService {
	return &CampaignService{repo: repo, fwRepo: fwRepo, publisher: publisher, log: log}
}

type CreateCampaignInput struct {
	Name                    string
	FirmwareID              uuid.UUID
	Strategy                domain.DeploymentStrategy
	TargetDeviceIDs         []uuid.UUID
	MaxConcurrentUpdates    int
	BatchSize               int
	AutoRollback            bool
	FailureThresholdPercent float64
	RequiresApproval        bool
	ScheduledAt             *time.Time
}

// Create freezes the target device set at creation time. Group or filter
// resolution happens in the caller before this point; the campaign itself
// only ever sees explicit device IDs.
func (s *CampaignService) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	if !input.Strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown deployment strategy %q", domain.ErrInvalidInput, input.Strategy)
	}
	if len(input.TargetDeviceIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one target device is required", domain.ErrInvalidInput)
	}
	if input.Strategy == domain.StrategyScheduled && input.ScheduledAt == nil {
		return nil, fmt.Errorf("%w: scheduled strategy requires scheduled_at", domain.ErrInvalidInput)
	}
	if input.FailureThresholdPercent < 0 || input.FailureThresholdPercent > 100 {
		return nil, fmt.Errorf("%w: failure_threshold_percent must be 0-100", domain.ErrInvalidInput)
	}

	fw, err := s.fwRepo.GetByID(ctx, input.FirmwareID)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	if fw.Deprecated {
		return nil, domain.ErrFirmwareDeprecated
	}

	targets := dedupeDeviceIDs(input.TargetDeviceIDs)

	maxConcurrent := input.MaxConcurrentUpdates
	if maxConcurrent <= 0 || input.Strategy == domain.StrategyImmediate {
		// Immediate rollout is unbounded within the campaign.
		maxConcurrent = len(targets)
	}
	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = maxConcurrent
	}

	c := &domain.Campaign{
		Name:                    input.Name,
		FirmwareID:              input.FirmwareID,
		Strategy:                input.Strategy,
		Status:                  domain.CampaignStatusCreated,
		TargetDeviceIDs:         targets,
		Counters:                domain.CampaignCounters{Pending: len(targets)},
		MaxConcurrentUpdates:    maxConcurrent,
		BatchSize:               batchSize,
		AutoRollback:            input.AutoRollback,
		FailureThresholdPercent: input.FailureThresholdPercent,
		RequiresApproval:        input.RequiresApproval,
		ScheduledAt:             input.ScheduledAt,
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.publish(ctx, events.TypeCampaignCreated, c)
	s.log.Info("campaign created",
		"id", c.ID, "firmware", c.FirmwareID, "strategy", c.Strategy, "devices", len(targets))
	return c, nil
}

func (s *CampaignService) Approve(ctx context.Context, id uuid.UUID, approvedBy string) (*domain.Campaign, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignStatusCreated {
		return nil, fmt.Errorf("%w: can only approve a created campaign, status is %s", domain.ErrInvalidTransition, c.Status)
	}
	if !c.RequiresApproval {
		return nil, fmt.Errorf("%w: campaign does not require approval", domain.ErrInvalidInput)
	}
	if c.ApprovedAt != nil {
		return nil, fmt.Errorf("%w: campaign already approved", domain.ErrConflict)
	}

	if err := s.repo.SetApproved(ctx, id, approvedBy); err != nil {
		return nil, err
	}
	now := time.Now()
	c.ApprovedBy = &approvedBy
	c.ApprovedAt = &now

	s.log.Info("campaign approved", "id", id, "by", approvedBy)
	return c, nil
}

// Start moves a created campaign into in_progress. The orchestrator takes
// over dispatch from the moment this returns.
func (s *CampaignService) Start(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignStatusCreated {
		return nil, fmt.Errorf("%w: start only legal from created, status is %s", domain.ErrInvalidTransition, c.Status)
	}
	if c.RequiresApproval && c.ApprovedAt == nil {
		return nil, domain.ErrApprovalRequired
	}
	if c.ScheduledAt != nil && time.Now().Before(*c.ScheduledAt) {
		return nil, fmt.Errorf("%w: campaign is scheduled to start at %s", domain.ErrInvalidInput, c.ScheduledAt.Format(time.RFC3339))
	}

	if err := s.repo.SetStarted(ctx, id); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignStatusInProgress
	now := time.Now()
	c.StartedAt = &now

	s.publish(ctx, events.TypeCampaignStarted, c)
	s.log.Info("campaign started", "id", id, "devices", c.TotalDevices())
	return c, nil
}

func (s *CampaignService) Pause(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.transition(ctx, id, domain.CampaignStatusPaused)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeCampaignPaused, c)
	s.log.Info("campaign paused", "id", id)
	return c, nil
}

func (s *CampaignService) Resume(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignStatusPaused {
		return nil, fmt.Errorf("%w: resume only legal from paused, status is %s", domain.ErrInvalidTransition, c.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, domain.CampaignStatusInProgress); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignStatusInProgress

	s.publish(ctx, events.TypeCampaignResumed, c)
	s.log.Info("campaign resumed", "id", id)
	return c, nil
}

func (s *CampaignService) transition(ctx context.Context, id uuid.UUID, to domain.CampaignStatus) (*domain.Campaign, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionCampaign(c.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, to); err != nil {
		return nil, err
	}
	c.Status = to
	return c, nil
}

func (s *CampaignService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *CampaignService) List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *CampaignService) GetStats(ctx context.Context) (*domain.CampaignStats, error) {
	return s.repo.GetStats(ctx)
}

func (s *CampaignService) publish(ctx context.Context, eventType string, c *domain.Campaign) {
	ev := events.Event{
		Type:       eventType,
		CampaignID: &c.ID,
		FirmwareID: &c.FirmwareID,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish event", "type", eventType, "err", err)
	}
}

func dedupeDeviceIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
