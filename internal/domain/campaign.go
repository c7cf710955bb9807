package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignStatusCreated    CampaignStatus = "created"
	CampaignStatusInProgress CampaignStatus = "in_progress"
	CampaignStatusPaused     CampaignStatus = "paused"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusFailed     CampaignStatus = "failed"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
)

// Terminal reports whether a campaign status admits no further transitions.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	}
	return false
}

type DeploymentStrategy string

const (
	StrategyImmediate DeploymentStrategy = "immediate"
	StrategyScheduled DeploymentStrategy = "scheduled"
	StrategyStaged    DeploymentStrategy = "staged"
	StrategyCanary    DeploymentStrategy = "canary"
	StrategyBlueGreen DeploymentStrategy = "blue_green"
)

func (s DeploymentStrategy) Valid() bool {
	switch s {
	case StrategyImmediate, StrategyScheduled, StrategyStaged, StrategyCanary, StrategyBlueGreen:
		return true
	}
	return false
}

// CampaignCounters tracks per-status device totals for one campaign. The sum
// of all five fields always equals the campaign's total device count; they
// are mutated by the campaign's single owner goroutine only.
type CampaignCounters struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

func (c CampaignCounters) Total() int {
	return c.Pending + c.InProgress + c.Completed + c.Failed + c.Cancelled
}

// Terminal is the number of devices that reached a terminal update state.
func (c CampaignCounters) Terminal() int {
	return c.Completed + c.Failed + c.Cancelled
}

// FailureRatePercent is failed / (completed + failed) expressed as a
// percentage, and 0 while the denominator is zero.
func (c CampaignCounters) FailureRatePercent() float64 {
	denom := c.Completed + c.Failed
	if denom == 0 {
		return 0
	}
	return float64(c.Failed) / float64(denom) * 100
}

type Campaign struct {
	ID                      uuid.UUID          `json:"id"`
	Name                    string             `json:"name"`
	FirmwareID              uuid.UUID          `json:"firmware_id"`
	Strategy                DeploymentStrategy `json:"deployment_strategy"`
	Status                  CampaignStatus     `json:"status"`
	TargetDeviceIDs         []uuid.UUID        `json:"target_device_ids"`
	Counters                CampaignCounters   `json:"counters"`
	MaxConcurrentUpdates    int                `json:"max_concurrent_updates"`
	BatchSize               int                `json:"batch_size"`
	AutoRollback            bool               `json:"auto_rollback"`
	FailureThresholdPercent float64            `json:"failure_threshold_percent"`
	RequiresApproval        bool               `json:"requires_approval"`
	ApprovedBy              *string            `json:"approved_by,omitempty"`
	ApprovedAt              *time.Time         `json:"approved_at,omitempty"`
	ScheduledAt             *time.Time         `json:"scheduled_at,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	StartedAt               *time.Time         `json:"started_at,omitempty"`
	FinishedAt              *time.Time         `json:"finished_at,omitempty"`
}

func (c *Campaign) TotalDevices() int {
	return len(c.TargetDeviceIDs)
}

// CanTransitionCampaign validates the campaign state machine:
// created -> in_progress <-> paused -> {completed, failed, cancelled},
// with cancel reachable from created, in_progress and paused.
func CanTransitionCampaign(from, to CampaignStatus) bool {
	switch from {
	case CampaignStatusCreated:
		return to == CampaignStatusInProgress || to == CampaignStatusCancelled
	case CampaignStatusInProgress:
		switch to {
		case CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
			return true
		}
	case CampaignStatusPaused:
		return to == CampaignStatusInProgress || to == CampaignStatusCancelled
	}
	return false
}

type CampaignFilter struct {
	Status     *CampaignStatus
	FirmwareID *uuid.UUID
	Page       int
	PerPage    int
	SortBy     string
	SortOrder  string
}

type CampaignStats struct {
	Total      int `json:"total"`
	Created    int `json:"created"`
	InProgress int `json:"in_progress"`
	Paused     int `json:"paused"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

type CampaignRepository interface {
	Create(ctx context.Context, c *Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*Campaign, error)
	List(ctx context.Context, filter CampaignFilter) ([]*Campaign, int, error)
	ListByStatus(ctx context.Context, statuses ...CampaignStatus) ([]*Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status CampaignStatus) error
	UpdateCounters(ctx context.Context, id uuid.UUID, counters CampaignCounters) error
	SetApproved(ctx context.Context, id uuid.UUID, approvedBy string) error
	SetStarted(ctx context.Context, id uuid.UUID) error
	SetFinished(ctx context.Context, id uuid.UUID, status CampaignStatus) error
	CountActiveByFirmware(ctx context.Context, firmwareID uuid.UUID) (int, error)
	GetStats(ctx context.Context) (*CampaignStats, error)
}
