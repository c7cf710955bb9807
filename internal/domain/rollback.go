package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RollbackTrigger string

const (
	RollbackTriggerAutomatic RollbackTrigger = "automatic"
	RollbackTriggerManual    RollbackTrigger = "manual"
)

type RollbackStatus string

const (
	RollbackStatusInProgress RollbackStatus = "in_progress"
	RollbackStatusCompleted  RollbackStatus = "completed"
	RollbackStatusFailed     RollbackStatus = "failed"
)

// RollbackOperation reverts one device to its previously installed firmware.
// Operations are only created for devices whose latest update reached
// completed; devices still pending or in flight are cancelled instead.
type RollbackOperation struct {
	ID          uuid.UUID       `json:"id"`
	CampaignID  *uuid.UUID      `json:"campaign_id,omitempty"`
	DeviceID    uuid.UUID       `json:"device_id"`
	UpdateID    uuid.UUID       `json:"update_id"`
	Trigger     RollbackTrigger `json:"trigger"`
	FromVersion string          `json:"from_version"`
	ToVersion   string          `json:"to_version"`
	Status      RollbackStatus  `json:"status"`
	Reason      string          `json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

type RollbackFilter struct {
	CampaignID *uuid.UUID
	DeviceID   *uuid.UUID
	Status     *RollbackStatus
	Page       int
	PerPage    int
}

type RollbackRepository interface {
	Create(ctx context.Context, op *RollbackOperation) error
	GetByID(ctx context.Context, id uuid.UUID) (*RollbackOperation, error)
	GetByUpdateID(ctx context.Context, updateID uuid.UUID) (*RollbackOperation, error)
	List(ctx context.Context, filter RollbackFilter) ([]*RollbackOperation, int, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*RollbackOperation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status RollbackStatus) error
}
