package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted to the platform bus.
const (
	TypeCampaignCreated   = "campaign.created"
	TypeCampaignStarted   = "campaign.started"
	TypeCampaignPaused    = "campaign.paused"
	TypeCampaignResumed   = "campaign.resumed"
	TypeCampaignCompleted = "campaign.completed"
	TypeCampaignFailed    = "campaign.failed"
	TypeCampaignCancelled = "campaign.cancelled"
	TypeRollbackInitiated = "rollback.initiated"
	TypeUpdateCompleted   = "update.completed"
	TypeUpdateFailed      = "update.failed"
)

type Event struct {
	Type       string     `json:"type"`
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
	UpdateID   *uuid.UUID `json:"update_id,omitempty"`
	DeviceID   *uuid.UUID `json:"device_id,omitempty"`
	FirmwareID *uuid.UUID `json:"firmware_id,omitempty"`
	RollbackID *uuid.UUID `json:"rollback_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Publisher delivers events at-least-once and fire-and-forget: callers log
// publish errors but never block or roll back the state transition that
// produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop discards all events; used when no broker is configured and in tests.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
