package domain

import (
	"context"

	"github.com/google/uuid"
)

// DeviceRegistry is the external device inventory consulted at scheduling
// time. Unavailability surfaces as ErrDependencyUnavailable; scheduling is
// never skipped silently.
type DeviceRegistry interface {
	// Exists reports whether the device is known to the registry.
	Exists(ctx context.Context, deviceID uuid.UUID) (bool, error)
	// GetModel returns the device's hardware model, used for firmware
	// compatibility checks.
	GetModel(ctx context.Context, deviceID uuid.UUID) (string, error)
	// GetInstalledVersion returns the firmware version currently reported by
	// the device, or "" if unknown. Recorded as from_version on scheduling.
	GetInstalledVersion(ctx context.Context, deviceID uuid.UUID) (string, error)
}
