package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// firmwareNamespace seeds the deterministic firmware ID derivation, so the
// same (name, version, device_model) triple always maps to the same ID.
var firmwareNamespace = uuid.MustParse("8f3c1a6e-42d7-4b9a-9c5e-0d2f7b1e6a33")

// FirmwareID derives the deterministic ID for a firmware image.
func FirmwareID(name, version, deviceModel string) uuid.UUID {
	return uuid.NewSHA1(firmwareNamespace, []byte(name+"\x00"+version+"\x00"+deviceModel))
}

type Firmware struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Version          string    `json:"version"`
	DeviceModel      string    `json:"device_model"`
	Description      string    `json:"description"`
	FileName         string    `json:"file_name"`
	FileSize         int64     `json:"file_size"`
	ChecksumSHA256   string    `json:"checksum_sha256"`
	ChecksumMD5      string    `json:"checksum_md5"`
	IsSecurityUpdate bool      `json:"is_security_update"`
	Deprecated       bool      `json:"deprecated"`
	StoragePath      string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

type FirmwareFilter struct {
	Version     *string
	DeviceModel *string
	Deprecated  *bool
	Page        int
	PerPage     int
	SortBy      string
	SortOrder   string
}

type FirmwareRepository interface {
	Create(ctx context.Context, fw *Firmware) error
	GetByID(ctx context.Context, id uuid.UUID) (*Firmware, error)
	GetByVersion(ctx context.Context, version, deviceModel string) (*Firmware, error)
	List(ctx context.Context, filter FirmwareFilter) ([]*Firmware, int, error)
	SetDeprecated(ctx context.Context, id uuid.UUID, deprecated bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}
