package service

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/storage"
)

type FirmwareService struct {
	repo         domain.FirmwareRepository
	campaignRepo domain.CampaignRepository
	store        storage.BlobStore
	log          *slog.Logger
}

func NewFirmwareService(
	repo domain.FirmwareRepository,
	campaignRepo domain.CampaignRepository,
	store storage.BlobStore,
	log *slog.Logger,
) *FirmwareService {
	return &FirmwareService{repo: repo, campaignRepo: campaignRepo, store: store, log: log}
}

type UploadFirmwareInput struct {
	Name             string
	Version          string
	DeviceModel      string
	Description      string
	FileName         string
	IsSecurityUpdate bool
	File             io.Reader
}

// Upload stores the binary and creates the immutable firmware record. The ID
// is derived from (name, version, device_model), so re-uploading the same
// image conflicts instead of duplicating.
func (s *FirmwareService) Upload(ctx context.Context, input UploadFirmwareInput) (*domain.Firmware, error) {
	if input.Name == "" || input.Version == "" || input.DeviceModel == "" {
		return nil, fmt.Errorf("%w: name, version, and device_model are required", domain.ErrInvalidInput)
	}
	if input.File == nil {
		return nil, fmt.Errorf("%w: firmware file is required", domain.ErrInvalidInput)
	}

	// Hash while saving: both digests are recorded so devices with either
	// verifier can check the image.
	sha := sha256.New()
	md := md5.New()
	tee := io.TeeReader(input.File, io.MultiWriter(sha, md))

	storageName := fmt.Sprintf("%s_%s_%s", input.Name, input.Version, input.FileName)
	storagePath, fileSize, err := s.store.Save(ctx, storageName, tee)
	if err != nil {
		return nil, fmt.Errorf("save firmware file: %w", err)
	}

	fw := &domain.Firmware{
		ID:               domain.FirmwareID(input.Name, input.Version, input.DeviceModel),
		Name:             input.Name,
		Version:          input.Version,
		DeviceModel:      input.DeviceModel,
		Description:      input.Description,
		FileName:         input.FileName,
		FileSize:         fileSize,
		ChecksumSHA256:   hex.EncodeToString(sha.Sum(nil)),
		ChecksumMD5:      hex.EncodeToString(md.Sum(nil)),
		IsSecurityUpdate: input.IsSecurityUpdate,
		StoragePath:      storagePath,
	}

	if err := s.repo.Create(ctx, fw); err != nil {
		s.store.Delete(ctx, storagePath)
		return nil, fmt.Errorf("create firmware: %w", err)
	}

	s.log.Info("firmware uploaded",
		"id", fw.ID, "name", fw.Name, "version", fw.Version, "model", fw.DeviceModel)
	return fw, nil
}

func (s *FirmwareService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Firmware, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *FirmwareService) List(ctx context.Context, filter domain.FirmwareFilter) ([]*domain.Firmware, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *FirmwareService) OpenFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, *domain.Firmware, error) {
	fw, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s.store.Open(ctx, fw.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open firmware file: %w", err)
	}

	return reader, fw, nil
}

// SetDeprecated is the only mutation a firmware record admits.
func (s *FirmwareService) SetDeprecated(ctx context.Context, id uuid.UUID, deprecated bool) error {
	if err := s.repo.SetDeprecated(ctx, id, deprecated); err != nil {
		return err
	}
	s.log.Info("firmware deprecation changed", "id", id, "deprecated", deprecated)
	return nil
}

// Delete removes a firmware record and its binary. Refused while any active
// campaign references the firmware.
func (s *FirmwareService) Delete(ctx context.Context, id uuid.UUID) error {
	fw, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	active, err := s.campaignRepo.CountActiveByFirmware(ctx, id)
	if err != nil {
		return fmt.Errorf("check active campaigns: %w", err)
	}
	if active > 0 {
		return fmt.Errorf("%w: %d active campaigns", domain.ErrFirmwareInUse, active)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, fw.StoragePath); err != nil {
		s.log.Warn("failed to delete firmware file", "path", fw.StoragePath, "err", err)
	}

	s.log.Info("firmware deleted", "id", id)
	return nil
}
