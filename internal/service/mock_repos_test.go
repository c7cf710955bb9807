package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
)

// --- Mock Firmware Repository ---

type mockFirmwareRepo struct {
	mu        sync.RWMutex
	firmwares map[uuid.UUID]*domain.Firmware
}

func newMockFirmwareRepo() *mockFirmwareRepo {
	return &mockFirmwareRepo{firmwares: make(map[uuid.UUID]*domain.Firmware)}
}

func (m *mockFirmwareRepo) Create(_ context.Context, fw *domain.Firmware) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.firmwares[fw.ID]; exists {
		return domain.ErrConflict
	}
	fw.CreatedAt = time.Now()
	m.firmwares[fw.ID] = fw
	return nil
}

func (m *mockFirmwareRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Firmware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fw, ok := m.firmwares[id]; ok {
		return fw, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockFirmwareRepo) GetByVersion(_ context.Context, version, deviceModel string) (*domain.Firmware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fw := range m.firmwares {
		if fw.Version == version && fw.DeviceModel == deviceModel {
			return fw, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockFirmwareRepo) List(_ context.Context, f domain.FirmwareFilter) ([]*domain.Firmware, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Firmware
	for _, fw := range m.firmwares {
		if f.Version != nil && fw.Version != *f.Version {
			continue
		}
		if f.DeviceModel != nil && fw.DeviceModel != *f.DeviceModel {
			continue
		}
		if f.Deprecated != nil && fw.Deprecated != *f.Deprecated {
			continue
		}
		result = append(result, fw)
	}
	return result, len(result), nil
}

func (m *mockFirmwareRepo) SetDeprecated(_ context.Context, id uuid.UUID, deprecated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fw, ok := m.firmwares[id]
	if !ok {
		return domain.ErrNotFound
	}
	fw.Deprecated = deprecated
	return nil
}

func (m *mockFirmwareRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.firmwares[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.firmwares, id)
	return nil
}

// --- Mock Campaign Repository ---

type mockCampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]*domain.Campaign
}

func newMockCampaignRepo() *mockCampaignRepo {
	return &mockCampaignRepo{campaigns: make(map[uuid.UUID]*domain.Campaign)}
}

func (m *mockCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.campaigns[c.ID] = c
	return nil
}

func (m *mockCampaignRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.campaigns[id]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockCampaignRepo) List(_ context.Context, f domain.CampaignFilter) ([]*domain.Campaign, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Campaign
	for _, c := range m.campaigns {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.FirmwareID != nil && c.FirmwareID != *f.FirmwareID {
			continue
		}
		result = append(result, c)
	}
	return result, len(result), nil
}

func (m *mockCampaignRepo) ListByStatus(_ context.Context, statuses ...domain.CampaignStatus) ([]*domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Campaign
	for _, c := range m.campaigns {
		for _, s := range statuses {
			if c.Status == s {
				result = append(result, c)
				break
			}
		}
	}
	return result, nil
}

func (m *mockCampaignRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *mockCampaignRepo) UpdateCounters(_ context.Context, id uuid.UUID, counters domain.CampaignCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Counters = counters
	return nil
}

func (m *mockCampaignRepo) SetApproved(_ context.Context, id uuid.UUID, approvedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	c.ApprovedBy = &approvedBy
	c.ApprovedAt = &now
	return nil
}

func (m *mockCampaignRepo) SetStarted(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	c.Status = domain.CampaignStatusInProgress
	c.StartedAt = &now
	return nil
}

func (m *mockCampaignRepo) SetFinished(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	c.Status = status
	c.FinishedAt = &now
	return nil
}

func (m *mockCampaignRepo) CountActiveByFirmware(_ context.Context, firmwareID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.campaigns {
		if c.FirmwareID == firmwareID && !c.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (m *mockCampaignRepo) GetStats(_ context.Context) (*domain.CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &domain.CampaignStats{}
	for _, c := range m.campaigns {
		stats.Total++
		switch c.Status {
		case domain.CampaignStatusCreated:
			stats.Created++
		case domain.CampaignStatusInProgress:
			stats.InProgress++
		case domain.CampaignStatusPaused:
			stats.Paused++
		case domain.CampaignStatusCompleted:
			stats.Completed++
		case domain.CampaignStatusFailed:
			stats.Failed++
		case domain.CampaignStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// --- Mock Update Repository ---

type mockUpdateRepo struct {
	mu      sync.RWMutex
	updates map[uuid.UUID]*domain.DeviceUpdate
	seq     int
}

func newMockUpdateRepo() *mockUpdateRepo {
	return &mockUpdateRepo{updates: make(map[uuid.UUID]*domain.DeviceUpdate)}
}

func (m *mockUpdateRepo) Create(_ context.Context, u *domain.DeviceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CampaignID != nil {
		for _, other := range m.updates {
			if other.CampaignID != nil && *other.CampaignID == *u.CampaignID && other.DeviceID == u.DeviceID {
				return domain.ErrConflict
			}
		}
	}
	u.ID = uuid.New()
	m.seq++
	u.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	m.updates[u.ID] = u
	return nil
}

func (m *mockUpdateRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.updates[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockUpdateRepo) List(_ context.Context, f domain.UpdateFilter) ([]*domain.DeviceUpdate, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		if f.CampaignID != nil && (u.CampaignID == nil || *u.CampaignID != *f.CampaignID) {
			continue
		}
		if f.DeviceID != nil && u.DeviceID != *f.DeviceID {
			continue
		}
		if f.Status != nil && u.Status != *f.Status {
			continue
		}
		result = append(result, u)
	}
	return result, len(result), nil
}

func (m *mockUpdateRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		if u.CampaignID != nil && *u.CampaignID == campaignID {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return bytes.Compare(result[i].DeviceID[:], result[j].DeviceID[:]) < 0
	})
	return result, nil
}

func (m *mockUpdateRepo) SetPhase(_ context.Context, id uuid.UUID, status domain.UpdateStatus, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Status = status
	u.ProgressPercentage = progress
	now := time.Now()
	if status == domain.UpdateStatusDownloading && u.StartedAt == nil {
		u.StartedAt = &now
	}
	if status == domain.UpdateStatusCompleted {
		u.FinishedAt = &now
	}
	return nil
}

func (m *mockUpdateRepo) MarkFailed(_ context.Context, id uuid.UUID, errorCode, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	u.Status = domain.UpdateStatusFailed
	u.ErrorCode = errorCode
	u.ErrorMessage = errorMessage
	u.FinishedAt = &now
	return nil
}

func (m *mockUpdateRepo) MarkCancelled(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	u.Status = domain.UpdateStatusCancelled
	u.FinishedAt = &now
	return nil
}

func (m *mockUpdateRepo) ResetForRetry(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Status = domain.UpdateStatusScheduled
	u.ProgressPercentage = 0
	u.RetryCount++
	u.ErrorCode = ""
	u.ErrorMessage = ""
	u.FinishedAt = nil
	return nil
}

func (m *mockUpdateRepo) CountByStatusForCampaign(_ context.Context, campaignID uuid.UUID) (map[domain.UpdateStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.UpdateStatus]int)
	for _, u := range m.updates {
		if u.CampaignID != nil && *u.CampaignID == campaignID {
			counts[u.Status]++
		}
	}
	return counts, nil
}

func (m *mockUpdateRepo) LatestCompletedByCampaign(_ context.Context, campaignID uuid.UUID) ([]*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[uuid.UUID]*domain.DeviceUpdate)
	for _, u := range m.updates {
		if u.CampaignID == nil || *u.CampaignID != campaignID || u.Status != domain.UpdateStatusCompleted {
			continue
		}
		if prev, ok := latest[u.DeviceID]; !ok || u.CreatedAt.After(prev.CreatedAt) {
			latest[u.DeviceID] = u
		}
	}
	var result []*domain.DeviceUpdate
	for _, u := range latest {
		result = append(result, u)
	}
	return result, nil
}

func (m *mockUpdateRepo) LatestForDevice(_ context.Context, deviceID uuid.UUID) (*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.DeviceUpdate
	for _, u := range m.updates {
		if u.DeviceID != deviceID {
			continue
		}
		if latest == nil || u.CreatedAt.After(latest.CreatedAt) {
			latest = u
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *mockUpdateRepo) ListStandaloneScheduled(_ context.Context) ([]*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		if u.CampaignID == nil && u.Status == domain.UpdateStatusScheduled {
			result = append(result, u)
		}
	}
	return result, nil
}

func (m *mockUpdateRepo) ListStaleInFlight(_ context.Context, cutoff time.Time) ([]*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		switch u.Status {
		case domain.UpdateStatusDownloading, domain.UpdateStatusVerifying,
			domain.UpdateStatusInstalling, domain.UpdateStatusRebooting:
			if u.StartedAt != nil && u.StartedAt.Before(cutoff) {
				result = append(result, u)
			}
		}
	}
	return result, nil
}

// --- Mock Rollback Repository ---

type mockRollbackRepo struct {
	mu  sync.RWMutex
	ops map[uuid.UUID]*domain.RollbackOperation
}

func newMockRollbackRepo() *mockRollbackRepo {
	return &mockRollbackRepo{ops: make(map[uuid.UUID]*domain.RollbackOperation)}
}

func (m *mockRollbackRepo) Create(_ context.Context, op *domain.RollbackOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.ID = uuid.New()
	op.CreatedAt = time.Now()
	m.ops[op.ID] = op
	return nil
}

func (m *mockRollbackRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.RollbackOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if op, ok := m.ops[id]; ok {
		return op, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockRollbackRepo) GetByUpdateID(_ context.Context, updateID uuid.UUID) (*domain.RollbackOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, op := range m.ops {
		if op.UpdateID == updateID {
			return op, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockRollbackRepo) List(_ context.Context, f domain.RollbackFilter) ([]*domain.RollbackOperation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.RollbackOperation
	for _, op := range m.ops {
		if f.CampaignID != nil && (op.CampaignID == nil || *op.CampaignID != *f.CampaignID) {
			continue
		}
		if f.DeviceID != nil && op.DeviceID != *f.DeviceID {
			continue
		}
		if f.Status != nil && op.Status != *f.Status {
			continue
		}
		result = append(result, op)
	}
	return result, len(result), nil
}

func (m *mockRollbackRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]*domain.RollbackOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.RollbackOperation
	for _, op := range m.ops {
		if op.CampaignID != nil && *op.CampaignID == campaignID {
			result = append(result, op)
		}
	}
	return result, nil
}

func (m *mockRollbackRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.RollbackStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	op.Status = status
	op.FinishedAt = &now
	return nil
}

// --- Mock Device Registry ---

type mockRegistry struct {
	mu       sync.RWMutex
	models   map[uuid.UUID]string
	versions map[uuid.UUID]string
	down     bool
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		models:   make(map[uuid.UUID]string),
		versions: make(map[uuid.UUID]string),
	}
}

func (m *mockRegistry) addDevice(model, version string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.models[id] = model
	m.versions[id] = version
	return id
}

func (m *mockRegistry) Exists(_ context.Context, deviceID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return false, domain.ErrDependencyUnavailable
	}
	_, ok := m.models[deviceID]
	return ok, nil
}

func (m *mockRegistry) GetModel(_ context.Context, deviceID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return "", domain.ErrDependencyUnavailable
	}
	model, ok := m.models[deviceID]
	if !ok {
		return "", domain.ErrDeviceNotFound
	}
	return model, nil
}

func (m *mockRegistry) GetInstalledVersion(_ context.Context, deviceID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return "", domain.ErrDependencyUnavailable
	}
	version, ok := m.versions[deviceID]
	if !ok {
		return "", domain.ErrDeviceNotFound
	}
	return version, nil
}

// --- Mock Blob Store ---

type mockBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{blobs: make(map[string][]byte)}
}

func (m *mockBlobStore) Save(_ context.Context, name string, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := "/mock/" + name
	m.blobs[path] = data
	return path, int64(len(data)), nil
}

func (m *mockBlobStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockBlobStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}
