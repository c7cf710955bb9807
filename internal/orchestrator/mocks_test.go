package orchestrator

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
)

// --- In-memory firmware repository ---

type memFirmwareRepo struct {
	mu        sync.RWMutex
	firmwares map[uuid.UUID]*domain.Firmware
}

func newMemFirmwareRepo() *memFirmwareRepo {
	return &memFirmwareRepo{firmwares: make(map[uuid.UUID]*domain.Firmware)}
}

func (m *memFirmwareRepo) Create(_ context.Context, fw *domain.Firmware) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.firmwares[fw.ID]; exists {
		return domain.ErrConflict
	}
	m.firmwares[fw.ID] = fw
	return nil
}

func (m *memFirmwareRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Firmware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fw, ok := m.firmwares[id]; ok {
		return fw, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memFirmwareRepo) GetByVersion(_ context.Context, version, deviceModel string) (*domain.Firmware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fw := range m.firmwares {
		if fw.Version == version && fw.DeviceModel == deviceModel {
			return fw, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memFirmwareRepo) List(_ context.Context, _ domain.FirmwareFilter) ([]*domain.Firmware, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Firmware
	for _, fw := range m.firmwares {
		result = append(result, fw)
	}
	return result, len(result), nil
}

func (m *memFirmwareRepo) SetDeprecated(_ context.Context, id uuid.UUID, deprecated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fw, ok := m.firmwares[id]
	if !ok {
		return domain.ErrNotFound
	}
	fw.Deprecated = deprecated
	return nil
}

func (m *memFirmwareRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.firmwares[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.firmwares, id)
	return nil
}

// --- In-memory campaign repository ---

type memCampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]*domain.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: make(map[uuid.UUID]*domain.Campaign)}
}

func (m *memCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.campaigns[c.ID] = c
	return nil
}

func (m *memCampaignRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.campaigns[id]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memCampaignRepo) List(_ context.Context, _ domain.CampaignFilter) ([]*domain.Campaign, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Campaign
	for _, c := range m.campaigns {
		result = append(result, c)
	}
	return result, len(result), nil
}

func (m *memCampaignRepo) ListByStatus(_ context.Context, statuses ...domain.CampaignStatus) ([]*domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Campaign
	for _, c := range m.campaigns {
		for _, s := range statuses {
			if c.Status == s {
				clone := *c
				result = append(result, &clone)
				break
			}
		}
	}
	return result, nil
}

func (m *memCampaignRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memCampaignRepo) UpdateCounters(_ context.Context, id uuid.UUID, counters domain.CampaignCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Counters = counters
	return nil
}

func (m *memCampaignRepo) SetApproved(_ context.Context, id uuid.UUID, approvedBy string) error {
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

func (m *memCampaignRepo) SetStarted(_ context.Context, id uuid.UUID) error {
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

func (m *memCampaignRepo) SetFinished(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
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

func (m *memCampaignRepo) CountActiveByFirmware(_ context.Context, firmwareID uuid.UUID) (int, error) {
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

func (m *memCampaignRepo) GetStats(_ context.Context) (*domain.CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &domain.CampaignStats{Total: len(m.campaigns)}, nil
}

// --- In-memory update repository ---

type memUpdateRepo struct {
	mu      sync.RWMutex
	updates map[uuid.UUID]*domain.DeviceUpdate
	seq     int
}

func newMemUpdateRepo() *memUpdateRepo {
	return &memUpdateRepo{updates: make(map[uuid.UUID]*domain.DeviceUpdate)}
}

func (m *memUpdateRepo) Create(_ context.Context, u *domain.DeviceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = uuid.New()
	m.seq++
	u.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	clone := *u
	m.updates[u.ID] = &clone
	return nil
}

func (m *memUpdateRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.updates[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memUpdateRepo) List(_ context.Context, f domain.UpdateFilter) ([]*domain.DeviceUpdate, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		if f.Status != nil && u.Status != *f.Status {
			continue
		}
		clone := *u
		result = append(result, &clone)
	}
	return result, len(result), nil
}

func (m *memUpdateRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		if u.CampaignID != nil && *u.CampaignID == campaignID {
			clone := *u
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].DeviceID[:], result[j].DeviceID[:]) < 0
	})
	return result, nil
}

func (m *memUpdateRepo) SetPhase(_ context.Context, id uuid.UUID, status domain.UpdateStatus, progress int) error {
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

func (m *memUpdateRepo) MarkFailed(_ context.Context, id uuid.UUID, errorCode, errorMessage string) error {
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

func (m *memUpdateRepo) MarkCancelled(_ context.Context, id uuid.UUID) error {
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

func (m *memUpdateRepo) ResetForRetry(_ context.Context, id uuid.UUID) error {
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

func (m *memUpdateRepo) CountByStatusForCampaign(_ context.Context, campaignID uuid.UUID) (map[domain.UpdateStatus]int, error) {
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

func (m *memUpdateRepo) LatestCompletedByCampaign(_ context.Context, campaignID uuid.UUID) ([]*domain.DeviceUpdate, error) {
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
		clone := *u
		result = append(result, &clone)
	}
	return result, nil
}

func (m *memUpdateRepo) LatestForDevice(_ context.Context, deviceID uuid.UUID) (*domain.DeviceUpdate, error) {
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

func (m *memUpdateRepo) ListStandaloneScheduled(_ context.Context) ([]*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		if u.CampaignID == nil && u.Status == domain.UpdateStatusScheduled {
			clone := *u
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *memUpdateRepo) ListStaleInFlight(_ context.Context, cutoff time.Time) ([]*domain.DeviceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DeviceUpdate
	for _, u := range m.updates {
		switch u.Status {
		case domain.UpdateStatusDownloading, domain.UpdateStatusVerifying,
			domain.UpdateStatusInstalling, domain.UpdateStatusRebooting:
			if u.StartedAt != nil && u.StartedAt.Before(cutoff) {
				clone := *u
				result = append(result, &clone)
			}
		}
	}
	return result, nil
}

// seed inserts a row directly, bypassing Create's ID assignment when the
// test needs a specific shape.
func (m *memUpdateRepo) seed(u *domain.DeviceUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.seq++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	}
	m.updates[u.ID] = u
}

// --- In-memory rollback repository ---

type memRollbackRepo struct {
	mu  sync.RWMutex
	ops map[uuid.UUID]*domain.RollbackOperation
}

func newMemRollbackRepo() *memRollbackRepo {
	return &memRollbackRepo{ops: make(map[uuid.UUID]*domain.RollbackOperation)}
}

func (m *memRollbackRepo) Create(_ context.Context, op *domain.RollbackOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.ID = uuid.New()
	op.CreatedAt = time.Now()
	clone := *op
	m.ops[op.ID] = &clone
	return nil
}

func (m *memRollbackRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.RollbackOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if op, ok := m.ops[id]; ok {
		clone := *op
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memRollbackRepo) GetByUpdateID(_ context.Context, updateID uuid.UUID) (*domain.RollbackOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, op := range m.ops {
		if op.UpdateID == updateID {
			clone := *op
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRollbackRepo) List(_ context.Context, _ domain.RollbackFilter) ([]*domain.RollbackOperation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.RollbackOperation
	for _, op := range m.ops {
		clone := *op
		result = append(result, &clone)
	}
	return result, len(result), nil
}

func (m *memRollbackRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]*domain.RollbackOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.RollbackOperation
	for _, op := range m.ops {
		if op.CampaignID != nil && *op.CampaignID == campaignID {
			clone := *op
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *memRollbackRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.RollbackStatus) error {
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

// --- In-memory device registry ---

type memRegistry struct {
	mu       sync.RWMutex
	models   map[uuid.UUID]string
	versions map[uuid.UUID]string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		models:   make(map[uuid.UUID]string),
		versions: make(map[uuid.UUID]string),
	}
}

func (m *memRegistry) add(deviceID uuid.UUID, model, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[deviceID] = model
	m.versions[deviceID] = version
}

func (m *memRegistry) Exists(_ context.Context, deviceID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.models[deviceID]
	return ok, nil
}

func (m *memRegistry) GetModel(_ context.Context, deviceID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[deviceID]
	if !ok {
		return "", domain.ErrDeviceNotFound
	}
	return model, nil
}

func (m *memRegistry) GetInstalledVersion(_ context.Context, deviceID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	version, ok := m.versions[deviceID]
	if !ok {
		return "", domain.ErrDeviceNotFound
	}
	return version, nil
}

// --- Fake driver ---

// fakeDriver scripts per-device outcomes. Unscripted devices complete every
// phase instantly. When gate is set, Download blocks until the channel is
// closed so tests can hold updates in flight. The driver also records the
// highest number of simultaneous phase calls it has seen.
type fakeDriver struct {
	mu       sync.Mutex
	failures map[uuid.UUID]phaseFailure
	gate     chan struct{}

	inFlight    int
	maxInFlight int
}

type phaseFailure struct {
	phase string
	err   error
	once  bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failures: make(map[uuid.UUID]phaseFailure)}
}

func (d *fakeDriver) failDevice(deviceID uuid.UUID, phase string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[deviceID] = phaseFailure{phase: phase, err: err}
}

func (d *fakeDriver) failDeviceOnce(deviceID uuid.UUID, phase string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[deviceID] = phaseFailure{phase: phase, err: err, once: true}
}

func (d *fakeDriver) holdDownloads() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
	return d.gate
}

// maxObserved reports the high-water mark of simultaneous phase calls.
func (d *fakeDriver) maxObserved() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func (d *fakeDriver) run(ctx context.Context, phase string, deviceID uuid.UUID) error {
	d.mu.Lock()
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	gate := d.gate
	var scripted error
	if f, ok := d.failures[deviceID]; ok && f.phase == phase {
		if f.once {
			delete(d.failures, deviceID)
		}
		scripted = f.err
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	if scripted != nil {
		return scripted
	}

	if phase == "download" && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *fakeDriver) Download(ctx context.Context, u *domain.DeviceUpdate, _ *domain.Firmware) error {
	return d.run(ctx, "download", u.DeviceID)
}

func (d *fakeDriver) Verify(ctx context.Context, u *domain.DeviceUpdate, _ *domain.Firmware) error {
	return d.run(ctx, "verify", u.DeviceID)
}

func (d *fakeDriver) Install(ctx context.Context, u *domain.DeviceUpdate, _ *domain.Firmware) error {
	return d.run(ctx, "install", u.DeviceID)
}

func (d *fakeDriver) Reboot(ctx context.Context, u *domain.DeviceUpdate, _ *domain.Firmware) error {
	return d.run(ctx, "reboot", u.DeviceID)
}

var _ Driver = (*fakeDriver)(nil)
