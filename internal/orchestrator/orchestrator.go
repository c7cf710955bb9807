package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/config"
	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/events"
	"github.com/CaioWing/Armada/internal/service"
)

// Orchestrator owns all rollout execution: one runner goroutine per active
// campaign plus standalone dispatch for single-device updates and rollback
// reverse updates. A global semaphore caps concurrent device updates across
// every campaign.
type Orchestrator struct {
	cfg        config.SchedulerConfig
	campaigns  *service.CampaignService
	updates    *service.UpdateService
	rollbacks  *service.RollbackService
	campRepo   domain.CampaignRepository
	updateRepo domain.UpdateRepository
	fwRepo     domain.FirmwareRepository
	driver     Driver
	publisher  events.Publisher
	log        *slog.Logger

	sem chan struct{}

	mu      sync.Mutex
	runners map[uuid.UUID]*runner

	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

func New(
	cfg config.SchedulerConfig,
	campaigns *service.CampaignService,
	updates *service.UpdateService,
	rollbacks *service.RollbackService,
	campRepo domain.CampaignRepository,
	updateRepo domain.UpdateRepository,
	fwRepo domain.FirmwareRepository,
	driver Driver,
	publisher events.Publisher,
	log *slog.Logger,
) *Orchestrator {
	limit := cfg.GlobalWorkerLimit
	if limit <= 0 {
		limit = 64
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		campaigns:  campaigns,
		updates:    updates,
		rollbacks:  rollbacks,
		campRepo:   campRepo,
		updateRepo: updateRepo,
		fwRepo:     fwRepo,
		driver:     driver,
		publisher:  publisher,
		log:        log,
		sem:        make(chan struct{}, limit),
		runners:    make(map[uuid.UUID]*runner),
		baseCtx:    baseCtx,
		stop:       stop,
	}
}

// Recover restores execution after a restart: in-flight rows are failed (the
// worker driving them died with the process), standalone scheduled updates
// are re-dispatched, and runners are spawned for every campaign that was
// in progress or paused.
func (o *Orchestrator) Recover(ctx context.Context) error {
	stale, err := o.updateRepo.ListStaleInFlight(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list interrupted updates: %w", err)
	}
	for _, u := range stale {
		if _, err := o.updates.Fail(ctx, u.ID, domain.ErrorCodeTimeout, "interrupted by orchestrator restart"); err != nil {
			o.log.Error("failed to fail interrupted update", "update", u.ID, "err", err)
			continue
		}
		if err := o.rollbacks.ResolveByUpdate(ctx, u.ID, domain.UpdateStatusFailed); err != nil {
			o.log.Error("failed to resolve rollback for interrupted update", "update", u.ID, "err", err)
		}
	}
	if len(stale) > 0 {
		o.log.Warn("failed interrupted updates from previous run", "count", len(stale))
	}

	standalone, err := o.updateRepo.ListStandaloneScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list standalone scheduled updates: %w", err)
	}
	for _, u := range standalone {
		o.DispatchStandalone(u)
	}

	active, err := o.campRepo.ListByStatus(ctx, domain.CampaignStatusInProgress, domain.CampaignStatusPaused)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}
	for _, c := range active {
		if err := o.spawnRunner(ctx, c); err != nil {
			o.log.Error("failed to resume campaign", "campaign", c.ID, "err", err)
		}
	}

	o.log.Info("orchestrator recovered",
		"interrupted", len(stale), "standalone", len(standalone), "campaigns", len(active))
	return nil
}

// StartCampaign validates the start transition and hands the campaign to a
// new runner.
func (o *Orchestrator) StartCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := o.campaigns.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.spawnRunner(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (o *Orchestrator) PauseCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := o.campaigns.Pause(ctx, id)
	if err != nil {
		return nil, err
	}
	o.send(id, command{kind: cmdPause})
	return c, nil
}

func (o *Orchestrator) ResumeCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := o.campaigns.Resume(ctx, id)
	if err != nil {
		return nil, err
	}
	o.send(id, command{kind: cmdResume})
	return c, nil
}

// CancelCampaign stops dispatch, cancels every pending device and lets
// in-flight updates drain. A campaign that never started is settled
// synchronously; a running one is settled by its runner once drained.
func (o *Orchestrator) CancelCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := o.campRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionCampaign(c.Status, domain.CampaignStatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, domain.CampaignStatusCancelled)
	}

	if c.Status == domain.CampaignStatusCreated {
		return o.cancelUnstarted(ctx, c)
	}
	o.send(id, command{kind: cmdCancel})
	return c, nil
}

// cancelUnstarted settles a created campaign: every target gets a cancelled
// update row so the device history shows the campaign touched it.
func (o *Orchestrator) cancelUnstarted(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error) {
	for _, deviceID := range c.TargetDeviceIDs {
		if _, err := o.updates.RecordCancelled(ctx, c.ID, deviceID, c.FirmwareID); err != nil {
			return nil, fmt.Errorf("cancel device %s: %w", deviceID, err)
		}
	}
	counters := domain.CampaignCounters{Cancelled: len(c.TargetDeviceIDs)}
	if err := o.campRepo.UpdateCounters(ctx, c.ID, counters); err != nil {
		return nil, err
	}
	if err := o.campRepo.SetFinished(ctx, c.ID, domain.CampaignStatusCancelled); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignStatusCancelled
	c.Counters = counters

	o.publishCampaign(ctx, events.TypeCampaignCancelled, c)
	o.log.Info("campaign cancelled before start", "campaign", c.ID, "devices", len(c.TargetDeviceIDs))
	return c, nil
}

// RollbackCampaign reverts a campaign. Active campaigns stop dispatching,
// cancel pending devices and drain before reverse updates go out; terminal
// campaigns get their rollback operations dispatched immediately.
func (o *Orchestrator) RollbackCampaign(ctx context.Context, id uuid.UUID, reason string) (*domain.Campaign, error) {
	c, err := o.campRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case domain.CampaignStatusInProgress, domain.CampaignStatusPaused:
		o.send(id, command{kind: cmdRollback, trigger: domain.RollbackTriggerManual, reason: reason})
		return c, nil
	case domain.CampaignStatusCompleted, domain.CampaignStatusFailed, domain.CampaignStatusCancelled:
		ops, err := o.rollbacks.PrepareCampaignRollback(ctx, c, domain.RollbackTriggerManual, reason)
		if err != nil {
			return nil, err
		}
		o.dispatchRollbackOps(ctx, ops)
		return c, nil
	default:
		return nil, fmt.Errorf("%w: nothing to roll back, campaign is %s", domain.ErrInvalidInput, c.Status)
	}
}

// RollbackDevice reverts one device to its previous firmware and dispatches
// the reverse update.
func (o *Orchestrator) RollbackDevice(ctx context.Context, deviceID uuid.UUID, reason string) (*domain.RollbackOperation, error) {
	op, err := o.rollbacks.RollbackDevice(ctx, deviceID, reason)
	if err != nil {
		return op, err
	}
	o.dispatchRollbackOps(ctx, []*domain.RollbackOperation{op})
	return op, nil
}

func (o *Orchestrator) dispatchRollbackOps(ctx context.Context, ops []*domain.RollbackOperation) {
	for _, op := range ops {
		u, err := o.updates.GetByID(ctx, op.UpdateID)
		if err != nil {
			o.log.Error("reverse update missing, rollback op stranded", "op", op.ID, "update", op.UpdateID, "err", err)
			continue
		}
		o.DispatchStandalone(u)
	}
}

// DispatchStandalone runs a campaign-less update (direct schedule or
// rollback reverse update) through the worker pool. Terminal state settles
// any rollback operation linked to the update.
func (o *Orchestrator) DispatchStandalone(u *domain.DeviceUpdate) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case o.sem <- struct{}{}:
		case <-o.baseCtx.Done():
			return
		}
		defer func() { <-o.sem }()

		final := o.runUpdate(o.baseCtx, u)
		if err := o.rollbacks.ResolveByUpdate(o.baseCtx, u.ID, final); err != nil {
			o.log.Error("failed to resolve rollback operation", "update", u.ID, "err", err)
		}
	}()
}

// RetryUpdate resets a failed update and dispatches it again. Campaign
// updates re-enter through their runner when one is active and still
// admitting; updates whose campaign is draining or already finished run
// standalone and no longer move its counters.
func (o *Orchestrator) RetryUpdate(ctx context.Context, id uuid.UUID) (*domain.DeviceUpdate, error) {
	u, err := o.updates.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.CampaignID != nil {
		if r := o.runner(*u.CampaignID); r != nil && r.enqueueRetry(u) {
			return u, nil
		}
	}
	o.DispatchStandalone(u)
	return u, nil
}

// ScheduleUpdate validates and creates a standalone update, then dispatches
// it immediately.
func (o *Orchestrator) ScheduleUpdate(ctx context.Context, input service.ScheduleUpdateInput) (*domain.DeviceUpdate, error) {
	input.CampaignID = nil
	u, err := o.updates.Schedule(ctx, input)
	if err != nil {
		return nil, err
	}
	o.DispatchStandalone(u)
	return u, nil
}

func (o *Orchestrator) spawnRunner(ctx context.Context, c *domain.Campaign) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.runners[c.ID]; ok {
		return fmt.Errorf("%w: campaign %s already running", domain.ErrConflict, c.ID)
	}

	r, err := newRunner(ctx, o, c)
	if err != nil {
		return err
	}
	o.runners[c.ID] = r

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		r.loop(o.baseCtx)
		o.mu.Lock()
		delete(o.runners, c.ID)
		o.mu.Unlock()
	}()
	return nil
}

// RolloutSnapshot is a point-in-time view of execution load, exposed on the
// metrics endpoint.
type RolloutSnapshot struct {
	ActiveCampaigns int
	BusyWorkers     int
	WorkerCapacity  int
}

func (o *Orchestrator) Snapshot() RolloutSnapshot {
	o.mu.Lock()
	active := len(o.runners)
	o.mu.Unlock()
	return RolloutSnapshot{
		ActiveCampaigns: active,
		BusyWorkers:     len(o.sem),
		WorkerCapacity:  cap(o.sem),
	}
}

func (o *Orchestrator) runner(campaignID uuid.UUID) *runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runners[campaignID]
}

func (o *Orchestrator) send(campaignID uuid.UUID, cmd command) {
	if r := o.runner(campaignID); r != nil {
		r.send(cmd)
	}
}

func (o *Orchestrator) publishCampaign(ctx context.Context, eventType string, c *domain.Campaign) {
	ev := events.Event{
		Type:       eventType,
		CampaignID: &c.ID,
		FirmwareID: &c.FirmwareID,
		Timestamp:  time.Now().UTC(),
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.log.Warn("failed to publish event", "type", eventType, "err", err)
	}
}

// Shutdown stops dispatch and waits for workers and runners to wind down or
// the context to expire. Updates still in flight at expiry are recovered on
// the next boot.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
