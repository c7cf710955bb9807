package orchestrator

import (
	"context"
	"time"

	"github.com/CaioWing/Armada/internal/domain"
)

// RunSweeper periodically starts scheduled campaigns whose start time has
// arrived and fails in-flight updates that lost their worker. Runs until the
// context is cancelled; intended as a single background goroutine.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	interval := o.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.log.Info("sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			o.startDueCampaigns(ctx)
			o.sweepStaleUpdates(ctx)
		}
	}
}

// startDueCampaigns launches created campaigns whose scheduled_at has
// passed. Campaigns awaiting approval stay put until an operator approves;
// they start on the first sweep after approval.
func (o *Orchestrator) startDueCampaigns(ctx context.Context) {
	created, err := o.campRepo.ListByStatus(ctx, domain.CampaignStatusCreated)
	if err != nil {
		o.log.Error("sweeper: failed to list created campaigns", "err", err)
		return
	}
	now := time.Now()
	for _, c := range created {
		if c.ScheduledAt == nil || now.Before(*c.ScheduledAt) {
			continue
		}
		if c.RequiresApproval && c.ApprovedAt == nil {
			continue
		}
		if _, err := o.StartCampaign(ctx, c.ID); err != nil {
			o.log.Error("sweeper: failed to start scheduled campaign", "campaign", c.ID, "err", err)
			continue
		}
		o.log.Info("sweeper: started scheduled campaign", "campaign", c.ID, "scheduled_at", c.ScheduledAt)
	}
}

// sweepStaleUpdates is a safety net for rows whose worker disappeared
// without recording a terminal state. The cutoff is far beyond the per-phase
// timeout, so a live worker can never be swept.
func (o *Orchestrator) sweepStaleUpdates(ctx context.Context) {
	cutoff := time.Now().Add(-5 * o.cfg.PhaseTimeout)
	stale, err := o.updateRepo.ListStaleInFlight(ctx, cutoff)
	if err != nil {
		o.log.Error("sweeper: failed to list stale updates", "err", err)
		return
	}
	for _, u := range stale {
		if _, err := o.updates.Fail(ctx, u.ID, domain.ErrorCodeTimeout, "update abandoned, no progress past phase deadline"); err != nil {
			o.log.Error("sweeper: failed to fail stale update", "update", u.ID, "err", err)
			continue
		}
		if err := o.rollbacks.ResolveByUpdate(ctx, u.ID, domain.UpdateStatusFailed); err != nil {
			o.log.Error("sweeper: failed to resolve rollback", "update", u.ID, "err", err)
		}
		o.log.Warn("sweeper: failed stale update", "update", u.ID, "device", u.DeviceID)
	}
}
