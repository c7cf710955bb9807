package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
	"github.com/CaioWing/Armada/internal/events"
	"github.com/CaioWing/Armada/internal/service"
)

// Priority assigned to campaign-driven updates. Operator-scheduled
// standalone updates may outrank them; rollback reverse updates always do.
const campaignPriority = 5

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdCancel
	cmdRollback
	cmdRetry
)

type command struct {
	kind    cmdKind
	trigger domain.RollbackTrigger
	reason  string
	update  *domain.DeviceUpdate
	reply   chan bool // cmdRetry only: whether the runner took the update
}

// drainReason says why a runner stopped admitting devices before the
// campaign ran out of work.
type drainReason int

const (
	drainNone drainReason = iota
	drainCancel
	drainRollback
	drainGateFailure
)

// runner executes one campaign. It is the only goroutine that mutates the
// campaign's counters, so the pending + in_progress + completed + failed +
// cancelled == total invariant holds without locks; workers report terminal
// transitions through the results channel.
type runner struct {
	o        *Orchestrator
	campaign *domain.Campaign
	counters domain.CampaignCounters

	queue    *dispatchQueue
	existing map[uuid.UUID]*domain.DeviceUpdate // queued devices that already have a row

	waves       []int
	waveIdx     int
	waveToDo    int // devices of the current wave not yet dispatched
	waveInWork  int // devices of the current wave dispatched but not terminal
	waveWaiting bool

	inFlight int
	paused   bool
	draining drainReason
	rollback command

	commands  chan command
	results   chan workerResult
	waveTimer chan struct{}
	done      chan struct{} // closed when the loop exits
}

// newRunner rebuilds the campaign's execution state from its update rows:
// devices with terminal rows are counted, scheduled rows re-enter the queue,
// and devices with no row at all are pending. In-flight rows were already
// failed by crash recovery before any runner starts.
func newRunner(ctx context.Context, o *Orchestrator, c *domain.Campaign) (*runner, error) {
	r := &runner{
		o:         o,
		campaign:  c,
		queue:     newDispatchQueue(),
		existing:  make(map[uuid.UUID]*domain.DeviceUpdate),
		paused:    c.Status == domain.CampaignStatusPaused,
		commands:  make(chan command, 16),
		results:   make(chan workerResult, 64),
		waveTimer: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	rows, err := o.updateRepo.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(rows))
	for _, u := range rows {
		seen[u.DeviceID] = true
		switch u.Status {
		case domain.UpdateStatusCompleted:
			r.counters.Completed++
		case domain.UpdateStatusFailed:
			r.counters.Failed++
		case domain.UpdateStatusCancelled:
			r.counters.Cancelled++
		case domain.UpdateStatusScheduled:
			r.counters.Pending++
			r.existing[u.DeviceID] = u
			r.queue.push(u.DeviceID, u.Priority)
		default:
			// Residual in-flight row; treat as pending and re-run it.
			r.counters.Pending++
			r.existing[u.DeviceID] = u
			r.queue.push(u.DeviceID, u.Priority)
		}
	}
	for _, deviceID := range c.TargetDeviceIDs {
		if !seen[deviceID] {
			r.counters.Pending++
			r.queue.push(deviceID, campaignPriority)
		}
	}

	r.waves = planWaves(c, len(c.TargetDeviceIDs), o.cfg.CanaryPercent)
	r.rebuildWavePosition()
	return r, nil
}

// planWaves slices the target set into admission waves per strategy.
func planWaves(c *domain.Campaign, total, canaryPercent int) []int {
	switch c.Strategy {
	case domain.StrategyStaged:
		batch := c.BatchSize
		if batch <= 0 {
			batch = total
		}
		var waves []int
		for left := total; left > 0; left -= batch {
			if left < batch {
				waves = append(waves, left)
			} else {
				waves = append(waves, batch)
			}
		}
		return waves
	case domain.StrategyCanary:
		canary := (total*canaryPercent + 99) / 100
		if canary < 1 {
			canary = 1
		}
		if canary >= total {
			return []int{total}
		}
		return []int{canary, total - canary}
	case domain.StrategyBlueGreen:
		blue := (total + 1) / 2
		if blue >= total {
			return []int{total}
		}
		return []int{blue, total - blue}
	default:
		// immediate and scheduled admit everything at once
		return []int{total}
	}
}

// rebuildWavePosition attributes already-terminal devices to the earliest
// waves so a resumed campaign picks up where it left off.
func (r *runner) rebuildWavePosition() {
	terminal := r.counters.Terminal()
	r.waveIdx = 0
	for r.waveIdx < len(r.waves)-1 && terminal >= r.waves[r.waveIdx] {
		terminal -= r.waves[r.waveIdx]
		r.waveIdx++
	}
	r.waveToDo = r.waves[r.waveIdx] - terminal
	r.waveInWork = 0
}

func (r *runner) send(cmd command) {
	r.commands <- cmd
}

// enqueueRetry offers a retried update back to the runner. The runner
// refuses once it is draining or gone; the caller then dispatches the update
// standalone so it is never stranded in scheduled.
func (r *runner) enqueueRetry(u *domain.DeviceUpdate) bool {
	cmd := command{kind: cmdRetry, update: u, reply: make(chan bool, 1)}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return false
	}
	select {
	case accepted := <-cmd.reply:
		return accepted
	case <-r.done:
		return false
	}
}

func (r *runner) loop(ctx context.Context) {
	defer close(r.done)

	log := r.o.log.With("campaign", r.campaign.ID, "strategy", r.campaign.Strategy)
	log.Info("campaign runner started",
		"pending", r.counters.Pending, "completed", r.counters.Completed,
		"failed", r.counters.Failed, "waves", len(r.waves))

	r.admit(ctx)

	for {
		if r.finished(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			log.Info("campaign runner stopping, orchestrator shutdown")
			return
		case cmd := <-r.commands:
			r.handleCommand(ctx, cmd)
		case res := <-r.results:
			r.handleResult(ctx, res)
		case <-r.waveTimer:
			r.waveWaiting = false
			r.admit(ctx)
		}
	}
}

func (r *runner) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdPause:
		r.paused = true
	case cmdResume:
		r.paused = false
		r.admit(ctx)
	case cmdCancel:
		if r.draining == drainNone {
			r.draining = drainCancel
			r.cancelPending(ctx)
		}
	case cmdRollback:
		if r.draining == drainNone {
			r.draining = drainRollback
			r.rollback = cmd
			r.cancelPending(ctx)
		}
	case cmdRetry:
		if r.draining != drainNone || cmd.update == nil {
			cmd.reply <- false
			return
		}
		// The row is back in scheduled; put the device back in the wave.
		r.counters.Failed--
		r.counters.Pending++
		r.existing[cmd.update.DeviceID] = cmd.update
		r.queue.push(cmd.update.DeviceID, cmd.update.Priority)
		r.waveToDo++
		r.persistCounters(ctx)
		cmd.reply <- true
		r.admit(ctx)
	}
}

func (r *runner) handleResult(ctx context.Context, res workerResult) {
	r.inFlight--
	r.waveInWork--
	r.counters.InProgress--
	switch res.finalStatus {
	case domain.UpdateStatusCompleted:
		r.counters.Completed++
	case domain.UpdateStatusCancelled:
		r.counters.Cancelled++
	default:
		r.counters.Failed++
	}
	r.persistCounters(ctx)

	if r.maybeAutoRollback(ctx) {
		return
	}

	r.admit(ctx)
}

// maybeAutoRollback checks the failure threshold and, when breached, flips
// the runner into rollback drain. Returns true when a rollback was started.
func (r *runner) maybeAutoRollback(ctx context.Context) bool {
	if r.draining != drainNone || !ShouldRollback(r.campaign, r.counters, r.o.cfg.MinFailureSample) {
		return false
	}
	r.o.log.Warn("failure threshold breached, initiating automatic rollback",
		"campaign", r.campaign.ID,
		"failure_rate", r.counters.FailureRatePercent(),
		"threshold", r.campaign.FailureThresholdPercent)
	r.draining = drainRollback
	r.rollback = command{trigger: domain.RollbackTriggerAutomatic, reason: "failure threshold exceeded"}
	r.cancelPending(ctx)
	return true
}

// admit dispatches devices allowed by the current wave and the campaign's
// concurrency cap. It also advances waves whose gate has been satisfied.
func (r *runner) admit(ctx context.Context) {
	if r.paused || r.draining != drainNone || r.waveWaiting {
		return
	}

	for r.waveToDo > 0 && r.inFlight < r.campaign.MaxConcurrentUpdates {
		item, ok := r.queue.pop()
		if !ok {
			return
		}
		r.waveToDo--
		r.dispatch(ctx, item.deviceID)
	}

	// Wave complete: evaluate its gate before opening the next one. A
	// schedule failure inside the loop above may have started a drain.
	if r.draining == drainNone && r.waveToDo == 0 && r.waveInWork == 0 && r.waveIdx < len(r.waves)-1 {
		if !r.gatePassed(ctx) {
			return
		}
		r.waveIdx++
		r.waveToDo = r.waves[r.waveIdx]

		if r.campaign.Strategy == domain.StrategyStaged && r.o.cfg.StagedBatchDelay > 0 {
			r.waveWaiting = true
			delay := r.o.cfg.StagedBatchDelay
			time.AfterFunc(delay, func() {
				select {
				case r.waveTimer <- struct{}{}:
				default:
				}
			})
			return
		}
		r.admit(ctx)
	}
}

// gatePassed checks the strategy condition for opening the next wave. A
// failed gate resolves the campaign: blue_green and canary never proceed
// past a bad first wave.
func (r *runner) gatePassed(ctx context.Context) bool {
	switch r.campaign.Strategy {
	case domain.StrategyCanary:
		if r.counters.FailureRatePercent() > r.campaign.FailureThresholdPercent {
			r.o.log.Warn("canary wave failed, aborting campaign",
				"campaign", r.campaign.ID, "failure_rate", r.counters.FailureRatePercent())
			r.failGate(ctx)
			return false
		}
	case domain.StrategyBlueGreen:
		if r.counters.Failed > 0 || r.counters.Cancelled > 0 {
			r.o.log.Warn("blue partition did not fully complete, aborting campaign",
				"campaign", r.campaign.ID, "failed", r.counters.Failed, "cancelled", r.counters.Cancelled)
			r.failGate(ctx)
			return false
		}
	}
	return true
}

func (r *runner) failGate(ctx context.Context) {
	if r.campaign.AutoRollback {
		r.draining = drainRollback
		r.rollback = command{trigger: domain.RollbackTriggerAutomatic, reason: "rollout gate failed"}
	} else {
		r.draining = drainGateFailure
	}
	r.cancelPending(ctx)
}

// dispatch creates (or reuses) the device's update row and hands it to a
// worker. Scheduling failures count as failed immediately; the device never
// occupies a worker slot.
func (r *runner) dispatch(ctx context.Context, deviceID uuid.UUID) {
	u := r.existing[deviceID]
	delete(r.existing, deviceID)

	if u == nil {
		scheduled, err := r.o.updates.Schedule(ctx, service.ScheduleUpdateInput{
			CampaignID: &r.campaign.ID,
			DeviceID:   deviceID,
			FirmwareID: r.campaign.FirmwareID,
			Priority:   campaignPriority,
			MaxRetries: 3,
		})
		if err != nil {
			if _, rerr := r.o.updates.RecordScheduleFailure(ctx, r.campaign.ID, deviceID, r.campaign.FirmwareID, err); rerr != nil {
				r.o.log.Error("failed to record schedule failure", "campaign", r.campaign.ID, "device", deviceID, "err", rerr)
			}
			r.counters.Pending--
			r.counters.Failed++
			r.persistCounters(ctx)
			r.maybeAutoRollback(ctx)
			return
		}
		u = scheduled
	}

	r.counters.Pending--
	r.counters.InProgress++
	r.inFlight++
	r.waveInWork++
	r.persistCounters(ctx)

	r.o.wg.Add(1)
	go func() {
		defer r.o.wg.Done()
		select {
		case r.o.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-r.o.sem }()

		final := r.o.runUpdate(ctx, u)
		select {
		case r.results <- workerResult{updateID: u.ID, deviceID: u.DeviceID, finalStatus: final}:
		case <-ctx.Done():
		}
	}()
}

// cancelPending writes a cancelled row for every device still awaiting
// dispatch and empties the queue. In-flight updates drain on their own.
func (r *runner) cancelPending(ctx context.Context) {
	for {
		item, ok := r.queue.pop()
		if !ok {
			break
		}
		if u := r.existing[item.deviceID]; u != nil {
			delete(r.existing, item.deviceID)
			if _, err := r.o.updates.Cancel(ctx, u.ID); err != nil {
				r.o.log.Error("failed to cancel scheduled update", "update", u.ID, "err", err)
			}
		} else {
			if _, err := r.o.updates.RecordCancelled(ctx, r.campaign.ID, item.deviceID, r.campaign.FirmwareID); err != nil {
				r.o.log.Error("failed to record cancelled device", "campaign", r.campaign.ID, "device", item.deviceID, "err", err)
			}
		}
		r.counters.Pending--
		r.counters.Cancelled++
	}
	r.waveToDo = 0
	r.persistCounters(ctx)
}

// finished resolves the campaign once no device is pending or in flight.
// Returns true when the runner should exit.
func (r *runner) finished(ctx context.Context) bool {
	if r.counters.Pending > 0 || r.counters.InProgress > 0 {
		return false
	}

	var status domain.CampaignStatus
	var eventType string
	switch {
	case r.draining == drainCancel || r.draining == drainRollback:
		status = domain.CampaignStatusCancelled
		eventType = events.TypeCampaignCancelled
	case r.counters.Failed > 0:
		status = domain.CampaignStatusFailed
		eventType = events.TypeCampaignFailed
	default:
		status = domain.CampaignStatusCompleted
		eventType = events.TypeCampaignCompleted
	}

	if err := r.o.campRepo.SetFinished(ctx, r.campaign.ID, status); err != nil {
		r.o.log.Error("failed to finish campaign", "campaign", r.campaign.ID, "err", err)
	}
	r.campaign.Status = status
	r.o.publishCampaign(ctx, eventType, r.campaign)
	r.o.log.Info("campaign finished", "campaign", r.campaign.ID, "status", status,
		"completed", r.counters.Completed, "failed", r.counters.Failed, "cancelled", r.counters.Cancelled)

	if r.draining == drainRollback {
		ops, err := r.o.rollbacks.PrepareCampaignRollback(ctx, r.campaign, r.rollback.trigger, r.rollback.reason)
		if err != nil {
			r.o.log.Error("failed to prepare campaign rollback", "campaign", r.campaign.ID, "err", err)
		} else {
			r.o.dispatchRollbackOps(ctx, ops)
		}
	}
	return true
}

func (r *runner) persistCounters(ctx context.Context) {
	if err := r.o.campRepo.UpdateCounters(ctx, r.campaign.ID, r.counters); err != nil {
		r.o.log.Error("failed to persist campaign counters", "campaign", r.campaign.ID, "err", err)
	}
}
