package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
)

// workerResult is delivered to the owning runner (or the standalone
// dispatcher) when an update reaches a terminal state.
type workerResult struct {
	updateID    uuid.UUID
	deviceID    uuid.UUID
	finalStatus domain.UpdateStatus
}

// runUpdate drives one device update through its phases:
// downloading -> verifying -> installing -> rebooting -> completed, with the
// update's phase timeout (or the configured default) applied to each phase
// independently. Returns the
// terminal status the update reached. Persistence failures during the run
// leave the row for crash recovery and report the row's last known state.
func (o *Orchestrator) runUpdate(ctx context.Context, u *domain.DeviceUpdate) domain.UpdateStatus {
	fw, err := o.fwRepo.GetByID(ctx, u.FirmwareID)
	if err != nil {
		o.log.Error("firmware lookup failed, failing update", "update", u.ID, "err", err)
		return o.failUpdate(ctx, u, domain.ErrorCodeDependency, "firmware unavailable: "+err.Error())
	}

	phases := []struct {
		status domain.UpdateStatus
		entry  int
		run    func(context.Context, *domain.DeviceUpdate, *domain.Firmware) error
	}{
		{domain.UpdateStatusDownloading, 0, o.driver.Download},
		{domain.UpdateStatusVerifying, 60, o.driver.Verify},
		{domain.UpdateStatusInstalling, 70, o.driver.Install},
		{domain.UpdateStatusRebooting, 95, o.driver.Reboot},
	}

	timeout := o.phaseTimeout(u)

	for _, phase := range phases {
		if _, err := o.updates.Advance(ctx, u.ID, phase.status, phase.entry); err != nil {
			// A concurrent cancel is the one legitimate way the row can move
			// underneath the worker.
			if errors.Is(err, domain.ErrInvalidTransition) {
				if current, gerr := o.updates.GetByID(ctx, u.ID); gerr == nil && current.Status == domain.UpdateStatusCancelled {
					return domain.UpdateStatusCancelled
				}
			}
			o.log.Error("phase transition rejected", "update", u.ID, "phase", phase.status, "err", err)
			return o.failUpdate(ctx, u, domain.ErrorCodeDependency, "phase transition rejected: "+err.Error())
		}

		phaseCtx, cancel := context.WithTimeout(ctx, timeout)
		err := phase.run(phaseCtx, u, fw)
		cancel()

		if err != nil {
			code, msg := classifyPhaseError(phaseCtx, err, phase.status)
			return o.failUpdate(ctx, u, code, msg)
		}
	}

	if _, err := o.updates.Advance(ctx, u.ID, domain.UpdateStatusCompleted, 100); err != nil {
		o.log.Error("failed to complete update", "update", u.ID, "err", err)
		return o.failUpdate(ctx, u, domain.ErrorCodeDependency, "completion not persisted: "+err.Error())
	}
	return domain.UpdateStatusCompleted
}

// phaseTimeout resolves the per-phase deadline for an update: the value the
// caller supplied at scheduling time, or the configured default.
func (o *Orchestrator) phaseTimeout(u *domain.DeviceUpdate) time.Duration {
	if u.TimeoutMinutes > 0 {
		return time.Duration(u.TimeoutMinutes) * time.Minute
	}
	return o.cfg.PhaseTimeout
}

func (o *Orchestrator) failUpdate(ctx context.Context, u *domain.DeviceUpdate, code, msg string) domain.UpdateStatus {
	if _, err := o.updates.Fail(ctx, u.ID, code, msg); err != nil {
		o.log.Error("failed to persist update failure", "update", u.ID, "err", err)
	}
	return domain.UpdateStatusFailed
}

// classifyPhaseError maps a driver error to the code recorded on the update.
func classifyPhaseError(phaseCtx context.Context, err error, phase domain.UpdateStatus) (string, string) {
	if errors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
		return domain.ErrorCodeTimeout, string(phase) + " timed out"
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	return domain.ErrorCodeDependency, err.Error()
}
