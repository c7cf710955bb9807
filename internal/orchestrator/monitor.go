package orchestrator

import "github.com/CaioWing/Armada/internal/domain"

// ShouldRollback decides whether a campaign's failure rate warrants an
// automatic rollback. The rate is failed / (completed + failed); devices
// still pending or in flight never count against the campaign. A minimum
// terminal sample keeps a single early failure in a large fleet from
// aborting the rollout.
func ShouldRollback(c *domain.Campaign, counters domain.CampaignCounters, minSample int) bool {
	if !c.AutoRollback {
		return false
	}
	if counters.Terminal() < minSample {
		return false
	}
	return counters.FailureRatePercent() > c.FailureThresholdPercent
}
