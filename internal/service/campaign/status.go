package campaign

import "github.com/jmehdipour/crm-campaigns/internal/model"

// NextStatus derives a campaign status from the current one and a fresh recount.
//
// FAILED and COMPLETED_NO_AUDIENCE never change. Once nothing is PENDING the
// campaign is COMPLETED. COMPLETED_WITH_PENDING and INITIATED are only left by
// the transitions that own them (the last receipt and Process respectively).
func NextStatus(current model.CampaignStatus, counts model.DeliveryCounts) model.CampaignStatus {
	switch current {
	case model.CampaignFailed, model.CampaignCompletedNoAudience:
		return current
	}
	if counts.Pending == 0 {
		return model.CampaignCompleted
	}
	switch current {
	case model.CampaignCompletedWithPending, model.CampaignInitiated:
		return current
	}
	return model.CampaignProcessing
}
