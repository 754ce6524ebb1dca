package campaign

import "fmt"

// Stable wire names for campaign signals and queries.
const (
	SignalPauseCampaign  = "pause-campaign"
	SignalResumeCampaign = "resume-campaign"
	SignalStopCampaign   = "stop-campaign"
	QueryCampaignStatus  = "get-campaign-status"
)

// TaskQueue is the Temporal task queue campaign workflows run on.
const TaskQueue = "outreach"

// CampaignWorkflowID derives the deterministic parent workflow id. Starting
// the same campaign twice reattaches instead of forking.
func CampaignWorkflowID(campaignID string) string {
	return "campaign-" + campaignID
}

// LeadWorkflowID derives the deterministic child workflow id for a lead.
func LeadWorkflowID(campaignID, leadID string) string {
	return fmt.Sprintf("lead-%s-%s", campaignID, leadID)
}
