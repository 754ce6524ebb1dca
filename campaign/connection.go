package campaign

import (
	"time"

	"go.temporal.io/sdk/workflow"
)

// runConnectionRequest drives the send-and-poll cycle for a
// send_connection_request node:
//
//  1. gate on the internal invitation allowance, sleeping the exact wait and
//     rechecking once
//  2. send, sleeping through provider quota hints for as long as the provider
//     keeps returning them
//  3. poll the relation state on a cadence derived from the rejected-branch
//     horizon until acceptance, rejection or horizon exhaustion
//
// Transient poll errors are swallowed so a flaky provider cannot end the
// session early. The returned outcome feeds the walker's conditional edges.
func runConnectionRequest(ctx workflow.Context, input LeadWorkflowInput, trav *traversal, node Node, actIn ActionInput, lastInvitationID *string) (ActionResult, error) {
	logger := workflow.GetLogger(ctx)
	var acts *Activities

	limitsIn := CheckLimitsInput{CampaignID: input.CampaignID, AccountID: input.AccountID}
	var allowance CheckLimitsResult
	if err := workflow.ExecuteActivity(ctx, acts.CheckConnectionRequestLimits, limitsIn).Get(ctx, &allowance); err != nil {
		return resultFromActivityError(err)
	}
	if !allowance.CanProceed {
		if allowance.WaitUntilMs <= 0 {
			return limitExceededResult(), nil
		}
		logger.Info("invitation allowance exhausted, waiting for reset",
			"campaign_id", input.CampaignID, "wait_ms", allowance.WaitUntilMs)
		if err := workflow.Sleep(ctx, time.Duration(allowance.WaitUntilMs)*time.Millisecond); err != nil {
			return ActionResult{}, err
		}
		if err := workflow.ExecuteActivity(ctx, acts.CheckConnectionRequestLimits, limitsIn).Get(ctx, &allowance); err != nil {
			return resultFromActivityError(err)
		}
		if !allowance.CanProceed {
			return limitExceededResult(), nil
		}
	}

	var sendRes ActionResult
	for {
		if err := workflow.ExecuteActivity(ctx, acts.SendConnectionRequest, actIn).Get(ctx, &sendRes); err != nil {
			return resultFromActivityError(err)
		}
		if !isProviderLimit(sendRes) {
			break
		}
		hours := sendRes.Data.Error.RetryAfterHours
		if hours <= 0 {
			hours = DefaultQuotaRetryDelay.Hours()
		}
		logger.Info("provider invitation quota reached, sleeping",
			"campaign_id", input.CampaignID, "retry_after_hours", hours)
		if err := workflow.Sleep(ctx, time.Duration(hours*float64(time.Hour))); err != nil {
			return ActionResult{}, err
		}
	}
	if !sendRes.Success {
		return sendRes, nil
	}
	if sendRes.Data != nil && sendRes.Data.AlreadyConnected {
		return sendRes, nil
	}
	if sendRes.Data == nil || sendRes.Data.ProviderID == "" {
		return ActionResult{
			Success: false,
			Message: "invitation id missing from provider response",
			Data:    &ActionData{Error: &ActionError{Type: ErrTypeMissingProviderID}},
		}, nil
	}
	*lastInvitationID = sendRes.Data.ProviderID

	// The rejected-branch delay is the wait budget, zero included: a
	// rejected edge with no delay means "do not wait at all".
	horizon := DefaultPollHorizon
	if delay, ok := trav.RejectedBranchDelay(node.ID); ok {
		horizon = delay
	}
	cadence := pollCadence(horizon)
	logger.Info("polling invitation status",
		"campaign_id", input.CampaignID, "lead_id", input.LeadID,
		"horizon", horizon.String(), "cadence", cadence.String())

	pollIn := actIn
	pollIn.ProviderID = sendRes.Data.ProviderID
	started := workflow.Now(ctx)

	for {
		elapsed := workflow.Now(ctx).Sub(started)
		if elapsed >= horizon {
			return ActionResult{
				Success: false,
				Message: "invitation not accepted within wait window",
				Data: &ActionData{
					Status:     StatusTimeout,
					ProviderID: pollIn.ProviderID,
					DaysWaited: elapsed.Hours() / 24,
				},
			}, nil
		}
		if err := workflow.Sleep(ctx, cadence); err != nil {
			return ActionResult{}, err
		}

		// No provider polling while the campaign is paused; elapsed time
		// keeps counting against the horizon.
		if err := waitForCampaignActive(ctx, input.CampaignID); err != nil {
			return ActionResult{}, err
		}

		var poll ActionResult
		if err := workflow.ExecuteActivity(ctx, acts.CheckConnectionStatus, pollIn).Get(ctx, &poll); err != nil {
			logger.Warn("invitation status check failed, continuing",
				"campaign_id", input.CampaignID, "lead_id", input.LeadID, "error", err)
			continue
		}
		status := ""
		if poll.Data != nil {
			status = poll.Data.Status
		}
		switch status {
		case StatusAccepted:
			waited := workflow.Now(ctx).Sub(started)
			return ActionResult{
				Success: true,
				Data: &ActionData{
					Status:      StatusAccepted,
					ProviderID:  pollIn.ProviderID,
					HoursWaited: waited.Hours(),
				},
			}, nil
		case StatusRejected:
			waited := workflow.Now(ctx).Sub(started)
			return ActionResult{
				Success: false,
				Message: "invitation rejected",
				Data: &ActionData{
					Status:     StatusRejected,
					ProviderID: pollIn.ProviderID,
					DaysWaited: waited.Hours() / 24,
				},
			}, nil
		default:
			// Pending, keep polling.
		}
	}
}

func limitExceededResult() ActionResult {
	return ActionResult{
		Success: false,
		Message: "connection request limit exceeded",
		Data:    &ActionData{Error: &ActionError{Type: ErrTypeRequestLimit}},
	}
}

func isProviderLimit(res ActionResult) bool {
	return !res.Success &&
		res.Data != nil &&
		res.Data.Error != nil &&
		res.Data.Error.Type == ErrTypeProviderLimit &&
		res.Data.Error.ShouldRetry
}
