package campaign

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/reachforge/outreach/store"
)

// errCampaignHalted unwinds the walker when the campaign row turns terminal
// or is deleted underneath a running lead.
var errCampaignHalted = errors.New("campaign halted")

// withLeadActivityOptions applies the outreach activity policy: five-minute
// calls with heartbeats for slow provider operations and the standard
// three-attempt retry ladder.
func withLeadActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				errTypeValidation, errTypeAuth, errTypeNotFound, errTypeExhaustive,
			},
		},
	})
}

// LeadWorkflow walks one lead through the campaign graph. Nodes execute in
// FIFO order over the zero-indegree frontier; conditional edges are followed
// when their polarity matches the node outcome and edge delays run on durable
// timers so the walk survives worker restarts.
func LeadWorkflow(ctx workflow.Context, input LeadWorkflowInput) (*LeadWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx = withLeadActivityOptions(ctx)
	var acts *Activities

	if err := workflow.ExecuteActivity(ctx, acts.SetLeadStatus, SetLeadStatusInput{
		LeadID: input.LeadID,
		Status: store.LeadProcessing,
	}).Get(ctx, nil); err != nil {
		return nil, err
	}

	var extracted ExtractIdentifierResult
	if err := workflow.ExecuteActivity(ctx, acts.ExtractProfileIdentifier, ExtractIdentifierInput{
		URL: input.ProfileURL,
	}).Get(ctx, &extracted); err != nil {
		return failLead(ctx, input, 0, "profile identifier extraction failed")
	}
	identifier := ""
	if extracted.Identifier != nil {
		identifier = *extracted.Identifier
	}

	trav := newTraversal(&input.Workflow)
	steps := 0
	lastInvitationID := ""

	for {
		node, ok := trav.Next()
		if !ok {
			break
		}

		// Observe pause, stop and deletion between steps.
		if err := waitForCampaignActive(ctx, input.CampaignID); err != nil {
			if errors.Is(err, errCampaignHalted) {
				return failLead(ctx, input, steps, "campaign no longer active")
			}
			return nil, err
		}

		var acct VerifyAccountResult
		if err := workflow.ExecuteActivity(ctx, acts.VerifyProviderAccount, VerifyAccountInput{
			AccountID: input.AccountID,
		}).Get(ctx, &acct); err != nil {
			return failLead(ctx, input, steps, "provider account lookup failed")
		}
		if acct.ProviderAccountID == nil {
			return failLead(ctx, input, steps, "provider account disconnected")
		}

		if err := awaitSendingWindow(ctx, input); err != nil {
			return nil, err
		}

		result, err := executeNode(ctx, input, trav, node, identifier, *acct.ProviderAccountID, &lastInvitationID)
		if err != nil {
			var appErr *temporal.ApplicationError
			if errors.As(err, &appErr) && appErr.Type() == errTypeAuth {
				return failLead(ctx, input, steps, "provider authentication failed")
			}
			if errors.Is(err, errCampaignHalted) {
				return failLead(ctx, input, steps, "campaign no longer active")
			}
			_, _ = failLead(ctx, input, steps, "node execution failed")
			return nil, err
		}

		if actionType, isAction := node.Action(); isAction {
			if err := workflow.ExecuteActivity(ctx, acts.RecordCampaignStep, RecordStepInput{
				CampaignID: input.CampaignID,
				LeadID:     input.LeadID,
				StepIndex:  steps,
				NodeType:   string(actionType),
				Config:     node.Data.Config,
				Result:     result,
			}).Get(ctx, nil); err != nil {
				logger.Warn("step record not persisted", "lead_id", input.LeadID, "node_id", node.ID, "error", err)
			}
			steps++
		}

		for _, edge := range trav.Outgoing(node.ID) {
			if edge.Conditional() && edge.Positive() != result.Success {
				trav.Skip(edge.Target)
				continue
			}
			if delay := edge.Delay(); delay > 0 {
				if err := workflow.Sleep(ctx, delay); err != nil {
					return nil, err
				}
			}
			if trav.Arrive(edge.Target) {
				trav.Enqueue(edge.Target)
			}
		}
	}

	if err := workflow.ExecuteActivity(ctx, acts.SetLeadStatus, SetLeadStatusInput{
		LeadID: input.LeadID,
		Status: store.LeadCompleted,
	}).Get(ctx, nil); err != nil {
		return nil, err
	}
	logger.Info("lead completed", "lead_id", input.LeadID, "steps", steps)
	return &LeadWorkflowResult{Status: string(store.LeadCompleted), StepsExecuted: steps}, nil
}

// executeNode runs one node and returns its outcome. No-op nodes succeed
// without touching the provider; an unknown action type is a programming
// error and fails the workflow.
func executeNode(ctx workflow.Context, input LeadWorkflowInput, trav *traversal, node Node, identifier, providerAccountID string, lastInvitationID *string) (ActionResult, error) {
	actionType, ok := node.Action()
	if !ok {
		return ActionResult{Success: true}, nil
	}
	if identifier == "" {
		return ActionResult{Success: false, Message: "profile identifier missing"}, nil
	}

	actIn := ActionInput{
		CampaignID:        input.CampaignID,
		LeadID:            input.LeadID,
		AccountID:         input.AccountID,
		ProviderAccountID: providerAccountID,
		Identifier:        identifier,
		Config:            node.Data.Config,
		ProviderID:        *lastInvitationID,
	}
	var acts *Activities
	var fut workflow.Future
	switch actionType {
	case ActionProfileVisit:
		fut = workflow.ExecuteActivity(ctx, acts.ProfileVisit, actIn)
	case ActionLikePost:
		fut = workflow.ExecuteActivity(ctx, acts.LikePost, actIn)
	case ActionCommentPost:
		fut = workflow.ExecuteActivity(ctx, acts.CommentPost, actIn)
	case ActionSendFollowup:
		fut = workflow.ExecuteActivity(ctx, acts.SendFollowup, actIn)
	case ActionWithdrawRequest:
		fut = workflow.ExecuteActivity(ctx, acts.WithdrawRequest, actIn)
	case ActionSendInMail:
		fut = workflow.ExecuteActivity(ctx, acts.SendInMail, actIn)
	case ActionSendConnectionRequest:
		return runConnectionRequest(ctx, input, trav, node, actIn, lastInvitationID)
	default:
		return ActionResult{}, temporal.NewNonRetryableApplicationError(
			"unhandled action type "+string(actionType), errTypeExhaustive, nil)
	}

	var result ActionResult
	if err := fut.Get(ctx, &result); err != nil {
		return resultFromActivityError(err)
	}
	return result, nil
}

// resultFromActivityError keeps workflow control over per-step failures.
// Auth failures and cancellation bubble; everything else becomes a failed
// outcome the conditional edges react to.
func resultFromActivityError(err error) (ActionResult, error) {
	if temporal.IsCanceledError(err) {
		return ActionResult{}, err
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.Type() == errTypeAuth {
			return ActionResult{}, err
		}
		return ActionResult{Success: false, Message: appErr.Error()}, nil
	}
	return ActionResult{Success: false, Message: err.Error()}, nil
}

// waitForCampaignActive blocks while the campaign is paused, rechecking every
// five minutes, and returns errCampaignHalted once the campaign is terminal
// or deleted.
func waitForCampaignActive(ctx workflow.Context, campaignID string) error {
	var acts *Activities
	for {
		var status CampaignStatusResult
		if err := workflow.ExecuteActivity(ctx, acts.CheckCampaignStatus, CampaignStatusInput{
			CampaignID: campaignID,
		}).Get(ctx, &status); err != nil {
			return err
		}
		if status.IsDeleted || status.Status.Terminal() {
			return errCampaignHalted
		}
		if status.Status != store.CampaignPaused {
			return nil
		}
		if err := workflow.Sleep(ctx, pausedRecheckInterval); err != nil {
			return err
		}
	}
}

// awaitSendingWindow gates on the campaign's daily window: sleep the exact
// wait, then recheck once to absorb boundary skew.
func awaitSendingWindow(ctx workflow.Context, input LeadWorkflowInput) error {
	if input.StartTime == "" || input.EndTime == "" || input.Timezone == "" {
		return nil
	}
	var acts *Activities
	windowIn := TimeWindowInput{StartTime: input.StartTime, EndTime: input.EndTime, Timezone: input.Timezone}

	var res TimeWindowResult
	if err := workflow.ExecuteActivity(ctx, acts.CheckTimeWindow, windowIn).Get(ctx, &res); err != nil {
		return err
	}
	if res.InWindow {
		return nil
	}
	if err := workflow.Sleep(ctx, time.Duration(res.WaitMs)*time.Millisecond); err != nil {
		return err
	}
	if err := workflow.ExecuteActivity(ctx, acts.CheckTimeWindow, windowIn).Get(ctx, &res); err != nil {
		return err
	}
	if !res.InWindow && res.WaitMs > 0 {
		if err := workflow.Sleep(ctx, time.Duration(res.WaitMs)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// failLead marks the lead Failed and ends the walk cleanly so the parent can
// account for it.
func failLead(ctx workflow.Context, input LeadWorkflowInput, steps int, reason string) (*LeadWorkflowResult, error) {
	var acts *Activities
	workflow.GetLogger(ctx).Warn("lead failed", "lead_id", input.LeadID, "campaign_id", input.CampaignID, "reason", reason)
	if err := workflow.ExecuteActivity(ctx, acts.SetLeadStatus, SetLeadStatusInput{
		LeadID: input.LeadID,
		Status: store.LeadFailed,
	}).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("lead status not persisted", "lead_id", input.LeadID, "error", err)
	}
	return &LeadWorkflowResult{Status: string(store.LeadFailed), StepsExecuted: steps}, nil
}
