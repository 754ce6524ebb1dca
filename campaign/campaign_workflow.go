package campaign

import (
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/workflow"

	"github.com/reachforge/outreach/store"
)

// campaignRunState is the orchestrator's in-memory view of the pause and
// stop signals. The query handler reads it; children observe the persisted
// campaign row instead.
type campaignRunState struct {
	paused  bool
	stopped bool
}

// CampaignWorkflow orchestrates one campaign: it resolves the campaign row
// and stored graph, then starts child lead workflows with bounded concurrency
// and spacing, reacting to pause, resume and stop signals. The workflow id is
// deterministic per campaign so repeated starts reattach.
func CampaignWorkflow(ctx workflow.Context, input CampaignWorkflowInput) (*CampaignWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx = withLeadActivityOptions(ctx)
	var acts *Activities

	maxConcurrent := input.MaxConcurrentLeads
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentLeads
	}
	spacing := input.LeadProcessingDelay
	if spacing <= 0 {
		spacing = DefaultLeadProcessingDelay
	}

	state := &campaignRunState{}
	if err := workflow.SetQueryHandler(ctx, QueryCampaignStatus, func() (CampaignStatusSnapshot, error) {
		return CampaignStatusSnapshot{IsPaused: state.paused}, nil
	}); err != nil {
		return nil, err
	}
	startSignalPump(ctx, input.CampaignID, state)

	var camp store.Campaign
	if err := workflow.ExecuteActivity(ctx, acts.FetchCampaign, CampaignStatusInput{
		CampaignID: input.CampaignID,
	}).Get(ctx, &camp); err != nil {
		return nil, err
	}
	if camp.IsDeleted || camp.Status.Terminal() {
		logger.Info("campaign not runnable", "campaign_id", input.CampaignID, "status", string(camp.Status))
		return &CampaignWorkflowResult{}, nil
	}
	if camp.Status != store.CampaignActive {
		if err := workflow.ExecuteActivity(ctx, acts.UpdateCampaignStatus, UpdateCampaignStatusInput{
			CampaignID: input.CampaignID,
			Status:     store.CampaignActive,
		}).Get(ctx, nil); err != nil {
			return nil, err
		}
	}

	var def WorkflowDefinition
	if err := workflow.ExecuteActivity(ctx, acts.FetchWorkflowDefinition, FetchDefinitionInput{
		OrganizationID: camp.OrganizationID,
		CampaignID:     camp.ID,
	}).Get(ctx, &def); err != nil {
		logger.Error("workflow definition unavailable", "campaign_id", input.CampaignID, "error", err)
		if uerr := workflow.ExecuteActivity(ctx, acts.UpdateCampaignStatus, UpdateCampaignStatusInput{
			CampaignID: input.CampaignID,
			Status:     store.CampaignFailed,
		}).Get(ctx, nil); uerr != nil {
			logger.Warn("campaign status not persisted", "error", uerr)
		}
		return nil, err
	}

	var leads []store.Lead
	if err := workflow.ExecuteActivity(ctx, acts.ListCampaignLeads, ListLeadsInput{
		CampaignID: input.CampaignID,
	}).Get(ctx, &leads); err != nil {
		return nil, err
	}

	result := &CampaignWorkflowResult{}
	running := 0
	first := true
	for _, lead := range leads {
		if lead.Status == store.LeadCompleted || lead.Status == store.LeadFailed {
			continue
		}
		if !first {
			if err := workflow.Sleep(ctx, spacing); err != nil {
				return nil, err
			}
		}
		first = false
		if err := workflow.Await(ctx, func() bool {
			return state.stopped || (!state.paused && running < maxConcurrent)
		}); err != nil {
			return nil, err
		}
		if state.stopped {
			break
		}

		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID:            LeadWorkflowID(input.CampaignID, lead.ID),
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		})
		fut := workflow.ExecuteChildWorkflow(childCtx, LeadWorkflow, LeadWorkflowInput{
			LeadID:         lead.ID,
			CampaignID:     camp.ID,
			OrganizationID: camp.OrganizationID,
			AccountID:      camp.AccountID,
			ProfileURL:     lead.ProfileURL,
			Workflow:       def,
			StartTime:      camp.StartTime,
			EndTime:        camp.EndTime,
			Timezone:       camp.Timezone,
		})
		running++
		result.LeadsDispatched++
		logger.Info("lead dispatched", "campaign_id", input.CampaignID, "lead_id", lead.ID, "in_flight", running)

		workflow.Go(ctx, func(gctx workflow.Context) {
			defer func() { running-- }()
			var childRes LeadWorkflowResult
			if err := fut.Get(gctx, &childRes); err != nil {
				logger.Warn("lead workflow failed", "lead_id", lead.ID, "error", err)
				result.LeadsFailed++
				return
			}
			if childRes.Status == string(store.LeadCompleted) {
				result.LeadsCompleted++
			} else {
				result.LeadsFailed++
			}
		})
	}

	if err := workflow.Await(ctx, func() bool { return running == 0 }); err != nil {
		return nil, err
	}

	if !state.stopped {
		if err := workflow.ExecuteActivity(ctx, acts.UpdateCampaignStatus, UpdateCampaignStatusInput{
			CampaignID: input.CampaignID,
			Status:     store.CampaignCompleted,
		}).Get(ctx, nil); err != nil {
			logger.Warn("campaign status not persisted", "error", err)
		}
	}
	logger.Info("campaign finished",
		"campaign_id", input.CampaignID,
		"dispatched", result.LeadsDispatched,
		"completed", result.LeadsCompleted,
		"failed", result.LeadsFailed,
		"stopped", state.stopped)
	return result, nil
}

// startSignalPump consumes pause, resume and stop signals, mirroring each
// transition onto the campaign row so children can observe it.
func startSignalPump(ctx workflow.Context, campaignID string, state *campaignRunState) {
	var acts *Activities
	logger := workflow.GetLogger(ctx)
	pauseCh := workflow.GetSignalChannel(ctx, SignalPauseCampaign)
	resumeCh := workflow.GetSignalChannel(ctx, SignalResumeCampaign)
	stopCh := workflow.GetSignalChannel(ctx, SignalStopCampaign)

	persist := func(gctx workflow.Context, status store.CampaignStatus) {
		if err := workflow.ExecuteActivity(gctx, acts.UpdateCampaignStatus, UpdateCampaignStatusInput{
			CampaignID: campaignID,
			Status:     status,
		}).Get(gctx, nil); err != nil {
			logger.Warn("campaign status not persisted", "status", string(status), "error", err)
		}
	}

	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			selector := workflow.NewSelector(gctx)
			selector.AddReceive(pauseCh, func(c workflow.ReceiveChannel, _ bool) {
				c.Receive(gctx, nil)
				if state.paused || state.stopped {
					return
				}
				state.paused = true
				logger.Info("campaign paused", "campaign_id", campaignID)
				persist(gctx, store.CampaignPaused)
			})
			selector.AddReceive(resumeCh, func(c workflow.ReceiveChannel, _ bool) {
				c.Receive(gctx, nil)
				if !state.paused || state.stopped {
					return
				}
				state.paused = false
				logger.Info("campaign resumed", "campaign_id", campaignID)
				persist(gctx, store.CampaignActive)
			})
			selector.AddReceive(stopCh, func(c workflow.ReceiveChannel, _ bool) {
				c.Receive(gctx, nil)
				if state.stopped {
					return
				}
				state.stopped = true
				state.paused = false
				logger.Info("campaign stopped", "campaign_id", campaignID)
				persist(gctx, store.CampaignStopped)
			})
			selector.Select(gctx)
			if state.stopped {
				return
			}
		}
	})
}
