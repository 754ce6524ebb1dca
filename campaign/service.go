package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

type (
	// Service starts and controls campaign workflows through a Temporal
	// client. It is safe for concurrent use.
	Service struct {
		temporal    client.Client
		taskQueue   string
		maxLeads    int
		leadSpacing time.Duration
	}

	// ServiceOptions customize a Service.
	ServiceOptions struct {
		// TaskQueue overrides the default campaign task queue.
		TaskQueue string
		// MaxConcurrentLeads caps in-flight lead workflows per campaign,
		// zero selects DefaultMaxConcurrentLeads.
		MaxConcurrentLeads int
		// LeadProcessingDelay spaces lead dispatches, zero selects
		// DefaultLeadProcessingDelay.
		LeadProcessingDelay time.Duration
	}

	// Status reports the live state of a campaign workflow.
	Status struct {
		IsRunning bool `json:"isRunning"`
		IsPaused  bool `json:"isPaused"`
	}
)

// NewService returns a Service backed by the given Temporal client.
func NewService(tc client.Client, opts *ServiceOptions) (*Service, error) {
	if tc == nil {
		return nil, errors.New("campaign: temporal client is required")
	}
	svc := &Service{temporal: tc, taskQueue: TaskQueue}
	if opts != nil {
		if opts.TaskQueue != "" {
			svc.taskQueue = opts.TaskQueue
		}
		svc.maxLeads = opts.MaxConcurrentLeads
		svc.leadSpacing = opts.LeadProcessingDelay
	}
	return svc, nil
}

// workflowInput assembles the start input for a campaign, folding in the
// service-level tuning knobs. The workflow applies its own defaults for
// zero values.
func (s *Service) workflowInput(campaignID, organizationID string) CampaignWorkflowInput {
	return CampaignWorkflowInput{
		CampaignID:          campaignID,
		OrganizationID:      organizationID,
		MaxConcurrentLeads:  s.maxLeads,
		LeadProcessingDelay: s.leadSpacing,
	}
}

// Start launches the campaign workflow. The workflow id is deterministic per
// campaign, so starting a campaign that is already running reattaches to the
// existing execution instead of spawning a second one.
func (s *Service) Start(ctx context.Context, campaignID, organizationID string) (string, error) {
	if campaignID == "" {
		return "", errors.New("campaign: campaign id is required")
	}
	run, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        CampaignWorkflowID(campaignID),
		TaskQueue: s.taskQueue,
	}, CampaignWorkflow, s.workflowInput(campaignID, organizationID))
	if err != nil {
		return "", fmt.Errorf("campaign: start workflow: %w", err)
	}
	return run.GetRunID(), nil
}

// Pause suspends lead dispatch and child polling. The workflow is started
// first if it is not already running so the signal is never lost.
func (s *Service) Pause(ctx context.Context, campaignID, organizationID string) error {
	return s.signalWithStart(ctx, campaignID, organizationID, SignalPauseCampaign)
}

// Resume lifts a pause. Like Pause it starts the workflow when needed.
func (s *Service) Resume(ctx context.Context, campaignID, organizationID string) error {
	return s.signalWithStart(ctx, campaignID, organizationID, SignalResumeCampaign)
}

// Stop asks a running campaign to wind down. Stopping a campaign that has no
// running workflow is a no-op.
func (s *Service) Stop(ctx context.Context, campaignID string) error {
	if campaignID == "" {
		return errors.New("campaign: campaign id is required")
	}
	err := s.temporal.SignalWorkflow(ctx, CampaignWorkflowID(campaignID), "", SignalStopCampaign, nil)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("campaign: stop workflow: %w", err)
	}
	return nil
}

// Status reports whether the campaign workflow is running and, if so,
// whether it is paused.
func (s *Service) Status(ctx context.Context, campaignID string) (*Status, error) {
	if campaignID == "" {
		return nil, errors.New("campaign: campaign id is required")
	}
	desc, err := s.temporal.DescribeWorkflowExecution(ctx, CampaignWorkflowID(campaignID), "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return &Status{}, nil
		}
		return nil, fmt.Errorf("campaign: describe workflow: %w", err)
	}
	if desc.GetWorkflowExecutionInfo().GetStatus() != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		return &Status{}, nil
	}
	resp, err := s.temporal.QueryWorkflow(ctx, CampaignWorkflowID(campaignID), "", QueryCampaignStatus)
	if err != nil {
		return nil, fmt.Errorf("campaign: query status: %w", err)
	}
	var snap CampaignStatusSnapshot
	if err := resp.Get(&snap); err != nil {
		return nil, fmt.Errorf("campaign: decode status: %w", err)
	}
	return &Status{IsRunning: true, IsPaused: snap.IsPaused}, nil
}

func (s *Service) signalWithStart(ctx context.Context, campaignID, organizationID, signal string) error {
	if campaignID == "" {
		return errors.New("campaign: campaign id is required")
	}
	_, err := s.temporal.SignalWithStartWorkflow(ctx, CampaignWorkflowID(campaignID), signal, nil,
		client.StartWorkflowOptions{
			ID:        CampaignWorkflowID(campaignID),
			TaskQueue: s.taskQueue,
		}, CampaignWorkflow, s.workflowInput(campaignID, organizationID))
	if err != nil {
		return fmt.Errorf("campaign: signal %s: %w", signal, err)
	}
	return nil
}
