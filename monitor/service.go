package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/reachforge/outreach/store"
)

type (
	// Service starts and controls entity monitors through a Temporal client.
	// It is safe for concurrent use.
	Service struct {
		temporal      client.Client
		store         store.MonitorStore
		taskQueue     string
		leadPeriod    time.Duration
		companyPeriod time.Duration
	}

	// ServiceOptions customize a Service.
	ServiceOptions struct {
		// TaskQueue overrides the default monitoring task queue.
		TaskQueue string
		// LeadPeriod overrides the lead refetch cycle, zero selects
		// LeadMonitorPeriod.
		LeadPeriod time.Duration
		// CompanyPeriod overrides the company refetch cycle, zero selects
		// CompanyMonitorPeriod.
		CompanyPeriod time.Duration
	}

	// Status reports the live state of one entity monitor.
	Status struct {
		IsRunning bool   `json:"isRunning"`
		IsPaused  bool   `json:"isPaused"`
		ID        string `json:"id,omitempty"`
	}
)

// NewService returns a Service backed by the given Temporal client and store.
func NewService(tc client.Client, st store.MonitorStore, opts *ServiceOptions) (*Service, error) {
	if tc == nil {
		return nil, errors.New("monitor: temporal client is required")
	}
	if st == nil {
		return nil, errors.New("monitor: store is required")
	}
	svc := &Service{temporal: tc, store: st, taskQueue: TaskQueue}
	if opts != nil {
		if opts.TaskQueue != "" {
			svc.taskQueue = opts.TaskQueue
		}
		svc.leadPeriod = opts.LeadPeriod
		svc.companyPeriod = opts.CompanyPeriod
	}
	return svc, nil
}

// StartLeadMonitor finds or creates the monitored row for (reporter, URL) and
// launches its monitor. Starting an entity that is already being monitored
// returns the existing row id without spawning a second workflow.
func (s *Service) StartLeadMonitor(ctx context.Context, reporterUserID, profileURL, accountID string) (string, error) {
	if reporterUserID == "" || profileURL == "" {
		return "", errors.New("monitor: reporter user id and profile url are required")
	}
	row, err := s.store.FindOrCreateMonitoredLead(ctx, reporterUserID, profileURL)
	if err != nil {
		return "", fmt.Errorf("monitor: resolve monitored lead: %w", err)
	}
	err = s.startWorkflow(ctx, LeadMonitorWorkflowID(row.ID), LeadMonitorWorkflow, LeadMonitorInput{
		MonitoredLeadID: row.ID,
		AccountID:       accountID,
		Period:          s.leadPeriod,
	})
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// StartCompanyMonitor finds or creates the monitored company row and launches
// its monitor.
func (s *Service) StartCompanyMonitor(ctx context.Context, reporterUserID, companyURL, accountID string) (string, error) {
	if reporterUserID == "" || companyURL == "" {
		return "", errors.New("monitor: reporter user id and company url are required")
	}
	row, err := s.store.FindOrCreateMonitoredCompany(ctx, reporterUserID, companyURL)
	if err != nil {
		return "", fmt.Errorf("monitor: resolve monitored company: %w", err)
	}
	err = s.startWorkflow(ctx, CompanyMonitorWorkflowID(row.ID), CompanyMonitorWorkflow, CompanyMonitorInput{
		MonitoredCompanyID: row.ID,
		AccountID:          accountID,
		Period:             s.companyPeriod,
	})
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// PauseLeadMonitor suspends a lead monitor's cycles.
func (s *Service) PauseLeadMonitor(ctx context.Context, monitoredLeadID string) error {
	return s.signal(ctx, LeadMonitorWorkflowID(monitoredLeadID), SignalPauseLeadMonitoring)
}

// ResumeLeadMonitor lifts a pause.
func (s *Service) ResumeLeadMonitor(ctx context.Context, monitoredLeadID string) error {
	return s.signal(ctx, LeadMonitorWorkflowID(monitoredLeadID), SignalResumeLeadMonitoring)
}

// StopLeadMonitor cancels a lead monitor. Stopping an entity with no running
// monitor is a no-op.
func (s *Service) StopLeadMonitor(ctx context.Context, monitoredLeadID string) error {
	return s.cancel(ctx, LeadMonitorWorkflowID(monitoredLeadID))
}

// LeadMonitorStatus reports whether a lead monitor is running and paused.
func (s *Service) LeadMonitorStatus(ctx context.Context, monitoredLeadID string) (*Status, error) {
	return s.status(ctx, LeadMonitorWorkflowID(monitoredLeadID), QueryMonitoringStatus)
}

// PauseCompanyMonitor suspends a company monitor's cycles.
func (s *Service) PauseCompanyMonitor(ctx context.Context, monitoredCompanyID string) error {
	return s.signal(ctx, CompanyMonitorWorkflowID(monitoredCompanyID), SignalPauseCompanyMonitoring)
}

// ResumeCompanyMonitor lifts a pause.
func (s *Service) ResumeCompanyMonitor(ctx context.Context, monitoredCompanyID string) error {
	return s.signal(ctx, CompanyMonitorWorkflowID(monitoredCompanyID), SignalResumeCompanyMonitoring)
}

// StopCompanyMonitor cancels a company monitor.
func (s *Service) StopCompanyMonitor(ctx context.Context, monitoredCompanyID string) error {
	return s.cancel(ctx, CompanyMonitorWorkflowID(monitoredCompanyID))
}

// CompanyMonitorStatus reports whether a company monitor is running and
// paused.
func (s *Service) CompanyMonitorStatus(ctx context.Context, monitoredCompanyID string) (*Status, error) {
	return s.status(ctx, CompanyMonitorWorkflowID(monitoredCompanyID), QueryCompanyMonitoringStatus)
}

func (s *Service) startWorkflow(ctx context.Context, workflowID string, wf, input any) error {
	_, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, wf, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil
		}
		return fmt.Errorf("monitor: start workflow: %w", err)
	}
	return nil
}

func (s *Service) signal(ctx context.Context, workflowID, signal string) error {
	if err := s.temporal.SignalWorkflow(ctx, workflowID, "", signal, nil); err != nil {
		return fmt.Errorf("monitor: signal %s: %w", signal, err)
	}
	return nil
}

func (s *Service) cancel(ctx context.Context, workflowID string) error {
	err := s.temporal.CancelWorkflow(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("monitor: cancel workflow: %w", err)
	}
	return nil
}

func (s *Service) status(ctx context.Context, workflowID, query string) (*Status, error) {
	desc, err := s.temporal.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return &Status{}, nil
		}
		return nil, fmt.Errorf("monitor: describe workflow: %w", err)
	}
	if desc.GetWorkflowExecutionInfo().GetStatus() != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		return &Status{}, nil
	}
	resp, err := s.temporal.QueryWorkflow(ctx, workflowID, "", query)
	if err != nil {
		return nil, fmt.Errorf("monitor: query status: %w", err)
	}
	var snap MonitorStatus
	if err := resp.Get(&snap); err != nil {
		return nil, fmt.Errorf("monitor: decode status: %w", err)
	}
	return &Status{IsRunning: true, IsPaused: snap.IsPaused, ID: snap.ID}, nil
}
