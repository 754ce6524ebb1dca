package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

// monitorStatusValue is a canned query result for the mocked client.
type monitorStatusValue struct {
	paused bool
	id     string
}

func (v monitorStatusValue) HasValue() bool { return true }

func (v monitorStatusValue) Get(ptr interface{}) error {
	*(ptr.(*MonitorStatus)) = MonitorStatus{IsPaused: v.paused, ID: v.id}
	return nil
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, newFakeMonitorStore(), nil)
	require.EqualError(t, err, "monitor: temporal client is required")

	_, err = NewService(&mocks.Client{}, nil, nil)
	require.EqualError(t, err, "monitor: store is required")
}

func TestStartLeadMonitorValidatesInput(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	_, err := svc.StartLeadMonitor(context.Background(), "", "https://www.linkedin.com/in/jane-doe", "acct-1")
	require.Error(t, err)
	_, err = svc.StartLeadMonitor(context.Background(), "user-9", "", "acct-1")
	require.Error(t, err)
}

func TestStartLeadMonitor(t *testing.T) {
	t.Parallel()

	st := newFakeMonitorStore()
	run := &mocks.WorkflowRun{}
	mc := &mocks.Client{}
	mc.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
		return opts.ID == "lead-monitor-ml-new" && opts.TaskQueue == TaskQueue
	}), mock.Anything, LeadMonitorInput{
		MonitoredLeadID: "ml-new",
		AccountID:       "acct-1",
	}).Return(run, nil)

	svc, err := NewService(mc, st, nil)
	require.NoError(t, err)

	id, err := svc.StartLeadMonitor(context.Background(), "user-9", "https://www.linkedin.com/in/jane-doe", "acct-1")
	require.NoError(t, err)
	require.Equal(t, "ml-new", id)
	mc.AssertExpectations(t)

	// The row was created under the reporter and URL pair.
	row, err := st.FindOrCreateMonitoredLead(context.Background(), "user-9", "https://www.linkedin.com/in/jane-doe")
	require.NoError(t, err)
	require.Equal(t, "ml-new", row.ID)
}

func TestStartLeadMonitorAlreadyRunning(t *testing.T) {
	t.Parallel()

	st := newFakeMonitorStore()
	mc := &mocks.Client{}
	mc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "", "run-0"))

	svc, err := NewService(mc, st, nil)
	require.NoError(t, err)

	// Starting a monitor that already runs resolves to the same row id.
	id, err := svc.StartLeadMonitor(context.Background(), "user-9", "https://www.linkedin.com/in/jane-doe", "acct-1")
	require.NoError(t, err)
	require.Equal(t, "ml-new", id)
}

func TestStartCompanyMonitor(t *testing.T) {
	t.Parallel()

	st := newFakeMonitorStore()
	run := &mocks.WorkflowRun{}
	mc := &mocks.Client{}
	mc.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
		return opts.ID == "company-monitor-mc-new" && opts.TaskQueue == TaskQueue
	}), mock.Anything, CompanyMonitorInput{
		MonitoredCompanyID: "mc-new",
		AccountID:          "acct-1",
	}).Return(run, nil)

	svc, err := NewService(mc, st, nil)
	require.NoError(t, err)

	id, err := svc.StartCompanyMonitor(context.Background(), "user-9", "https://www.linkedin.com/company/acme", "acct-1")
	require.NoError(t, err)
	require.Equal(t, "mc-new", id)
	mc.AssertExpectations(t)
}

func TestPauseAndResumeLeadMonitor(t *testing.T) {
	t.Parallel()

	mc := &mocks.Client{}
	mc.On("SignalWorkflow", mock.Anything, "lead-monitor-ml-1", "", SignalPauseLeadMonitoring, nil).
		Return(nil)
	mc.On("SignalWorkflow", mock.Anything, "lead-monitor-ml-1", "", SignalResumeLeadMonitoring, nil).
		Return(nil)

	svc, err := NewService(mc, newFakeMonitorStore(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.PauseLeadMonitor(context.Background(), "ml-1"))
	require.NoError(t, svc.ResumeLeadMonitor(context.Background(), "ml-1"))
	mc.AssertExpectations(t)
}

func TestPauseLeadMonitorPropagatesError(t *testing.T) {
	t.Parallel()

	mc := &mocks.Client{}
	mc.On("SignalWorkflow", mock.Anything, "lead-monitor-ml-1", "", SignalPauseLeadMonitoring, nil).
		Return(serviceerror.NewNotFound("no workflow"))

	svc, err := NewService(mc, newFakeMonitorStore(), nil)
	require.NoError(t, err)
	err = svc.PauseLeadMonitor(context.Background(), "ml-1")
	require.ErrorContains(t, err, SignalPauseLeadMonitoring)
	var notFound *serviceerror.NotFound
	require.ErrorAs(t, err, &notFound)
}

func TestStopLeadMonitorIgnoresMissingWorkflow(t *testing.T) {
	t.Parallel()

	mc := &mocks.Client{}
	mc.On("CancelWorkflow", mock.Anything, "lead-monitor-ml-1", "").
		Return(serviceerror.NewNotFound("no workflow"))

	svc, err := NewService(mc, newFakeMonitorStore(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.StopLeadMonitor(context.Background(), "ml-1"))
}

func TestStopCompanyMonitorPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	mc := &mocks.Client{}
	mc.On("CancelWorkflow", mock.Anything, "company-monitor-mc-1", "").
		Return(errors.New("connection refused"))

	svc, err := NewService(mc, newFakeMonitorStore(), nil)
	require.NoError(t, err)
	err = svc.StopCompanyMonitor(context.Background(), "mc-1")
	require.ErrorContains(t, err, "cancel workflow")
}

func TestLeadMonitorStatus(t *testing.T) {
	t.Parallel()

	describeResp := func(status enumspb.WorkflowExecutionStatus) *workflowservice.DescribeWorkflowExecutionResponse {
		return &workflowservice.DescribeWorkflowExecutionResponse{
			WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{Status: status},
		}
	}

	cases := []struct {
		name  string
		setup func(mc *mocks.Client)
		want  Status
	}{
		{
			name: "no workflow",
			setup: func(mc *mocks.Client) {
				mc.On("DescribeWorkflowExecution", mock.Anything, "lead-monitor-ml-1", "").
					Return(nil, serviceerror.NewNotFound("no workflow"))
			},
		},
		{
			name: "monitor stopped",
			setup: func(mc *mocks.Client) {
				mc.On("DescribeWorkflowExecution", mock.Anything, "lead-monitor-ml-1", "").
					Return(describeResp(enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED), nil)
			},
		},
		{
			name: "running",
			setup: func(mc *mocks.Client) {
				mc.On("DescribeWorkflowExecution", mock.Anything, "lead-monitor-ml-1", "").
					Return(describeResp(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING), nil)
				mc.On("QueryWorkflow", mock.Anything, "lead-monitor-ml-1", "", QueryMonitoringStatus).
					Return(monitorStatusValue{id: "ml-1"}, nil)
			},
			want: Status{IsRunning: true, ID: "ml-1"},
		},
		{
			name: "running paused",
			setup: func(mc *mocks.Client) {
				mc.On("DescribeWorkflowExecution", mock.Anything, "lead-monitor-ml-1", "").
					Return(describeResp(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING), nil)
				mc.On("QueryWorkflow", mock.Anything, "lead-monitor-ml-1", "", QueryMonitoringStatus).
					Return(monitorStatusValue{paused: true, id: "ml-1"}, nil)
			},
			want: Status{IsRunning: true, IsPaused: true, ID: "ml-1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mc := &mocks.Client{}
			tc.setup(mc)

			svc, err := NewService(mc, newFakeMonitorStore(), nil)
			require.NoError(t, err)

			got, err := svc.LeadMonitorStatus(context.Background(), "ml-1")
			require.NoError(t, err)
			require.Equal(t, &tc.want, got)
		})
	}
}

func TestCompanyMonitorStatusUsesCompanyQuery(t *testing.T) {
	t.Parallel()

	mc := &mocks.Client{}
	mc.On("DescribeWorkflowExecution", mock.Anything, "company-monitor-mc-1", "").
		Return(&workflowservice.DescribeWorkflowExecutionResponse{
			WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{
				Status: enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING,
			},
		}, nil)
	mc.On("QueryWorkflow", mock.Anything, "company-monitor-mc-1", "", QueryCompanyMonitoringStatus).
		Return(monitorStatusValue{id: "mc-1"}, nil)

	svc, err := NewService(mc, newFakeMonitorStore(), nil)
	require.NoError(t, err)

	got, err := svc.CompanyMonitorStatus(context.Background(), "mc-1")
	require.NoError(t, err)
	require.True(t, got.IsRunning)
	require.Equal(t, "mc-1", got.ID)
	mc.AssertExpectations(t)
}
