package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/reachforge/outreach/store"
)

// leadEnv wraps a workflow test environment with capture hooks for the
// status transitions and step records the workflow persists.
type leadEnv struct {
	t        *testing.T
	env      *testsuite.TestWorkflowEnvironment
	acts     *Activities
	start    time.Time
	statuses []store.LeadStatus
	steps    []RecordStepInput
}

func newLeadEnv(t *testing.T) *leadEnv {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(LeadWorkflow)

	le := &leadEnv{t: t, env: env, start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	env.SetStartTime(le.start)

	var acts *Activities
	le.acts = acts
	env.OnActivity(acts.SetLeadStatus, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			le.statuses = append(le.statuses, args.Get(1).(SetLeadStatusInput).Status)
		}).Return(nil)
	env.OnActivity(acts.RecordCampaignStep, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			le.steps = append(le.steps, args.Get(1).(RecordStepInput))
		}).Return(nil)
	return le
}

func (le *leadEnv) mockIdentifier(id string) {
	le.env.OnActivity(le.acts.ExtractProfileIdentifier, mock.Anything, mock.Anything).
		Return(&ExtractIdentifierResult{Identifier: &id}, nil)
}

func (le *leadEnv) mockAccountConnected() {
	id := "prov-77"
	le.env.OnActivity(le.acts.VerifyProviderAccount, mock.Anything, mock.Anything).
		Return(&VerifyAccountResult{ProviderAccountID: &id}, nil)
}

func (le *leadEnv) mockCampaignActive() {
	le.env.OnActivity(le.acts.CheckCampaignStatus, mock.Anything, mock.Anything).
		Return(&CampaignStatusResult{Status: store.CampaignActive}, nil)
}

func (le *leadEnv) mockLimitsOpen() {
	le.env.OnActivity(le.acts.CheckConnectionRequestLimits, mock.Anything, mock.Anything).
		Return(&CheckLimitsResult{CanProceed: true}, nil)
}

// run executes the workflow and requires clean completion.
func (le *leadEnv) run(input LeadWorkflowInput) LeadWorkflowResult {
	le.t.Helper()
	le.env.ExecuteWorkflow(LeadWorkflow, input)
	require.True(le.t, le.env.IsWorkflowCompleted())
	require.NoError(le.t, le.env.GetWorkflowError())
	var res LeadWorkflowResult
	require.NoError(le.t, le.env.GetWorkflowResult(&res))
	return res
}

// elapsed returns how much virtual time the workflow consumed.
func (le *leadEnv) elapsed() time.Duration {
	return le.env.Now().Sub(le.start)
}

func leadInput(def WorkflowDefinition) LeadWorkflowInput {
	return LeadWorkflowInput{
		LeadID:         "lead-1",
		CampaignID:     "camp-1",
		OrganizationID: "org-1",
		AccountID:      "acct-1",
		ProfileURL:     "https://www.linkedin.com/in/jane-doe/",
		Workflow:       def,
	}
}

func pendingStatus() *ActionResult {
	return &ActionResult{Success: true, Data: &ActionData{Status: StatusPending}}
}

func acceptedStatus() *ActionResult {
	return &ActionResult{Success: true, Data: &ActionData{Status: StatusAccepted}}
}

func TestLeadWorkflowInvitationAcceptedThenFollowup(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{
			actionNode("invite", ActionSendConnectionRequest, map[string]any{"message": "hi Jane"}),
			actionNode("followup", ActionSendFollowup, map[string]any{"message": "thanks for connecting"}),
		},
		Edges: []Edge{
			condEdge("yes", "invite", "followup", true, &DelayData{Delay: 2, Unit: "h"}),
		},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()
	le.mockLimitsOpen()

	var sendIn ActionInput
	le.env.OnActivity(le.acts.SendConnectionRequest, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sendIn = args.Get(1).(ActionInput) }).
		Return(&ActionResult{Success: true, Data: &ActionData{ProviderID: "inv-9"}}, nil)

	// Accepted on the third hourly poll.
	le.env.OnActivity(le.acts.CheckConnectionStatus, mock.Anything, mock.Anything).
		Return(pendingStatus(), nil).Twice()
	le.env.OnActivity(le.acts.CheckConnectionStatus, mock.Anything, mock.Anything).
		Return(acceptedStatus(), nil).Once()

	var followIn ActionInput
	le.env.OnActivity(le.acts.SendFollowup, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { followIn = args.Get(1).(ActionInput) }).
		Return(&ActionResult{Success: true}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 2, res.StepsExecuted)
	require.Equal(t, []store.LeadStatus{store.LeadProcessing, store.LeadCompleted}, le.statuses)

	require.Equal(t, "jane-doe", sendIn.Identifier)
	require.Equal(t, "prov-77", sendIn.ProviderAccountID)
	// The accepted invitation id is carried into the followup step.
	require.Equal(t, "inv-9", followIn.ProviderID)

	require.Len(t, le.steps, 2)
	require.Equal(t, 0, le.steps[0].StepIndex)
	require.Equal(t, string(ActionSendConnectionRequest), le.steps[0].NodeType)
	require.True(t, le.steps[0].Result.Success)
	require.GreaterOrEqual(t, le.steps[0].Result.Data.HoursWaited, 3.0)
	require.Equal(t, 1, le.steps[1].StepIndex)
	require.Equal(t, string(ActionSendFollowup), le.steps[1].NodeType)

	// Three hourly polls plus the two-hour edge delay.
	require.GreaterOrEqual(t, le.elapsed(), 5*time.Hour)
	le.env.AssertExpectations(t)
}

func TestLeadWorkflowInvitationTimesOutThenWithdraws(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{
			actionNode("invite", ActionSendConnectionRequest, nil),
			actionNode("followup", ActionSendFollowup, map[string]any{"message": "hello"}),
			actionNode("withdraw", ActionWithdrawRequest, nil),
		},
		Edges: []Edge{
			condEdge("yes", "invite", "followup", true, nil),
			condEdge("no", "invite", "withdraw", false, &DelayData{Delay: 3, Unit: "d"}),
		},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()
	le.mockLimitsOpen()

	le.env.OnActivity(le.acts.SendConnectionRequest, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true, Data: &ActionData{ProviderID: "inv-9"}}, nil)
	le.env.OnActivity(le.acts.CheckConnectionStatus, mock.Anything, mock.Anything).
		Return(pendingStatus(), nil)

	var withdrawIn ActionInput
	le.env.OnActivity(le.acts.WithdrawRequest, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { withdrawIn = args.Get(1).(ActionInput) }).
		Return(&ActionResult{Success: true}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 2, res.StepsExecuted)

	require.Len(t, le.steps, 2)
	require.False(t, le.steps[0].Result.Success)
	require.Equal(t, StatusTimeout, le.steps[0].Result.Data.Status)
	require.GreaterOrEqual(t, le.steps[0].Result.Data.DaysWaited, 3.0)
	require.Equal(t, string(ActionWithdrawRequest), le.steps[1].NodeType)
	require.Equal(t, "inv-9", withdrawIn.ProviderID)

	// Three days of polling, then the rejected edge delays another three.
	require.GreaterOrEqual(t, le.elapsed(), 6*24*time.Hour)
}

func TestLeadWorkflowSleepsThroughProviderQuota(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("invite", ActionSendConnectionRequest, nil)},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()
	le.mockLimitsOpen()

	quota := &ActionResult{
		Success: false,
		Message: "invitation quota reached",
		Data: &ActionData{Error: &ActionError{
			Type:            ErrTypeProviderLimit,
			ShouldRetry:     true,
			RetryAfterHours: 24,
		}},
	}
	le.env.OnActivity(le.acts.SendConnectionRequest, mock.Anything, mock.Anything).
		Return(quota, nil).Twice()
	le.env.OnActivity(le.acts.SendConnectionRequest, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true, Data: &ActionData{ProviderID: "inv-9"}}, nil).Once()
	le.env.OnActivity(le.acts.CheckConnectionStatus, mock.Anything, mock.Anything).
		Return(acceptedStatus(), nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 1, res.StepsExecuted)

	// Quota attempts are not steps; only the final send is recorded.
	require.Len(t, le.steps, 1)
	require.True(t, le.steps[0].Result.Success)

	// Two 24h quota sleeps before the send finally goes through.
	require.GreaterOrEqual(t, le.elapsed(), 48*time.Hour)
	le.env.AssertExpectations(t)
}

func TestLeadWorkflowPauseGatesPolling(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("invite", ActionSendConnectionRequest, nil)},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockLimitsOpen()

	// Active before the node, paused for two rechecks during the first poll
	// window, then active again.
	le.env.OnActivity(le.acts.CheckCampaignStatus, mock.Anything, mock.Anything).
		Return(&CampaignStatusResult{Status: store.CampaignActive}, nil).Once()
	le.env.OnActivity(le.acts.CheckCampaignStatus, mock.Anything, mock.Anything).
		Return(&CampaignStatusResult{Status: store.CampaignPaused}, nil).Twice()
	le.env.OnActivity(le.acts.CheckCampaignStatus, mock.Anything, mock.Anything).
		Return(&CampaignStatusResult{Status: store.CampaignActive}, nil)

	le.env.OnActivity(le.acts.SendConnectionRequest, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true, Data: &ActionData{ProviderID: "inv-9"}}, nil)
	le.env.OnActivity(le.acts.CheckConnectionStatus, mock.Anything, mock.Anything).
		Return(pendingStatus(), nil).Once()
	le.env.OnActivity(le.acts.CheckConnectionStatus, mock.Anything, mock.Anything).
		Return(acceptedStatus(), nil).Once()

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)

	// One poll cadence, two paused rechecks, then another cadence before
	// acceptance.
	require.GreaterOrEqual(t, le.elapsed(), 2*time.Hour+2*pausedRecheckInterval)
	le.env.AssertExpectations(t)
}

func TestLeadWorkflowEmptyGraphCompletes(t *testing.T) {
	t.Parallel()

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")

	res := le.run(leadInput(WorkflowDefinition{}))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Zero(t, res.StepsExecuted)
	require.Equal(t, []store.LeadStatus{store.LeadProcessing, store.LeadCompleted}, le.statuses)
	require.Empty(t, le.steps)
}

func TestLeadWorkflowZeroHorizonTimesOutImmediately(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{
			actionNode("invite", ActionSendConnectionRequest, nil),
			actionNode("withdraw", ActionWithdrawRequest, nil),
		},
		Edges: []Edge{
			condEdge("no", "invite", "withdraw", false, &DelayData{Delay: 0, Unit: "s"}),
		},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()
	le.mockLimitsOpen()

	le.env.OnActivity(le.acts.SendConnectionRequest, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true, Data: &ActionData{ProviderID: "inv-9"}}, nil)
	le.env.OnActivity(le.acts.WithdrawRequest, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 2, res.StepsExecuted)

	// No poll ever ran: the zero wait budget expired before the first sleep.
	require.False(t, le.steps[0].Result.Success)
	require.Equal(t, StatusTimeout, le.steps[0].Result.Data.Status)
	require.Zero(t, le.steps[0].Result.Data.DaysWaited)
}

func TestLeadWorkflowWaitsForSendingWindow(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("visit", ActionProfileVisit, nil)},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()

	waitMs := int64((90 * time.Minute).Milliseconds())
	le.env.OnActivity(le.acts.CheckTimeWindow, mock.Anything, mock.Anything).
		Return(&TimeWindowResult{InWindow: false, WaitMs: waitMs}, nil).Once()
	le.env.OnActivity(le.acts.CheckTimeWindow, mock.Anything, mock.Anything).
		Return(&TimeWindowResult{InWindow: true}, nil).Once()
	le.env.OnActivity(le.acts.ProfileVisit, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true}, nil)

	input := leadInput(def)
	input.StartTime = "22:00"
	input.EndTime = "06:00"
	input.Timezone = "America/New_York"

	res := le.run(input)
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.GreaterOrEqual(t, le.elapsed(), 90*time.Minute)
	le.env.AssertExpectations(t)
}

func TestLeadWorkflowFailedStepRoutesRejectedBranch(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{
			actionNode("like", ActionLikePost, nil),
			actionNode("followup", ActionSendFollowup, map[string]any{"message": "hello"}),
			actionNode("visit", ActionProfileVisit, nil),
		},
		Edges: []Edge{
			condEdge("yes", "like", "followup", true, nil),
			condEdge("no", "like", "visit", false, nil),
		},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()

	le.env.OnActivity(le.acts.LikePost, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: false, Message: "lead has no recent posts"}, nil)
	le.env.OnActivity(le.acts.ProfileVisit, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 2, res.StepsExecuted)

	require.Equal(t, string(ActionLikePost), le.steps[0].NodeType)
	require.False(t, le.steps[0].Result.Success)
	require.Equal(t, string(ActionProfileVisit), le.steps[1].NodeType)
}

func TestLeadWorkflowNoopNodesProduceNoSteps(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{
			noopNode("start"),
			actionNode("a", ActionProfileVisit, nil),
			actionNode("b", ActionProfileVisit, nil),
		},
		Edges: []Edge{
			plainEdge("e1", "start", "a"),
			plainEdge("e2", "start", "b"),
		},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()
	le.env.OnActivity(le.acts.ProfileVisit, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 2, res.StepsExecuted)

	// Step indexes follow execution order of action nodes only.
	require.Len(t, le.steps, 2)
	require.Equal(t, 0, le.steps[0].StepIndex)
	require.Equal(t, 1, le.steps[1].StepIndex)
}

func TestLeadWorkflowFailsWhenAccountDisconnected(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("visit", ActionProfileVisit, nil)},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockCampaignActive()
	le.env.OnActivity(le.acts.VerifyProviderAccount, mock.Anything, mock.Anything).
		Return(&VerifyAccountResult{}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadFailed), res.Status)
	require.Zero(t, res.StepsExecuted)
	require.Equal(t, []store.LeadStatus{store.LeadProcessing, store.LeadFailed}, le.statuses)
}

func TestLeadWorkflowFailsOnAuthError(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("visit", ActionProfileVisit, nil)},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()
	le.env.OnActivity(le.acts.ProfileVisit, mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("provider authentication failed", errTypeAuth, nil))

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadFailed), res.Status)
	require.Empty(t, le.steps)
}

func TestLeadWorkflowFailsWhenCampaignHalts(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("visit", ActionProfileVisit, nil)},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.env.OnActivity(le.acts.CheckCampaignStatus, mock.Anything, mock.Anything).
		Return(&CampaignStatusResult{Status: store.CampaignStopped}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadFailed), res.Status)
	require.Equal(t, []store.LeadStatus{store.LeadProcessing, store.LeadFailed}, le.statuses)
}

func TestLeadWorkflowMissingIdentifierFailsSteps(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("visit", ActionProfileVisit, nil)},
	}

	le := newLeadEnv(t)
	le.mockAccountConnected()
	le.mockCampaignActive()
	le.env.OnActivity(le.acts.ExtractProfileIdentifier, mock.Anything, mock.Anything).
		Return(&ExtractIdentifierResult{}, nil)

	res := le.run(leadInput(def))
	// The walk continues; the step fails without reaching the provider.
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 1, res.StepsExecuted)
	require.False(t, le.steps[0].Result.Success)
	require.Equal(t, "profile identifier missing", le.steps[0].Result.Message)
}

func TestLeadWorkflowInternalLimitWaitsExactly(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{actionNode("invite", ActionSendConnectionRequest, nil)},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()

	waitMs := (4 * time.Hour).Milliseconds()
	le.env.OnActivity(le.acts.CheckConnectionRequestLimits, mock.Anything, mock.Anything).
		Return(&CheckLimitsResult{CanProceed: false, WaitUntilMs: waitMs}, nil).Once()
	le.env.OnActivity(le.acts.CheckConnectionRequestLimits, mock.Anything, mock.Anything).
		Return(&CheckLimitsResult{CanProceed: true}, nil).Once()
	le.env.OnActivity(le.acts.SendConnectionRequest, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true, Data: &ActionData{ProviderID: "inv-9"}}, nil)
	le.env.OnActivity(le.acts.CheckConnectionStatus, mock.Anything, mock.Anything).
		Return(acceptedStatus(), nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.GreaterOrEqual(t, le.elapsed(), 4*time.Hour)
	le.env.AssertExpectations(t)
}

func TestLeadWorkflowLimitStillExhaustedFailsStep(t *testing.T) {
	t.Parallel()

	def := WorkflowDefinition{
		Nodes: []Node{
			actionNode("invite", ActionSendConnectionRequest, nil),
			actionNode("visit", ActionProfileVisit, nil),
		},
		Edges: []Edge{
			condEdge("no", "invite", "visit", false, nil),
		},
	}

	le := newLeadEnv(t)
	le.mockIdentifier("jane-doe")
	le.mockAccountConnected()
	le.mockCampaignActive()

	// Denied with a wait, then denied again after sleeping it.
	le.env.OnActivity(le.acts.CheckConnectionRequestLimits, mock.Anything, mock.Anything).
		Return(&CheckLimitsResult{CanProceed: false, WaitUntilMs: time.Hour.Milliseconds()}, nil)
	le.env.OnActivity(le.acts.ProfileVisit, mock.Anything, mock.Anything).
		Return(&ActionResult{Success: true}, nil)

	res := le.run(leadInput(def))
	require.Equal(t, string(store.LeadCompleted), res.Status)
	require.Equal(t, 2, res.StepsExecuted)

	require.False(t, le.steps[0].Result.Success)
	require.Equal(t, ErrTypeRequestLimit, le.steps[0].Result.Data.Error.Type)
	// The invitation never went out; the rejected branch runs instead.
	require.Equal(t, string(ActionProfileVisit), le.steps[1].NodeType)
}
