// Package campaign runs outreach campaigns as durable Temporal workflows. A
// campaign workflow fans out one child workflow per lead; each child walks the
// campaign's action graph, gating every step on the sending window and, for
// connection requests, on the account's invitation allowance.
package campaign

import (
	"time"
)

// Node class tags. AddStep nodes are editor affordances and never execute.
const (
	NodeTypeAction  = "action"
	NodeTypeAddStep = "addStep"
)

// ActionType enumerates the executable node actions.
type ActionType string

const (
	ActionProfileVisit          ActionType = "profile_visit"
	ActionLikePost              ActionType = "like_post"
	ActionCommentPost           ActionType = "comment_post"
	ActionSendConnectionRequest ActionType = "send_connection_request"
	ActionSendFollowup          ActionType = "send_followup"
	ActionWithdrawRequest       ActionType = "withdraw_request"
	ActionSendInMail            ActionType = "send_inmail"
)

// ActionTypes lists every known action in a stable order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionProfileVisit,
		ActionLikePost,
		ActionCommentPost,
		ActionSendConnectionRequest,
		ActionSendFollowup,
		ActionWithdrawRequest,
		ActionSendInMail,
	}
}

type (
	// WorkflowDefinition is the parsed campaign graph as stored in object
	// storage.
	WorkflowDefinition struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}

	// Node is one graph vertex. A nil Data.ActionType makes the node a no-op
	// that succeeds without producing a step record.
	Node struct {
		ID   string   `json:"id"`
		Type string   `json:"type"`
		Data NodeData `json:"data"`
	}

	// NodeData carries the action selection and its free-form config.
	NodeData struct {
		ActionType *ActionType    `json:"actionType"`
		Config     map[string]any `json:"config,omitempty"`
	}

	// Edge connects two action nodes, optionally gated on the source outcome
	// and delayed by DelayData.
	Edge struct {
		ID     string    `json:"id"`
		Source string    `json:"source"`
		Target string    `json:"target"`
		Data   *EdgeData `json:"data,omitempty"`
	}

	// EdgeData captures the conditional flags and delay of an edge.
	EdgeData struct {
		IsConditionalPath bool       `json:"isConditionalPath"`
		IsPositive        bool       `json:"isPositive"`
		DelayData         *DelayData `json:"delayData,omitempty"`
	}

	// DelayData is an integer amount plus a unit in s, m, h, d or w.
	DelayData struct {
		Delay int    `json:"delay"`
		Unit  string `json:"unit"`
	}
)

// IsAddStep reports whether the node is a layout-only placeholder.
func (n Node) IsAddStep() bool { return n.Type == NodeTypeAddStep }

// Action returns the node's action type and whether one is set.
func (n Node) Action() (ActionType, bool) {
	if n.Data.ActionType == nil || *n.Data.ActionType == "" {
		return "", false
	}
	return *n.Data.ActionType, true
}

// Conditional reports whether the edge is followed only when the source
// outcome matches Positive.
func (e Edge) Conditional() bool {
	return e.Data != nil && e.Data.IsConditionalPath
}

// Positive returns the polarity of a conditional edge.
func (e Edge) Positive() bool {
	return e.Data != nil && e.Data.IsPositive
}

// Delay returns the edge's traversal delay, zero when none is set.
func (e Edge) Delay() time.Duration {
	if e.Data == nil || e.Data.DelayData == nil {
		return 0
	}
	return e.Data.DelayData.Duration()
}

// Duration converts the delay to a time.Duration. Unknown units yield zero;
// definition validation rejects them up front.
func (d DelayData) Duration() time.Duration {
	base := time.Duration(d.Delay)
	switch d.Unit {
	case "s":
		return base * time.Second
	case "m":
		return base * time.Minute
	case "h":
		return base * time.Hour
	case "d":
		return base * 24 * time.Hour
	case "w":
		return base * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Action outcome codes shared between activities and workflows.
const (
	ErrTypeProviderLimit     = "provider_limit_reached"
	ErrTypeRequestLimit      = "connection_request_limit_exceeded"
	ErrTypeMissingProviderID = "provider_id_missing"

	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusPending  = "pending"
	StatusTimeout  = "timeout"
)

type (
	// ActionResult is the uniform outcome of one executed node. Workflows
	// evaluate conditional edges against Success.
	ActionResult struct {
		Success bool        `json:"success"`
		Message string      `json:"message,omitempty"`
		Data    *ActionData `json:"data,omitempty"`
	}

	// ActionData carries action-specific outcome details.
	ActionData struct {
		ProviderID       string       `json:"providerId,omitempty"`
		AlreadyConnected bool         `json:"alreadyConnected,omitempty"`
		Status           string       `json:"status,omitempty"`
		HoursWaited      float64      `json:"hoursWaited,omitempty"`
		DaysWaited       float64      `json:"daysWaited,omitempty"`
		Error            *ActionError `json:"error,omitempty"`
	}

	// ActionError is a machine-readable failure the workflow reacts to
	// without spending activity retries.
	ActionError struct {
		Type            string  `json:"type"`
		ShouldRetry     bool    `json:"shouldRetry,omitempty"`
		RetryAfterHours float64 `json:"retryAfterHours,omitempty"`
	}
)

type (
	// LeadWorkflowInput starts one per-lead graph walk.
	LeadWorkflowInput struct {
		LeadID         string             `json:"leadId"`
		CampaignID     string             `json:"campaignId"`
		OrganizationID string             `json:"organizationId"`
		AccountID      string             `json:"accountId"`
		ProfileURL     string             `json:"profileUrl"`
		Workflow       WorkflowDefinition `json:"workflow"`
		StartTime      string             `json:"startTime"`
		EndTime        string             `json:"endTime"`
		Timezone       string             `json:"timezone"`
	}

	// LeadWorkflowResult reports the terminal lead state.
	LeadWorkflowResult struct {
		Status        string `json:"status"`
		StepsExecuted int    `json:"stepsExecuted"`
	}

	// CampaignWorkflowInput starts the parent orchestrator for a campaign.
	CampaignWorkflowInput struct {
		CampaignID     string `json:"campaignId"`
		OrganizationID string `json:"organizationId"`

		// MaxConcurrentLeads caps in-flight lead workflows, zero selects
		// DefaultMaxConcurrentLeads. LeadProcessingDelay spaces dispatches,
		// zero selects DefaultLeadProcessingDelay.
		MaxConcurrentLeads  int           `json:"maxConcurrentLeads,omitempty"`
		LeadProcessingDelay time.Duration `json:"leadProcessingDelay,omitempty"`
	}

	// CampaignWorkflowResult summarizes a finished campaign run.
	CampaignWorkflowResult struct {
		LeadsDispatched int `json:"leadsDispatched"`
		LeadsCompleted  int `json:"leadsCompleted"`
		LeadsFailed     int `json:"leadsFailed"`
	}

	// CampaignStatusSnapshot answers the campaign status query.
	CampaignStatusSnapshot struct {
		IsPaused bool `json:"isPaused"`
	}
)

// Orchestration defaults.
const (
	// DefaultMaxConcurrentLeads bounds in-flight child workflows per campaign.
	DefaultMaxConcurrentLeads = 3

	// DefaultLeadProcessingDelay spaces consecutive child starts.
	DefaultLeadProcessingDelay = 30 * time.Second

	// DefaultPollHorizon bounds connection-request polling when no rejected
	// branch supplies a delay.
	DefaultPollHorizon = 10 * 24 * time.Hour

	// DefaultQuotaRetryDelay applies when the provider reports a quota hit
	// without a retry hint.
	DefaultQuotaRetryDelay = 24 * time.Hour

	pausedRecheckInterval = 5 * time.Minute
)

// pollCadence picks the connection-status poll interval for a horizon.
func pollCadence(horizon time.Duration) time.Duration {
	switch {
	case horizon < 24*time.Hour:
		return 15 * time.Minute
	case horizon < 7*24*time.Hour:
		return 30 * time.Minute
	default:
		return time.Hour
	}
}
