package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"goa.design/clue/log"

	"github.com/reachforge/outreach/campaign/window"
	"github.com/reachforge/outreach/limiter"
	"github.com/reachforge/outreach/objstore"
	"github.com/reachforge/outreach/provider"
	"github.com/reachforge/outreach/store"
	"github.com/reachforge/outreach/telemetry"
)

// Application failure types used for non-retryable activity errors.
const (
	errTypeValidation = "validation"
	errTypeAuth       = "auth"
	errTypeNotFound   = "not_found"
	errTypeExhaustive = "exhaustive"
)

type (
	// Activities bundles the side-effectful dependencies campaign workflows
	// call into. One instance is registered per worker.
	Activities struct {
		store   store.CampaignStore
		defs    *objstore.Store
		social  provider.Client
		limits  *limiter.Limiter
		metrics *telemetry.Metrics
	}

	// ActivitiesOptions configures NewActivities.
	ActivitiesOptions struct {
		// Store persists campaigns, leads and step records.
		Store store.CampaignStore
		// Definitions resolves stored workflow JSON.
		Definitions *objstore.Store
		// Provider executes social actions.
		Provider provider.Client
		// Limiter gates invitation sends per sender account.
		Limiter *limiter.Limiter
		// Metrics records step and provider instrumentation. Optional.
		Metrics *telemetry.Metrics
	}
)

// NewActivities validates the dependency set.
func NewActivities(opts ActivitiesOptions) (*Activities, error) {
	if opts.Store == nil {
		return nil, errors.New("campaign: store is required")
	}
	if opts.Definitions == nil {
		return nil, errors.New("campaign: definition storage is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("campaign: provider client is required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("campaign: limiter is required")
	}
	return &Activities{
		store:   opts.Store,
		defs:    opts.Definitions,
		social:  opts.Provider,
		limits:  opts.Limiter,
		metrics: opts.Metrics,
	}, nil
}

type (
	// VerifyAccountInput asks for the provider-side account id.
	VerifyAccountInput struct {
		AccountID string `json:"accountId"`
	}

	// VerifyAccountResult reports the provider account id; nil means the
	// operator disconnected the account.
	VerifyAccountResult struct {
		ProviderAccountID *string `json:"providerAccountId"`
	}

	// ExtractIdentifierInput carries a raw profile URL.
	ExtractIdentifierInput struct {
		URL string `json:"url"`
	}

	// ExtractIdentifierResult reports the parsed identifier; nil when the URL
	// does not contain one.
	ExtractIdentifierResult struct {
		Identifier *string `json:"identifier"`
	}

	// TimeWindowInput holds the campaign sending window.
	TimeWindowInput struct {
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
		Timezone  string `json:"timezone"`
	}

	// TimeWindowResult reports window membership and the exact wait until the
	// next opening when outside.
	TimeWindowResult struct {
		InWindow bool  `json:"inWindow"`
		WaitMs   int64 `json:"waitMs"`
	}

	// CheckLimitsInput gates an invitation send.
	CheckLimitsInput struct {
		CampaignID string `json:"campaignId"`
		AccountID  string `json:"accountId"`
	}

	// CheckLimitsResult reports allowance; WaitUntilMs is the wait until the
	// oldest rolling-window entry expires when the cap is hit.
	CheckLimitsResult struct {
		CanProceed  bool  `json:"canProceed"`
		WaitUntilMs int64 `json:"waitUntilMs,omitempty"`
	}

	// CampaignStatusInput identifies a campaign.
	CampaignStatusInput struct {
		CampaignID string `json:"campaignId"`
	}

	// CampaignStatusResult is the campaign-row view children poll between
	// steps.
	CampaignStatusResult struct {
		Status    store.CampaignStatus `json:"status"`
		IsDeleted bool                 `json:"isDeleted"`
	}

	// SetLeadStatusInput transitions a lead's processing status.
	SetLeadStatusInput struct {
		LeadID string           `json:"leadId"`
		Status store.LeadStatus `json:"status"`
	}

	// RecordStepInput appends one CampaignStep record.
	RecordStepInput struct {
		CampaignID string         `json:"campaignId"`
		LeadID     string         `json:"leadId"`
		StepIndex  int            `json:"stepIndex"`
		NodeType   string         `json:"nodeType"`
		Config     map[string]any `json:"config,omitempty"`
		Result     ActionResult   `json:"result"`
	}

	// ActionInput is the shared executor payload. AccountID is the local
	// sender credential row, ProviderAccountID the provider-side id every
	// provider call acts as, and ProviderID carries the invitation id for
	// withdraw and status checks.
	ActionInput struct {
		CampaignID        string         `json:"campaignId"`
		LeadID            string         `json:"leadId"`
		AccountID         string         `json:"accountId"`
		ProviderAccountID string         `json:"providerAccountId"`
		Identifier        string         `json:"identifier"`
		Config            map[string]any `json:"config,omitempty"`
		ProviderID        string         `json:"providerId,omitempty"`
	}

	// FetchDefinitionInput locates a stored workflow definition.
	FetchDefinitionInput struct {
		OrganizationID string `json:"organizationId"`
		CampaignID     string `json:"campaignId"`
	}

	// ListLeadsInput identifies the campaign whose leads to enumerate.
	ListLeadsInput struct {
		CampaignID string `json:"campaignId"`
	}

	// UpdateCampaignStatusInput transitions the campaign row.
	UpdateCampaignStatusInput struct {
		CampaignID string               `json:"campaignId"`
		Status     store.CampaignStatus `json:"status"`
	}
)

// VerifyProviderAccount resolves the local account to its provider-side id.
// A missing row or disconnected credential both yield nil.
func (a *Activities) VerifyProviderAccount(ctx context.Context, in VerifyAccountInput) (*VerifyAccountResult, error) {
	acct, err := a.store.Account(ctx, in.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &VerifyAccountResult{}, nil
		}
		return nil, err
	}
	return &VerifyAccountResult{ProviderAccountID: acct.ProviderAccountID}, nil
}

// ExtractProfileIdentifier parses the provider identifier out of a profile
// URL. Deterministic, no provider call.
func (a *Activities) ExtractProfileIdentifier(_ context.Context, in ExtractIdentifierInput) (*ExtractIdentifierResult, error) {
	id, ok := provider.ParseProfileIdentifier(in.URL)
	if !ok {
		return &ExtractIdentifierResult{}, nil
	}
	return &ExtractIdentifierResult{Identifier: &id}, nil
}

// CheckTimeWindow evaluates the sending window against the current wall
// clock.
func (a *Activities) CheckTimeWindow(_ context.Context, in TimeWindowInput) (*TimeWindowResult, error) {
	inWindow, wait, err := windowEvaluate(time.Now(), in.StartTime, in.EndTime, in.Timezone)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid sending window", errTypeValidation, err)
	}
	return &TimeWindowResult{InWindow: inWindow, WaitMs: wait.Milliseconds()}, nil
}

// CheckConnectionRequestLimits consults the rolling-window invitation
// allowance for the sender account.
func (a *Activities) CheckConnectionRequestLimits(ctx context.Context, in CheckLimitsInput) (*CheckLimitsResult, error) {
	dec, err := a.limits.Check(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if dec.Allowed {
		return &CheckLimitsResult{CanProceed: true}, nil
	}
	a.metrics.QuotaHit(ctx, "internal")
	log.Info(ctx, log.KV{K: "msg", V: "invitation allowance exhausted"},
		log.KV{K: "campaign_id", V: in.CampaignID},
		log.KV{K: "account_id", V: in.AccountID},
		log.KV{K: "wait_ms", V: dec.Wait.Milliseconds()})
	return &CheckLimitsResult{CanProceed: false, WaitUntilMs: dec.Wait.Milliseconds()}, nil
}

// CheckCampaignStatus reads the campaign row so children can observe pause,
// stop and deletion.
func (a *Activities) CheckCampaignStatus(ctx context.Context, in CampaignStatusInput) (*CampaignStatusResult, error) {
	c, err := a.store.Campaign(ctx, in.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError("campaign not found", errTypeNotFound, err)
		}
		return nil, err
	}
	return &CampaignStatusResult{Status: c.Status, IsDeleted: c.IsDeleted}, nil
}

// SetLeadStatus transitions the lead's processing status.
func (a *Activities) SetLeadStatus(ctx context.Context, in SetLeadStatusInput) error {
	if err := a.store.SetLeadStatus(ctx, in.LeadID, in.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return temporal.NewNonRetryableApplicationError("lead not found", errTypeNotFound, err)
		}
		return err
	}
	return nil
}

// RecordCampaignStep appends one step record. Replays of the same step index
// are absorbed by the store's conflict guard.
func (a *Activities) RecordCampaignStep(ctx context.Context, in RecordStepInput) error {
	cfg, err := json.Marshal(in.Config)
	if err != nil {
		return temporal.NewNonRetryableApplicationError("encode step config", errTypeValidation, err)
	}
	res, err := json.Marshal(in.Result)
	if err != nil {
		return temporal.NewNonRetryableApplicationError("encode step result", errTypeValidation, err)
	}
	step := store.CampaignStep{
		CampaignID: in.CampaignID,
		LeadID:     in.LeadID,
		StepIndex:  in.StepIndex,
		NodeType:   in.NodeType,
		Config:     cfg,
		Success:    in.Result.Success,
		Result:     res,
	}
	if err := a.store.AppendStep(ctx, step); err != nil {
		return err
	}
	a.metrics.StepExecuted(ctx, in.NodeType, in.Result.Success)
	return nil
}

// FetchCampaign loads the campaign row for the orchestrator.
func (a *Activities) FetchCampaign(ctx context.Context, in CampaignStatusInput) (*store.Campaign, error) {
	c, err := a.store.Campaign(ctx, in.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError("campaign not found", errTypeNotFound, err)
		}
		return nil, err
	}
	return c, nil
}

// FetchWorkflowDefinition loads and validates the stored graph JSON.
func (a *Activities) FetchWorkflowDefinition(ctx context.Context, in FetchDefinitionInput) (*WorkflowDefinition, error) {
	raw, err := a.defs.GetWorkflow(ctx, in.OrganizationID, in.CampaignID)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError("workflow definition not found", errTypeNotFound, err)
		}
		return nil, err
	}
	def, err := ParseDefinition(raw)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError("workflow definition rejected", errTypeValidation, err)
	}
	return def, nil
}

// ListCampaignLeads enumerates the campaign's leads in creation order.
func (a *Activities) ListCampaignLeads(ctx context.Context, in ListLeadsInput) ([]store.Lead, error) {
	return a.store.CampaignLeads(ctx, in.CampaignID)
}

// UpdateCampaignStatus transitions the campaign row status.
func (a *Activities) UpdateCampaignStatus(ctx context.Context, in UpdateCampaignStatusInput) error {
	if err := a.store.UpdateCampaignStatus(ctx, in.CampaignID, in.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return temporal.NewNonRetryableApplicationError("campaign not found", errTypeNotFound, err)
		}
		return err
	}
	return nil
}

// ProfileVisit registers a profile view.
func (a *Activities) ProfileVisit(ctx context.Context, in ActionInput) (*ActionResult, error) {
	return a.runProvider(ctx, "profile_visit", func() error {
		return a.social.VisitProfile(ctx, in.ProviderAccountID, in.Identifier)
	})
}

// LikePost reacts to the lead's most recent post.
func (a *Activities) LikePost(ctx context.Context, in ActionInput) (*ActionResult, error) {
	defer a.heartbeat(ctx)()
	post, res, err := a.latestPost(ctx, in.ProviderAccountID, in.Identifier)
	if res != nil || err != nil {
		return res, err
	}
	return a.runProvider(ctx, "like_post", func() error {
		return a.social.LikePost(ctx, in.ProviderAccountID, post.ID, configString(in.Config, "reaction"))
	})
}

// CommentPost comments on the lead's most recent post.
func (a *Activities) CommentPost(ctx context.Context, in ActionInput) (*ActionResult, error) {
	defer a.heartbeat(ctx)()
	message := configString(in.Config, "message")
	if message == "" {
		return nil, temporal.NewNonRetryableApplicationError("comment message is required", errTypeValidation, nil)
	}
	post, res, err := a.latestPost(ctx, in.ProviderAccountID, in.Identifier)
	if res != nil || err != nil {
		return res, err
	}
	return a.runProvider(ctx, "comment_post", func() error {
		return a.social.CommentPost(ctx, in.ProviderAccountID, post.ID, message)
	})
}

// SendFollowup sends a direct message to an accepted connection.
func (a *Activities) SendFollowup(ctx context.Context, in ActionInput) (*ActionResult, error) {
	message := configString(in.Config, "message")
	if message == "" {
		return nil, temporal.NewNonRetryableApplicationError("followup message is required", errTypeValidation, nil)
	}
	return a.runProvider(ctx, "send_followup", func() error {
		return a.social.SendMessage(ctx, in.ProviderAccountID, in.Identifier, message)
	})
}

// WithdrawRequest retracts a previously sent invitation.
func (a *Activities) WithdrawRequest(ctx context.Context, in ActionInput) (*ActionResult, error) {
	if in.ProviderID == "" {
		return &ActionResult{Success: false, Message: "no invitation to withdraw"}, nil
	}
	return a.runProvider(ctx, "withdraw_request", func() error {
		return a.social.WithdrawInvitation(ctx, in.ProviderAccountID, in.ProviderID)
	})
}

// SendInMail sends a provider InMail.
func (a *Activities) SendInMail(ctx context.Context, in ActionInput) (*ActionResult, error) {
	message := configString(in.Config, "message")
	if message == "" {
		return nil, temporal.NewNonRetryableApplicationError("inmail message is required", errTypeValidation, nil)
	}
	return a.runProvider(ctx, "send_inmail", func() error {
		return a.social.SendInMail(ctx, in.ProviderAccountID, in.Identifier, configString(in.Config, "subject"), message)
	})
}

// SendConnectionRequest sends an invitation. Quota exhaustion is returned as
// data so the workflow can sleep the provider's hint instead of burning
// retries; confirmed sends are recorded against the rolling allowance.
func (a *Activities) SendConnectionRequest(ctx context.Context, in ActionInput) (*ActionResult, error) {
	defer a.heartbeat(ctx)()
	started := time.Now()
	inv, err := a.social.SendInvitation(ctx, in.ProviderAccountID, in.Identifier, configString(in.Config, "message"))
	a.metrics.ProviderCall(ctx, "send_invitation", time.Since(started))
	if err != nil {
		return a.convertProviderError(ctx, err)
	}
	if inv.AlreadyConnected {
		return &ActionResult{Success: true, Data: &ActionData{AlreadyConnected: true}}, nil
	}
	if err := a.limits.Record(ctx, in.AccountID); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "record invitation against allowance failed"},
			log.KV{K: "account_id", V: in.AccountID},
			log.KV{K: "err", V: err.Error()})
	}
	return &ActionResult{Success: true, Data: &ActionData{ProviderID: inv.ID}}, nil
}

// CheckConnectionStatus polls the invitation's relation state.
func (a *Activities) CheckConnectionStatus(ctx context.Context, in ActionInput) (*ActionResult, error) {
	started := time.Now()
	state, err := a.social.InvitationStatus(ctx, in.ProviderAccountID, in.Identifier, in.ProviderID)
	a.metrics.ProviderCall(ctx, "invitation_status", time.Since(started))
	if err != nil {
		return a.convertProviderError(ctx, err)
	}
	status := StatusPending
	switch state {
	case provider.RelationAccepted:
		status = StatusAccepted
	case provider.RelationRejected:
		status = StatusRejected
	}
	return &ActionResult{Success: true, Data: &ActionData{Status: status}}, nil
}

// runProvider times one provider call and folds its error into the shared
// result conversion.
func (a *Activities) runProvider(ctx context.Context, op string, call func() error) (*ActionResult, error) {
	started := time.Now()
	err := call()
	a.metrics.ProviderCall(ctx, op, time.Since(started))
	if err != nil {
		return a.convertProviderError(ctx, err)
	}
	return &ActionResult{Success: true}, nil
}

// latestPost resolves the lead's most recent post. A lead without posts is a
// step-level failure, not an error.
func (a *Activities) latestPost(ctx context.Context, accountID, identifier string) (*provider.Post, *ActionResult, error) {
	posts, err := a.social.RecentPosts(ctx, accountID, identifier, 1)
	if err != nil {
		res, cerr := a.convertProviderError(ctx, err)
		return nil, res, cerr
	}
	if len(posts) == 0 {
		return nil, &ActionResult{Success: false, Message: "lead has no recent posts"}, nil
	}
	return &posts[0], nil, nil
}

// convertProviderError translates provider failures at the activity boundary:
// quota hits become data, auth/validation/not-found become non-retryable
// application errors and everything else stays retryable.
func (a *Activities) convertProviderError(ctx context.Context, err error) (*ActionResult, error) {
	perr, ok := provider.AsError(err)
	if !ok {
		return nil, err
	}
	switch perr.Kind() {
	case provider.KindQuota:
		a.metrics.QuotaHit(ctx, "provider")
		hours := perr.RetryAfter().Hours()
		if hours <= 0 {
			hours = DefaultQuotaRetryDelay.Hours()
		}
		return &ActionResult{
			Success: false,
			Message: perr.Message(),
			Data: &ActionData{Error: &ActionError{
				Type:            ErrTypeProviderLimit,
				ShouldRetry:     true,
				RetryAfterHours: hours,
			}},
		}, nil
	case provider.KindAuth:
		return nil, temporal.NewNonRetryableApplicationError("provider authentication failed", errTypeAuth, err)
	case provider.KindInvalidRequest:
		return nil, temporal.NewNonRetryableApplicationError("provider rejected request", errTypeValidation, err)
	case provider.KindNotFound:
		return nil, temporal.NewNonRetryableApplicationError("provider resource not found", errTypeNotFound, err)
	default:
		return nil, err
	}
}

// heartbeat keeps a slow provider call visible to the server. The returned
// stop function must run before the activity returns.
func (a *Activities) heartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		activity.RecordHeartbeat(ctx)
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}

func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	v, _ := cfg[key].(string)
	return v
}

// windowEvaluate is swapped in tests to pin the clock.
var windowEvaluate = window.Evaluate
