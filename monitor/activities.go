package monitor

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"goa.design/clue/log"

	"github.com/reachforge/outreach/intel"
	"github.com/reachforge/outreach/provider"
	"github.com/reachforge/outreach/store"
	"github.com/reachforge/outreach/telemetry"
)

// Application failure types used for non-retryable activity errors.
const (
	errTypeValidation = "validation"
	errTypeAuth       = "auth"
)

type (
	// AccountStore resolves sender credential rows. The full store satisfies
	// it.
	AccountStore interface {
		Account(ctx context.Context, id string) (*store.Account, error)
	}

	// AlertPublisher forwards stored alerts to the live dashboard feed. The
	// alertstream publisher satisfies it.
	AlertPublisher interface {
		Publish(ctx context.Context, alert store.Alert) error
	}

	// Activities bundles the side-effectful dependencies monitor workflows
	// call into. One instance is registered per worker.
	Activities struct {
		store    store.MonitorStore
		accounts AccountStore
		social   provider.Client
		posts    intel.Classifier
		alerts   AlertPublisher
		metrics  *telemetry.Metrics
	}

	// ActivitiesOptions configures NewActivities.
	ActivitiesOptions struct {
		// Store persists monitored snapshots, their post FIFOs and alerts.
		Store store.MonitorStore
		// Accounts resolves sender credentials for provider calls.
		Accounts AccountStore
		// Provider reads profiles, company pages and posts.
		Provider provider.Client
		// Classifier summarizes post text and flags critical posts.
		Classifier intel.Classifier
		// Alerts publishes stored alerts to the live dashboard feed. Optional.
		Alerts AlertPublisher
		// Metrics records cycle and alert instrumentation. Optional.
		Metrics *telemetry.Metrics
	}
)

// NewActivities validates the dependency set.
func NewActivities(opts ActivitiesOptions) (*Activities, error) {
	if opts.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	if opts.Accounts == nil {
		return nil, errors.New("monitor: account store is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("monitor: provider client is required")
	}
	if opts.Classifier == nil {
		return nil, errors.New("monitor: post classifier is required")
	}
	return &Activities{
		store:    opts.Store,
		accounts: opts.Accounts,
		social:   opts.Provider,
		posts:    opts.Classifier,
		alerts:   opts.Alerts,
		metrics:  opts.Metrics,
	}, nil
}

// GetMonitoredLead loads the workflow's view of a monitored lead row. A
// missing row stays retryable so a monitor started right after row creation
// tolerates replication lag.
func (a *Activities) GetMonitoredLead(ctx context.Context, in EntityInput) (*LeadSnapshot, error) {
	row, err := a.store.MonitoredLead(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	return &LeadSnapshot{
		ID:             row.ID,
		ReporterUserID: row.ReporterUserID,
		ProfileURL:     row.ProfileURL,
		KnownPostIDs:   row.Last7PostIDs,
	}, nil
}

// GetMonitoredCompany loads the workflow's view of a monitored company row.
func (a *Activities) GetMonitoredCompany(ctx context.Context, in EntityInput) (*CompanySnapshot, error) {
	row, err := a.store.MonitoredCompany(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	return &CompanySnapshot{
		ID:             row.ID,
		ReporterUserID: row.ReporterUserID,
		CompanyURL:     row.CompanyURL,
		KnownPostIDs:   row.Last7PostIDs,
	}, nil
}

// FetchLeadProfile reads the current profile and recent post ids from the
// provider.
func (a *Activities) FetchLeadProfile(ctx context.Context, in FetchLeadInput) (*LeadFetchResult, error) {
	stop := a.heartbeat(ctx)
	defer stop()

	providerAccountID, err := a.resolveAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	identifier, ok := provider.ParseProfileIdentifier(in.ProfileURL)
	if !ok {
		return nil, temporal.NewNonRetryableApplicationError("profile url has no identifier", errTypeValidation, nil)
	}

	started := time.Now()
	profile, err := a.social.GetProfile(ctx, providerAccountID, identifier)
	a.metrics.ProviderCall(ctx, "get_profile", time.Since(started))
	if err != nil {
		return nil, a.convertProviderError(err)
	}
	posts, err := a.social.RecentPosts(ctx, providerAccountID, identifier, postWindow)
	if err != nil {
		return nil, a.convertProviderError(err)
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return &LeadFetchResult{Profile: *profile, PostIDs: ids}, nil
}

// FetchCompanyProfile reads the current company page and recent post ids.
func (a *Activities) FetchCompanyProfile(ctx context.Context, in FetchCompanyInput) (*CompanyFetchResult, error) {
	stop := a.heartbeat(ctx)
	defer stop()

	providerAccountID, err := a.resolveAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	identifier, ok := provider.ParseProfileIdentifier(in.CompanyURL)
	if !ok {
		return nil, temporal.NewNonRetryableApplicationError("company url has no identifier", errTypeValidation, nil)
	}

	started := time.Now()
	company, err := a.social.GetCompany(ctx, providerAccountID, identifier)
	a.metrics.ProviderCall(ctx, "get_company", time.Since(started))
	if err != nil {
		return nil, a.convertProviderError(err)
	}
	posts, err := a.social.RecentPosts(ctx, providerAccountID, identifier, postWindow)
	if err != nil {
		return nil, a.convertProviderError(err)
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return &CompanyFetchResult{Company: *company, PostIDs: ids}, nil
}

// UpdateLeadProfile diffs the fetched profile against the stored snapshot and
// persists both the snapshot and the change alerts atomically. Initial
// fetches seed the snapshot without alerting. Re-running with the same
// profile finds an empty diff and writes no alerts.
func (a *Activities) UpdateLeadProfile(ctx context.Context, in UpdateLeadInput) (*UpdateResult, error) {
	row, err := a.store.MonitoredLead(ctx, in.MonitoredLeadID)
	if err != nil {
		return nil, err
	}
	var alerts []store.Alert
	if !in.IsInitialFetch {
		alerts = diffLead(row, &in.Profile)
	}
	if err := a.store.SaveLeadSnapshot(ctx, in.MonitoredLeadID, &in.Profile, profileHash(in.Profile), alerts); err != nil {
		return nil, err
	}
	a.publishAlerts(ctx, alerts...)
	for _, al := range alerts {
		a.metrics.AlertEmitted(ctx, string(al.Priority))
	}
	a.metrics.MonitorCycle(ctx, string(store.KindLead))
	if len(alerts) > 0 {
		log.Info(ctx, log.KV{K: "msg", V: "profile changes detected"},
			log.KV{K: "monitored_lead_id", V: in.MonitoredLeadID},
			log.KV{K: "alerts", V: len(alerts)})
	}
	return &UpdateResult{AlertsCreated: len(alerts)}, nil
}

// UpdateCompanyProfile diffs and persists a fetched company page. Counter
// history rotation happens inside the store write.
func (a *Activities) UpdateCompanyProfile(ctx context.Context, in UpdateCompanyInput) (*UpdateResult, error) {
	row, err := a.store.MonitoredCompany(ctx, in.MonitoredCompanyID)
	if err != nil {
		return nil, err
	}
	var alerts []store.Alert
	if !in.IsInitialFetch {
		alerts = diffCompany(row, &in.Company)
	}
	if err := a.store.SaveCompanySnapshot(ctx, in.MonitoredCompanyID, &in.Company, profileHash(in.Company), alerts); err != nil {
		return nil, err
	}
	a.publishAlerts(ctx, alerts...)
	for _, al := range alerts {
		a.metrics.AlertEmitted(ctx, string(al.Priority))
	}
	a.metrics.MonitorCycle(ctx, string(store.KindCompany))
	if len(alerts) > 0 {
		log.Info(ctx, log.KV{K: "msg", V: "company changes detected"},
			log.KV{K: "monitored_company_id", V: in.MonitoredCompanyID},
			log.KV{K: "alerts", V: len(alerts)})
	}
	return &UpdateResult{AlertsCreated: len(alerts)}, nil
}

// IngestLeadPost enrolls one post into the monitored lead's FIFO window. On
// the initial fetch the post is enrolled silently; otherwise the post text is
// classified and a prioritized alert rides the same transaction.
func (a *Activities) IngestLeadPost(ctx context.Context, in IngestPostInput) (*IngestPostResult, error) {
	return a.ingestPost(ctx, store.KindLead, TitleNewLeadPost, in)
}

// IngestCompanyPost enrolls one post into the monitored company's FIFO
// window.
func (a *Activities) IngestCompanyPost(ctx context.Context, in IngestPostInput) (*IngestPostResult, error) {
	return a.ingestPost(ctx, store.KindCompany, TitleNewCompanyPost, in)
}

func (a *Activities) ingestPost(ctx context.Context, kind store.EntityKind, title string, in IngestPostInput) (*IngestPostResult, error) {
	if in.IsInitialFetch {
		if err := a.store.PushMonitoredPost(ctx, kind, in.EntityID, in.PostID, nil); err != nil {
			return nil, err
		}
		return &IngestPostResult{}, nil
	}

	stop := a.heartbeat(ctx)
	defer stop()

	providerAccountID, err := a.resolveAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	post, err := a.social.GetPost(ctx, providerAccountID, in.PostID)
	a.metrics.ProviderCall(ctx, "get_post", time.Since(started))
	if err != nil {
		return nil, a.convertProviderError(err)
	}
	sum, err := a.posts.SummarizePost(ctx, post.Text)
	if err != nil {
		return nil, err
	}

	priority := store.PriorityLow
	if sum.IsCritical {
		priority = store.PriorityHigh
	}
	alert := store.Alert{
		LeadID:         in.EntityID,
		ReporterUserID: in.ReporterUserID,
		Title:          title,
		Description:    sum.Summary,
		Priority:       priority,
	}
	if err := a.store.PushMonitoredPost(ctx, kind, in.EntityID, in.PostID, &alert); err != nil {
		return nil, err
	}
	a.publishAlerts(ctx, alert)
	a.metrics.AlertEmitted(ctx, string(priority))
	return &IngestPostResult{Alerted: true}, nil
}

// publishAlerts forwards freshly stored alerts to the live feed. Failures are
// logged and dropped so a Redis outage cannot fail an activity whose row
// writes already committed.
func (a *Activities) publishAlerts(ctx context.Context, alerts ...store.Alert) {
	if a.alerts == nil {
		return
	}
	for _, al := range alerts {
		if err := a.alerts.Publish(ctx, al); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "alert publish failed"},
				log.KV{K: "err", V: err.Error()})
		}
	}
}

// resolveAccount maps the local credential row to the provider-side account
// id. A disconnected credential fails closed.
func (a *Activities) resolveAccount(ctx context.Context, accountID string) (string, error) {
	acct, err := a.accounts.Account(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acct.ProviderAccountID == nil {
		return "", temporal.NewNonRetryableApplicationError("provider account disconnected", errTypeAuth, nil)
	}
	return *acct.ProviderAccountID, nil
}

// convertProviderError classifies provider failures at the activity boundary.
// Unlike the outreach path, not-found and rate limits stay retryable here:
// monitors run for months and the next attempt or cycle absorbs them.
func (a *Activities) convertProviderError(err error) error {
	perr, ok := provider.AsError(err)
	if !ok {
		return err
	}
	switch perr.Kind() {
	case provider.KindAuth:
		return temporal.NewNonRetryableApplicationError("provider authentication failed", errTypeAuth, err)
	case provider.KindInvalidRequest:
		return temporal.NewNonRetryableApplicationError("provider rejected request", errTypeValidation, err)
	default:
		return err
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
