// Package store defines the persistent entities of the outreach platform and
// the storage interfaces its consumers depend on. Implementations live in
// subpackages (postgres). Workflow code never touches storage directly; only
// activities and the HTTP API do.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reachforge/outreach/provider"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

type (
	// CampaignStatus is the lifecycle state of a campaign. Transitions form
	// draft→active⇄paused→(completed|stopped|failed).
	CampaignStatus string

	// LeadStatus is the processing state of a single lead within a campaign.
	LeadStatus string

	// AlertPriority ranks how urgently an alert should surface.
	AlertPriority string

	// EntityKind distinguishes monitored people from monitored companies.
	EntityKind string

	// Campaign is an outreach campaign owned by an organization. AccountID
	// names the sender credential; WorkflowKey references the stored execution
	// graph JSON.
	Campaign struct {
		ID             string
		OrganizationID string
		Name           string
		Description    string
		AccountID      string
		LeadListID     string
		StartTime      string // "HH:MM" in Timezone
		EndTime        string // "HH:MM" in Timezone
		Timezone       string // IANA name
		LeadsPerDay    int
		WorkflowKey    string
		Status         CampaignStatus
		IsDeleted      bool
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// Lead is one prospect row in a campaign's list.
	Lead struct {
		ID         string
		CampaignID string
		LeadListID string
		ProfileURL string
		FirstName  string
		LastName   string
		Company    string
		Status     LeadStatus
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// CampaignStep records one executed node for a (campaign, lead) pair.
	// StepIndex is the 0-based execution ordinal, not the node's position in
	// the graph. Rows are append-only.
	CampaignStep struct {
		ID         string
		CampaignID string
		LeadID     string
		StepIndex  int
		NodeType   string
		Config     []byte // JSON of the node config as executed
		Success    bool
		Result     []byte // JSON of the action result
		CreatedAt  time.Time
	}

	// Account is a sender credential row. ProviderAccountID is nil once the
	// operator disconnects the account.
	Account struct {
		ID                string
		OrganizationID    string
		Provider          string
		ProviderAccountID *string
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}

	// Alert is one prioritized change notification. Immutable except for
	// Acknowledged. Company alerts reuse LeadID for the monitored company id.
	Alert struct {
		ID             string
		LeadID         string
		ReporterUserID string
		Title          string
		Description    string
		Priority       AlertPriority
		Acknowledged   bool
		PreviousValue  *string
		UpdatedValue   *string
		CreatedAt      time.Time
	}

	// MonitoredLead is the stored snapshot of a watched person. Snapshot
	// columns are nullable; Last7PostIDs is a FIFO of at most seven post ids,
	// newest first.
	MonitoredLead struct {
		ID                  string
		ReporterUserID      string
		ProfileURL          string
		FullName            *string
		Headline            *string
		Location            *string
		ProfileImageURL     *string
		LastJobTitle        *string
		LastCompanyName     *string
		LastCompanyID       *string
		LastCompanyDomain   *string
		LastCompanySize     *string
		LastCompanyIndustry *string
		LastExperience      []provider.Position
		LastEducation       []provider.School
		LastProfileHash     *string
		LastFetchedAt       *time.Time
		Last7PostIDs        []string
		CreatedAt           time.Time
		UpdatedAt           time.Time
	}

	// MonitoredCompany is the stored snapshot of a watched company page. The
	// counter columns keep the previous value and the time the counter last
	// moved.
	MonitoredCompany struct {
		ID                          string
		ReporterUserID              string
		CompanyURL                  string
		Name                        *string
		Tagline                     *string
		Description                 *string
		Website                     *string
		Industry                    *string
		EmployeeRange               *string
		HQCity                      *string
		HQCountry                   *string
		LogoURL                     *string
		EmployeeCountCurrent        *int
		EmployeeCountPrevious       *int
		EmployeeCountLastCheckedAt  *time.Time
		FollowersCountCurrent       *int
		FollowersCountPrevious      *int
		FollowersCountLastCheckedAt *time.Time
		LastProfileHash             *string
		LastFetchedAt               *time.Time
		Last7PostIDs                []string
		CreatedAt                   time.Time
		UpdatedAt                   time.Time
	}

	// CampaignStore is the persistence surface the outreach activities use.
	CampaignStore interface {
		// Campaign loads one campaign row, deleted or not. Callers inspect
		// IsDeleted themselves.
		Campaign(ctx context.Context, id string) (*Campaign, error)

		// CampaignLeads lists the leads of the campaign's prospect list in
		// insertion order.
		CampaignLeads(ctx context.Context, campaignID string) ([]Lead, error)

		// UpdateCampaignStatus moves the campaign to the given status.
		UpdateCampaignStatus(ctx context.Context, id string, status CampaignStatus) error

		// SetLeadStatus transitions one lead's processing state.
		SetLeadStatus(ctx context.Context, leadID string, status LeadStatus) error

		// AppendStep records one executed node. Re-appending the same
		// (campaign, lead, step index) is a no-op so activity retries do not
		// duplicate rows.
		AppendStep(ctx context.Context, step CampaignStep) error

		// Account loads a sender credential row.
		Account(ctx context.Context, id string) (*Account, error)
	}

	// MonitorStore is the persistence surface the monitoring activities use.
	// Snapshot writes and their alerts commit in a single transaction.
	MonitorStore interface {
		MonitoredLead(ctx context.Context, id string) (*MonitoredLead, error)
		MonitoredCompany(ctx context.Context, id string) (*MonitoredCompany, error)

		// FindOrCreateMonitoredLead returns the row keyed by (reporter, URL),
		// creating an empty snapshot when none exists.
		FindOrCreateMonitoredLead(ctx context.Context, reporterUserID, profileURL string) (*MonitoredLead, error)
		FindOrCreateMonitoredCompany(ctx context.Context, reporterUserID, companyURL string) (*MonitoredCompany, error)

		// SaveLeadSnapshot replaces the snapshot columns with the fetched
		// profile and appends the given alerts atomically.
		SaveLeadSnapshot(ctx context.Context, id string, p *provider.Profile, profileHash string, alerts []Alert) error

		// SaveCompanySnapshot replaces the company snapshot and appends alerts
		// atomically. Counter history rotates inside the statement: when the
		// new count differs from the stored current one, the stored value
		// moves to *_previous and *_last_checked_at is stamped.
		SaveCompanySnapshot(ctx context.Context, id string, c *provider.Company, profileHash string, alerts []Alert) error

		// PushMonitoredPost inserts postID at the front of the entity's post
		// FIFO, truncates it to seven entries and, when alert is non-nil,
		// appends the alert in the same transaction. Pushing an id already in
		// the FIFO is a no-op.
		PushMonitoredPost(ctx context.Context, kind EntityKind, id, postID string, alert *Alert) error
	}

	// DashboardStore is the persistence surface of the HTTP API.
	DashboardStore interface {
		CreateCampaign(ctx context.Context, c *Campaign) error
		UpdateCampaign(ctx context.Context, c *Campaign) error
		SoftDeleteCampaign(ctx context.Context, id string) error
		ListCampaigns(ctx context.Context, organizationID string) ([]Campaign, error)

		// CreateLeads bulk-inserts the rows published from a lead list.
		CreateLeads(ctx context.Context, leads []Lead) error

		ListAlerts(ctx context.Context, reporterUserID string, limit int) ([]Alert, error)
		AcknowledgeAlert(ctx context.Context, alertID string) error
	}

	// Store is the full persistence surface, implemented by store/postgres.
	Store interface {
		CampaignStore
		MonitorStore
		DashboardStore
	}
)

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignStopped   CampaignStatus = "stopped"
)

const (
	LeadQueued     LeadStatus = "Queued"
	LeadProcessing LeadStatus = "Processing"
	LeadFailed     LeadStatus = "Failed"
	LeadCompleted  LeadStatus = "Completed"
)

const (
	PriorityLow    AlertPriority = "LOW"
	PriorityMedium AlertPriority = "MEDIUM"
	PriorityHigh   AlertPriority = "HIGH"
)

const (
	KindLead    EntityKind = "lead"
	KindCompany EntityKind = "company"
)

// Terminal reports whether the campaign status admits no further transitions.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignCompleted, CampaignFailed, CampaignStopped:
		return true
	}
	return false
}

// PushPostID returns ids with postID prepended and the result truncated to
// seven entries. When postID is already present, ids is returned unchanged.
func PushPostID(ids []string, postID string) []string {
	for _, id := range ids {
		if id == postID {
			return ids
		}
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, postID)
	out = append(out, ids...)
	if len(out) > 7 {
		out = out[:7]
	}
	return out
}
