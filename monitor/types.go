// Package monitor runs the long-lived profile watchers: one workflow per
// monitored lead or company that periodically refetches the profile and its
// recent posts, diffs the result against the stored snapshot and emits
// prioritized alerts.
package monitor

import (
	"time"

	"github.com/reachforge/outreach/provider"
)

const (
	// LeadMonitorPeriod is the refetch interval for monitored people.
	LeadMonitorPeriod = 24 * time.Hour

	// CompanyMonitorPeriod is the refetch interval for monitored companies.
	CompanyMonitorPeriod = 7 * 24 * time.Hour

	// sleepChunk bounds how long a pause signal can go unobserved while the
	// monitor sleeps between cycles.
	sleepChunk = time.Hour

	// leadRenewIterations is how many cycles a lead monitor runs before it
	// continues as new to keep history bounded. Company monitors renew every
	// cycle because their period is a week.
	leadRenewIterations = 30

	// postWindow is how many recent posts each fetch examines; it matches the
	// stored FIFO size.
	postWindow = 7
)

// Alert titles for post ingestion.
const (
	TitleNewLeadPost    = "New Post By Lead"
	TitleNewCompanyPost = "New Post By Company"
)

type (
	// LeadMonitorInput starts or continues a lead monitor. Iteration and
	// Paused carry loop progress and the pause flag across continue-as-new.
	// Period overrides the cycle length, zero selects LeadMonitorPeriod.
	LeadMonitorInput struct {
		MonitoredLeadID string        `json:"monitoredLeadId"`
		AccountID       string        `json:"accountId"`
		Iteration       int           `json:"iteration,omitempty"`
		Paused          bool          `json:"paused,omitempty"`
		Period          time.Duration `json:"period,omitempty"`
	}

	// CompanyMonitorInput starts or continues a company monitor.
	CompanyMonitorInput struct {
		MonitoredCompanyID string        `json:"monitoredCompanyId"`
		AccountID          string        `json:"accountId"`
		Iteration          int           `json:"iteration,omitempty"`
		Paused             bool          `json:"paused,omitempty"`
		Period             time.Duration `json:"period,omitempty"`
	}

	// MonitorStatus answers the monitoring status query.
	MonitorStatus struct {
		IsPaused bool   `json:"isPaused"`
		ID       string `json:"id"`
	}

	// EntityInput identifies one monitored row.
	EntityInput struct {
		ID string `json:"id"`
	}

	// LeadSnapshot is the workflow's view of the stored lead row.
	LeadSnapshot struct {
		ID             string   `json:"id"`
		ReporterUserID string   `json:"reporterUserId"`
		ProfileURL     string   `json:"profileUrl"`
		KnownPostIDs   []string `json:"knownPostIds,omitempty"`
	}

	// CompanySnapshot is the workflow's view of the stored company row.
	CompanySnapshot struct {
		ID             string   `json:"id"`
		ReporterUserID string   `json:"reporterUserId"`
		CompanyURL     string   `json:"companyUrl"`
		KnownPostIDs   []string `json:"knownPostIds,omitempty"`
	}

	// FetchLeadInput asks the provider for a fresh profile and post listing.
	FetchLeadInput struct {
		MonitoredLeadID string `json:"monitoredLeadId"`
		AccountID       string `json:"accountId"`
		ProfileURL      string `json:"profileUrl"`
	}

	// LeadFetchResult is one profile observation. PostIDs are newest first.
	LeadFetchResult struct {
		Profile provider.Profile `json:"profile"`
		PostIDs []string         `json:"postIds,omitempty"`
	}

	// FetchCompanyInput asks the provider for a fresh company page.
	FetchCompanyInput struct {
		MonitoredCompanyID string `json:"monitoredCompanyId"`
		AccountID          string `json:"accountId"`
		CompanyURL         string `json:"companyUrl"`
	}

	// CompanyFetchResult is one company observation.
	CompanyFetchResult struct {
		Company provider.Company `json:"company"`
		PostIDs []string         `json:"postIds,omitempty"`
	}

	// UpdateLeadInput persists a fetched profile. On the initial fetch the
	// snapshot is stored without diffing.
	UpdateLeadInput struct {
		MonitoredLeadID string           `json:"monitoredLeadId"`
		ReporterUserID  string           `json:"reporterUserId"`
		Profile         provider.Profile `json:"profile"`
		IsInitialFetch  bool             `json:"isInitialFetch"`
	}

	// UpdateCompanyInput persists a fetched company page.
	UpdateCompanyInput struct {
		MonitoredCompanyID string           `json:"monitoredCompanyId"`
		ReporterUserID     string           `json:"reporterUserId"`
		Company            provider.Company `json:"company"`
		IsInitialFetch     bool             `json:"isInitialFetch"`
	}

	// UpdateResult reports how many change alerts the update produced.
	UpdateResult struct {
		AlertsCreated int `json:"alertsCreated"`
	}

	// IngestPostInput enrolls one post id into the entity's FIFO window. On
	// the initial fetch the post is enrolled silently; afterwards the post
	// text is fetched, classified and alerted on.
	IngestPostInput struct {
		EntityID       string `json:"entityId"`
		ReporterUserID string `json:"reporterUserId"`
		AccountID      string `json:"accountId"`
		PostID         string `json:"postId"`
		IsInitialFetch bool   `json:"isInitialFetch"`
	}

	// IngestPostResult reports whether an alert was emitted.
	IngestPostResult struct {
		Alerted bool `json:"alerted"`
	}
)
