package postgres

import (
	"context"
	"database/sql/driver"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/reachforge/outreach/provider"
	"github.com/reachforge/outreach/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := New(db)
	require.NoError(t, err)
	return s, mock
}

// textArray matches a text[] argument regardless of how the driver quotes it.
type textArray []string

func (a textArray) Match(v driver.Value) bool {
	var raw string
	switch vv := v.(type) {
	case string:
		raw = vv
	case []byte:
		raw = string(vv)
	default:
		return false
	}
	raw = strings.Trim(raw, "{}")
	raw = strings.ReplaceAll(raw, `"`, "")
	var got []string
	if raw != "" {
		got = strings.Split(raw, ",")
	}
	if len(got) != len(a) {
		return false
	}
	for i := range a {
		if got[i] != a[i] {
			return false
		}
	}
	return true
}

func strPtr(s string) *string { return &s }

func TestCampaignNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, organization_id, name")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Campaign(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM campaigns")).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "name", "description", "account_id", "lead_list_id",
			"start_time", "end_time", "timezone", "leads_per_day", "workflow_key",
			"status", "is_deleted", "created_at", "updated_at",
		}).AddRow("c-1", "org-1", "Q3 outreach", "", "acct-1", "list-1",
			"09:00", "17:00", "Europe/Berlin", 25, "workflows/org-1/c-1.json",
			"active", false, now, now))

	c, err := s.Campaign(context.Background(), "c-1")
	require.NoError(t, err)
	require.Equal(t, store.CampaignActive, c.Status)
	require.Equal(t, "Europe/Berlin", c.Timezone)
	require.False(t, c.IsDeleted)
}

func TestSetLeadStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET status")).
		WithArgs(string(store.LeadFailed), "lead-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetLeadStatus(context.Background(), "lead-9", store.LeadFailed)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppendStepUsesConflictGuard(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (campaign_id, lead_id, step_index) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "c-1", "lead-1", 0, "send_connection_request",
			`{"message":"hi"}`, true, `{"success":true}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendStep(context.Background(), store.CampaignStep{
		CampaignID: "c-1",
		LeadID:     "lead-1",
		StepIndex:  0,
		NodeType:   "send_connection_request",
		Config:     []byte(`{"message":"hi"}`),
		Success:    true,
		Result:     []byte(`{"success":true}`),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountNullProviderID(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "provider", "provider_account_id", "created_at", "updated_at",
		}).AddRow("acct-1", "org-1", "linkedin", nil, now, now))

	a, err := s.Account(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Nil(t, a.ProviderAccountID)
}

func TestSaveLeadSnapshotCommitsAlertsAtomically(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE monitored_leads SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := &provider.Profile{Identifier: "jane-doe", FullName: strPtr("Jane Doe")}
	alerts := []store.Alert{
		{LeadID: "ml-1", ReporterUserID: "u-1", Title: "HeadLine Changed", Priority: store.PriorityMedium},
		{LeadID: "ml-1", ReporterUserID: "u-1", Title: "Location Changed", Priority: store.PriorityHigh},
	}
	err := s.SaveLeadSnapshot(context.Background(), "ml-1", p, "hash-1", alerts)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveLeadSnapshotRollsBackOnMissingRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE monitored_leads SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.SaveLeadSnapshot(context.Background(), "missing", &provider.Profile{}, "h", nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCompanySnapshotRotatesCountersInStatement(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("employee_count_current IS DISTINCT FROM $11")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count := 150
	c := &provider.Company{Identifier: "acme", EmployeeCount: &count}
	require.NoError(t, s.SaveCompanySnapshot(context.Background(), "mc-1", c, "h", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPushMonitoredPostSkipsExistingID(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_7_posts_ids FROM monitored_leads")).
		WithArgs("ml-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_7_posts_ids"}).AddRow("{p1,p2}"))
	mock.ExpectCommit()

	alert := &store.Alert{LeadID: "ml-1", ReporterUserID: "u-1", Title: "New Post By Lead"}
	err := s.PushMonitoredPost(context.Background(), store.KindLead, "ml-1", "p1", alert)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPushMonitoredPostPrependsAndTruncates(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_7_posts_ids FROM monitored_companies")).
		WithArgs("mc-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_7_posts_ids"}).
			AddRow("{p1,p2,p3,p4,p5,p6,p7}"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE monitored_companies SET last_7_posts_ids")).
		WithArgs("mc-1", textArray{"p8", "p1", "p2", "p3", "p4", "p5", "p6"}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	alert := &store.Alert{LeadID: "mc-1", ReporterUserID: "u-1", Title: "New Post By Company"}
	err := s.PushMonitoredPost(context.Background(), store.KindCompany, "mc-1", "p8", alert)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPushMonitoredPostRejectsUnknownKind(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.PushMonitoredPost(context.Background(), "pet", "x", "p1", nil)
	require.Error(t, err)
}

func TestFindOrCreateMonitoredLeadUpsertsThenReads(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (reporter_user_id, profile_url) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "u-1", "https://www.linkedin.com/in/jane-doe/").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM monitored_leads WHERE reporter_user_id")).
		WithArgs("u-1", "https://www.linkedin.com/in/jane-doe/").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "reporter_user_id", "profile_url", "full_name", "headline", "location",
			"profile_image_url", "last_job_title", "last_company_name", "last_company_id",
			"last_company_domain", "last_company_size", "last_company_industry",
			"last_experience", "last_education", "last_profile_hash", "last_fetched_at",
			"last_7_posts_ids", "created_at", "updated_at",
		}).AddRow("ml-1", "u-1", "https://www.linkedin.com/in/jane-doe/",
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			nil, nil, nil, nil, "{}", now, now))

	ml, err := s.FindOrCreateMonitoredLead(context.Background(), "u-1", "https://www.linkedin.com/in/jane-doe/")
	require.NoError(t, err)
	require.Equal(t, "ml-1", ml.ID)
	require.Nil(t, ml.FullName)
	require.Empty(t, ml.Last7PostIDs)
}

func TestPushPostIDFIFO(t *testing.T) {
	ids := []string{"p1", "p2"}
	ids = store.PushPostID(ids, "p3")
	require.Equal(t, []string{"p3", "p1", "p2"}, ids)

	ids = store.PushPostID(ids, "p3")
	require.Equal(t, []string{"p3", "p1", "p2"}, ids, "duplicate push must not grow the FIFO")

	for _, id := range []string{"p4", "p5", "p6", "p7", "p8"} {
		ids = store.PushPostID(ids, id)
	}
	require.Len(t, ids, 7)
	require.Equal(t, "p8", ids[0])
	require.NotContains(t, ids, "p2")
}
