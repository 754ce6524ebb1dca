package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (me *monEnv) mockCompanyRow(snap CompanySnapshot) {
	me.env.OnActivity(me.acts.GetMonitoredCompany, mock.Anything, mock.Anything).
		Return(&snap, nil)
}

func (me *monEnv) captureCompanyUpdates() {
	me.env.OnActivity(me.acts.UpdateCompanyProfile, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			me.cupdates = append(me.cupdates, args.Get(1).(UpdateCompanyInput))
		}).Return(&UpdateResult{}, nil)
}

func (me *monEnv) captureCompanyIngests() {
	me.env.OnActivity(me.acts.IngestCompanyPost, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			me.cingests = append(me.cingests, args.Get(1).(IngestPostInput))
		}).Return(&IngestPostResult{Alerted: true}, nil)
}

func (me *monEnv) queryCompanyPaused() bool {
	me.t.Helper()
	v, err := me.env.QueryWorkflow(QueryCompanyMonitoringStatus)
	require.NoError(me.t, err)
	var status MonitorStatus
	require.NoError(me.t, v.Get(&status))
	return status.IsPaused
}

func companySnap() CompanySnapshot {
	return CompanySnapshot{
		ID:             "mc-1",
		ReporterUserID: "user-9",
		CompanyURL:     "https://www.linkedin.com/company/acme",
	}
}

func TestCompanyMonitorEnrollsThenRenews(t *testing.T) {
	t.Parallel()

	me := newMonEnv(t)
	me.mockCompanyRow(companySnap())
	me.captureCompanyUpdates()
	me.captureCompanyIngests()

	var fetchIn FetchCompanyInput
	me.env.OnActivity(me.acts.FetchCompanyProfile, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { fetchIn = args.Get(1).(FetchCompanyInput) }).
		Return(&CompanyFetchResult{
			Company: *matchingCompany(),
			PostIDs: []string{"cp2", "cp1"},
		}, nil).Twice()

	me.runToRenewal(CompanyMonitorWorkflow, CompanyMonitorInput{
		MonitoredCompanyID: "mc-1",
		AccountID:          "acct-1",
	})

	require.Equal(t, "mc-1", fetchIn.MonitoredCompanyID)
	require.Equal(t, "https://www.linkedin.com/company/acme", fetchIn.CompanyURL)
	require.GreaterOrEqual(t, me.elapsed(), 7*24*time.Hour)

	// One seeding write plus the single weekly cycle before the renewal.
	require.Len(t, me.cupdates, 2)
	require.True(t, me.cupdates[0].IsInitialFetch)
	require.False(t, me.cupdates[1].IsInitialFetch)
	require.Equal(t, "acme", me.cupdates[0].Company.Identifier)

	// Enrollment ingests the current posts oldest first, silently.
	require.Len(t, me.cingests, 2)
	require.Equal(t, "cp1", me.cingests[0].PostID)
	require.Equal(t, "cp2", me.cingests[1].PostID)
	for _, in := range me.cingests {
		require.True(t, in.IsInitialFetch)
		require.Equal(t, "mc-1", in.EntityID)
	}
	me.env.AssertExpectations(t)
}

func TestCompanyMonitorSingleCyclePerRun(t *testing.T) {
	t.Parallel()

	me := newMonEnv(t)
	me.mockCompanyRow(companySnap())
	me.captureCompanyUpdates()
	me.env.OnActivity(me.acts.FetchCompanyProfile, mock.Anything, mock.Anything).
		Return(&CompanyFetchResult{Company: *matchingCompany()}, nil).Once()

	me.runToRenewal(CompanyMonitorWorkflow, CompanyMonitorInput{
		MonitoredCompanyID: "mc-1",
		AccountID:          "acct-1",
		Iteration:          4,
	})

	require.Len(t, me.cupdates, 1)
	require.False(t, me.cupdates[0].IsInitialFetch)
	require.Equal(t, "mc-1", me.cupdates[0].MonitoredCompanyID)
	require.Equal(t, "user-9", me.cupdates[0].ReporterUserID)
	require.GreaterOrEqual(t, me.elapsed(), 7*24*time.Hour)
	me.env.AssertExpectations(t)
}

func TestCompanyMonitorAlertsOnNewPost(t *testing.T) {
	t.Parallel()

	snap := companySnap()
	snap.KnownPostIDs = []string{"cp1"}

	me := newMonEnv(t)
	me.mockCompanyRow(snap)
	me.captureCompanyUpdates()
	me.captureCompanyIngests()
	me.env.OnActivity(me.acts.FetchCompanyProfile, mock.Anything, mock.Anything).
		Return(&CompanyFetchResult{
			Company: *matchingCompany(),
			PostIDs: []string{"cp2", "cp1"},
		}, nil)

	me.runToRenewal(CompanyMonitorWorkflow, CompanyMonitorInput{
		MonitoredCompanyID: "mc-1",
		AccountID:          "acct-1",
		Iteration:          1,
	})

	require.Len(t, me.cingests, 1)
	in := me.cingests[0]
	require.Equal(t, "cp2", in.PostID)
	require.False(t, in.IsInitialFetch)
	require.Equal(t, "user-9", in.ReporterUserID)
}

func TestCompanyMonitorRenewsDespiteFetchFailure(t *testing.T) {
	t.Parallel()

	me := newMonEnv(t)
	me.mockCompanyRow(companySnap())
	me.env.OnActivity(me.acts.FetchCompanyProfile, mock.Anything, mock.Anything).
		Return(nil, errors.New("provider: get_company: upstream timeout")).Times(3)

	// Completing with a renewal proves the failed cycle neither updated the
	// snapshot nor killed the monitor.
	me.runToRenewal(CompanyMonitorWorkflow, CompanyMonitorInput{
		MonitoredCompanyID: "mc-1",
		AccountID:          "acct-1",
		Iteration:          2,
	})
	require.GreaterOrEqual(t, me.elapsed(), 7*24*time.Hour)
}

func TestCompanyMonitorPauseExtendsCycle(t *testing.T) {
	t.Parallel()

	me := newMonEnv(t)
	me.mockCompanyRow(companySnap())
	me.captureCompanyUpdates()
	me.env.OnActivity(me.acts.FetchCompanyProfile, mock.Anything, mock.Anything).
		Return(&CompanyFetchResult{Company: *matchingCompany()}, nil)

	me.env.RegisterDelayedCallback(func() {
		me.env.SignalWorkflow(SignalPauseCompanyMonitoring, nil)
	}, 150*time.Minute)
	me.env.RegisterDelayedCallback(func() {
		require.True(t, me.queryCompanyPaused())
	}, 5*time.Hour)
	me.env.RegisterDelayedCallback(func() {
		me.env.SignalWorkflow(SignalResumeCompanyMonitoring, nil)
	}, 10*time.Hour)

	me.runToRenewal(CompanyMonitorWorkflow, CompanyMonitorInput{
		MonitoredCompanyID: "mc-1",
		AccountID:          "acct-1",
		Iteration:          1,
	})

	require.Len(t, me.cupdates, 1)
	require.GreaterOrEqual(t, me.elapsed(), 7*24*time.Hour+6*time.Hour)
}
