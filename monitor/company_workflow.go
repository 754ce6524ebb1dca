package monitor

import (
	"go.temporal.io/sdk/workflow"

	"github.com/reachforge/outreach/provider"
	"github.com/reachforge/outreach/store"
)

// CompanyMonitorWorkflow watches one monitored company page. It mirrors the
// lead monitor with a weekly cycle and continues as new after every cycle so
// a monitor that runs for years never accumulates history.
func CompanyMonitorWorkflow(ctx workflow.Context, input CompanyMonitorInput) error {
	logger := workflow.GetLogger(ctx)
	ctx = withMonitorActivityOptions(ctx)
	var acts *Activities

	state := &monitorState{paused: input.Paused}
	if err := workflow.SetQueryHandler(ctx, QueryCompanyMonitoringStatus, func() (MonitorStatus, error) {
		return MonitorStatus{IsPaused: state.paused, ID: input.MonitoredCompanyID}, nil
	}); err != nil {
		return err
	}
	pumpPauseSignals(ctx, SignalPauseCompanyMonitoring, SignalResumeCompanyMonitoring, state)

	var snap CompanySnapshot
	if err := workflow.ExecuteActivity(ctx, acts.GetMonitoredCompany, EntityInput{
		ID: input.MonitoredCompanyID,
	}).Get(ctx, &snap); err != nil {
		return err
	}
	known := snap.KnownPostIDs

	if input.Iteration == 0 {
		fetched, err := fetchCompany(ctx, input, snap)
		if err != nil {
			return err
		}
		if err := updateCompany(ctx, input, snap, fetched.Company, true, nil); err != nil {
			return err
		}
		known = enrollCompanyPosts(ctx, input, snap, known, fetched.PostIDs, true)
		logger.Info("company monitor enrolled",
			"monitored_company_id", input.MonitoredCompanyID, "posts", len(fetched.PostIDs))
	}

	period := input.Period
	if period <= 0 {
		period = CompanyMonitorPeriod
	}
	if err := sleepObservingPause(ctx, period, state); err != nil {
		return err
	}

	fetched, err := fetchCompany(ctx, input, snap)
	if err != nil {
		logger.Warn("company refetch failed",
			"monitored_company_id", input.MonitoredCompanyID, "error", err)
	} else {
		enrollCompanyPosts(ctx, input, snap, known, fetched.PostIDs, false)
		var upd UpdateResult
		if err := updateCompany(ctx, input, snap, fetched.Company, false, &upd); err != nil {
			logger.Warn("company snapshot update failed",
				"monitored_company_id", input.MonitoredCompanyID, "error", err)
		} else {
			logger.Info("company monitor cycle complete",
				"monitored_company_id", input.MonitoredCompanyID,
				"iteration", input.Iteration+1,
				"alerts", upd.AlertsCreated)
		}
	}

	next := input
	next.Iteration++
	next.Paused = state.paused
	return workflow.NewContinueAsNewError(ctx, CompanyMonitorWorkflow, next)
}

func fetchCompany(ctx workflow.Context, input CompanyMonitorInput, snap CompanySnapshot) (*CompanyFetchResult, error) {
	var acts *Activities
	var fetched CompanyFetchResult
	err := workflow.ExecuteActivity(ctx, acts.FetchCompanyProfile, FetchCompanyInput{
		MonitoredCompanyID: input.MonitoredCompanyID,
		AccountID:          input.AccountID,
		CompanyURL:         snap.CompanyURL,
	}).Get(ctx, &fetched)
	if err != nil {
		return nil, err
	}
	return &fetched, nil
}

func updateCompany(ctx workflow.Context, input CompanyMonitorInput, snap CompanySnapshot, company provider.Company, initial bool, out *UpdateResult) error {
	var acts *Activities
	fut := workflow.ExecuteActivity(ctx, acts.UpdateCompanyProfile, UpdateCompanyInput{
		MonitoredCompanyID: input.MonitoredCompanyID,
		ReporterUserID:     snap.ReporterUserID,
		Company:            company,
		IsInitialFetch:     initial,
	})
	if out != nil {
		return fut.Get(ctx, out)
	}
	return fut.Get(ctx, nil)
}

func enrollCompanyPosts(ctx workflow.Context, input CompanyMonitorInput, snap CompanySnapshot, known, fetched []string, initial bool) []string {
	logger := workflow.GetLogger(ctx)
	var acts *Activities
	for i := len(fetched) - 1; i >= 0; i-- {
		postID := fetched[i]
		if containsID(known, postID) {
			continue
		}
		if err := workflow.ExecuteActivity(ctx, acts.IngestCompanyPost, IngestPostInput{
			EntityID:       input.MonitoredCompanyID,
			ReporterUserID: snap.ReporterUserID,
			AccountID:      input.AccountID,
			PostID:         postID,
			IsInitialFetch: initial,
		}).Get(ctx, nil); err != nil {
			logger.Warn("post ingest failed",
				"monitored_company_id", input.MonitoredCompanyID, "post_id", postID, "error", err)
			continue
		}
		known = store.PushPostID(known, postID)
	}
	return known
}
