package monitor

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/reachforge/outreach/provider"
	"github.com/reachforge/outreach/store"
)

// monitorState tracks the pause flag the signal pump toggles.
type monitorState struct {
	paused bool
}

// withMonitorActivityOptions applies the monitoring activity policy: short
// calls, heartbeats on provider reads and the standard three-attempt retry
// ladder.
func withMonitorActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				errTypeValidation, errTypeAuth,
			},
		},
	})
}

// LeadMonitorWorkflow watches one monitored lead. The first run enrolls the
// current profile and posts without alerting, then every cycle refetches,
// alerts on new posts and field changes, and sleeps a day in interruptible
// chunks. The run continues as new periodically to keep history bounded.
func LeadMonitorWorkflow(ctx workflow.Context, input LeadMonitorInput) error {
	logger := workflow.GetLogger(ctx)
	ctx = withMonitorActivityOptions(ctx)
	var acts *Activities

	state := &monitorState{paused: input.Paused}
	if err := workflow.SetQueryHandler(ctx, QueryMonitoringStatus, func() (MonitorStatus, error) {
		return MonitorStatus{IsPaused: state.paused, ID: input.MonitoredLeadID}, nil
	}); err != nil {
		return err
	}
	pumpPauseSignals(ctx, SignalPauseLeadMonitoring, SignalResumeLeadMonitoring, state)
	period := input.Period
	if period <= 0 {
		period = LeadMonitorPeriod
	}

	var snap LeadSnapshot
	if err := workflow.ExecuteActivity(ctx, acts.GetMonitoredLead, EntityInput{
		ID: input.MonitoredLeadID,
	}).Get(ctx, &snap); err != nil {
		return err
	}
	known := snap.KnownPostIDs

	if input.Iteration == 0 {
		fetched, err := fetchLead(ctx, input, snap)
		if err != nil {
			return err
		}
		if err := updateLead(ctx, input, snap, fetched.Profile, true, nil); err != nil {
			return err
		}
		known = enrollLeadPosts(ctx, input, snap, known, fetched.PostIDs, true)
		logger.Info("lead monitor enrolled",
			"monitored_lead_id", input.MonitoredLeadID, "posts", len(fetched.PostIDs))
	}

	for iter := 0; ; iter++ {
		if err := sleepObservingPause(ctx, period, state); err != nil {
			return err
		}

		fetched, err := fetchLead(ctx, input, snap)
		if err != nil {
			// The next cycle retries; transient provider trouble must not
			// kill a monitor that runs for months.
			logger.Warn("lead refetch failed",
				"monitored_lead_id", input.MonitoredLeadID, "error", err)
			continue
		}
		known = enrollLeadPosts(ctx, input, snap, known, fetched.PostIDs, false)

		var upd UpdateResult
		if err := updateLead(ctx, input, snap, fetched.Profile, false, &upd); err != nil {
			logger.Warn("lead snapshot update failed",
				"monitored_lead_id", input.MonitoredLeadID, "error", err)
			continue
		}
		logger.Info("lead monitor cycle complete",
			"monitored_lead_id", input.MonitoredLeadID,
			"iteration", input.Iteration+iter+1,
			"alerts", upd.AlertsCreated)

		if (iter+1)%leadRenewIterations == 0 {
			next := input
			next.Iteration += iter + 1
			next.Paused = state.paused
			return workflow.NewContinueAsNewError(ctx, LeadMonitorWorkflow, next)
		}
	}
}

func fetchLead(ctx workflow.Context, input LeadMonitorInput, snap LeadSnapshot) (*LeadFetchResult, error) {
	var acts *Activities
	var fetched LeadFetchResult
	err := workflow.ExecuteActivity(ctx, acts.FetchLeadProfile, FetchLeadInput{
		MonitoredLeadID: input.MonitoredLeadID,
		AccountID:       input.AccountID,
		ProfileURL:      snap.ProfileURL,
	}).Get(ctx, &fetched)
	if err != nil {
		return nil, err
	}
	return &fetched, nil
}

func updateLead(ctx workflow.Context, input LeadMonitorInput, snap LeadSnapshot, profile provider.Profile, initial bool, out *UpdateResult) error {
	var acts *Activities
	fut := workflow.ExecuteActivity(ctx, acts.UpdateLeadProfile, UpdateLeadInput{
		MonitoredLeadID: input.MonitoredLeadID,
		ReporterUserID:  snap.ReporterUserID,
		Profile:         profile,
		IsInitialFetch:  initial,
	})
	if out != nil {
		return fut.Get(ctx, out)
	}
	return fut.Get(ctx, nil)
}

// enrollLeadPosts ingests every post id missing from the FIFO, newest last so
// the stored window ends up newest-first. A failed ingest is skipped and
// picked up again next cycle because the id never enters the window.
func enrollLeadPosts(ctx workflow.Context, input LeadMonitorInput, snap LeadSnapshot, known, fetched []string, initial bool) []string {
	logger := workflow.GetLogger(ctx)
	var acts *Activities
	for i := len(fetched) - 1; i >= 0; i-- {
		postID := fetched[i]
		if containsID(known, postID) {
			continue
		}
		if err := workflow.ExecuteActivity(ctx, acts.IngestLeadPost, IngestPostInput{
			EntityID:       input.MonitoredLeadID,
			ReporterUserID: snap.ReporterUserID,
			AccountID:      input.AccountID,
			PostID:         postID,
			IsInitialFetch: initial,
		}).Get(ctx, nil); err != nil {
			logger.Warn("post ingest failed",
				"monitored_lead_id", input.MonitoredLeadID, "post_id", postID, "error", err)
			continue
		}
		known = store.PushPostID(known, postID)
	}
	return known
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// pumpPauseSignals consumes pause and resume signals for the lifetime of the
// run.
func pumpPauseSignals(ctx workflow.Context, pauseSignal, resumeSignal string, state *monitorState) {
	logger := workflow.GetLogger(ctx)
	pauseCh := workflow.GetSignalChannel(ctx, pauseSignal)
	resumeCh := workflow.GetSignalChannel(ctx, resumeSignal)

	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			selector := workflow.NewSelector(gctx)
			selector.AddReceive(pauseCh, func(c workflow.ReceiveChannel, _ bool) {
				c.Receive(gctx, nil)
				if !state.paused {
					state.paused = true
					logger.Info("monitoring paused")
				}
			})
			selector.AddReceive(resumeCh, func(c workflow.ReceiveChannel, _ bool) {
				c.Receive(gctx, nil)
				if state.paused {
					state.paused = false
					logger.Info("monitoring resumed")
				}
			})
			selector.Select(gctx)
		}
	})
}

// sleepObservingPause sleeps the cycle period in chunks so a pause signal is
// observed within an hour, then holds until resumed.
func sleepObservingPause(ctx workflow.Context, period time.Duration, state *monitorState) error {
	remaining := period
	for remaining > 0 {
		chunk := sleepChunk
		if remaining < chunk {
			chunk = remaining
		}
		if err := workflow.Sleep(ctx, chunk); err != nil {
			return err
		}
		remaining -= chunk
		if state.paused {
			if err := workflow.Await(ctx, func() bool { return !state.paused }); err != nil {
				return err
			}
		}
	}
	return nil
}
