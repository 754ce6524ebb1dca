package monitor

// Stable wire names for monitoring signals and queries.
const (
	SignalPauseLeadMonitoring  = "pause-lead-monitoring"
	SignalResumeLeadMonitoring = "resume-lead-monitoring"
	QueryMonitoringStatus      = "get-monitoring-status"

	SignalPauseCompanyMonitoring  = "pause-company-monitoring"
	SignalResumeCompanyMonitoring = "resume-company-monitoring"
	QueryCompanyMonitoringStatus  = "get-company-monitoring-status"
)

// TaskQueue is the Temporal task queue monitor workflows run on.
const TaskQueue = "monitoring"

// LeadMonitorWorkflowID derives the deterministic workflow id for a monitored
// lead, keeping at most one monitor in flight per row.
func LeadMonitorWorkflowID(monitoredLeadID string) string {
	return "lead-monitor-" + monitoredLeadID
}

// CompanyMonitorWorkflowID derives the deterministic workflow id for a
// monitored company.
func CompanyMonitorWorkflowID(monitoredCompanyID string) string {
	return "company-monitor-" + monitoredCompanyID
}
