package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reachforge/outreach/monitor"
)

type monitorStartRequest struct {
	ReporterUserID string `json:"reporter_user_id"`
	ProfileURL     string `json:"profile_url"`
	CompanyURL     string `json:"company_url"`
	AccountID      string `json:"account_id"`
}

// startLeadMonitor enrolls a profile URL for the reporting user and starts
// its monitor workflow. Re-posting the same URL reuses the stored row, so
// the returned id is stable across calls.
func (a *API) startLeadMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req monitorStartRequest
	if err := decodeJSON(r, &req); err != nil || req.ReporterUserID == "" || req.ProfileURL == "" || req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "reporter_user_id, profile_url and account_id are required")
		return
	}
	id, err := a.monitors.StartLeadMonitor(ctx, req.ReporterUserID, req.ProfileURL, req.AccountID)
	if err != nil {
		respondServiceError(ctx, w, err, "start lead monitor")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) startCompanyMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req monitorStartRequest
	if err := decodeJSON(r, &req); err != nil || req.ReporterUserID == "" || req.CompanyURL == "" || req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "reporter_user_id, company_url and account_id are required")
		return
	}
	id, err := a.monitors.StartCompanyMonitor(ctx, req.ReporterUserID, req.CompanyURL, req.AccountID)
	if err != nil {
		respondServiceError(ctx, w, err, "start company monitor")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) pauseLeadMonitor(w http.ResponseWriter, r *http.Request) {
	a.signalMonitor(w, r, a.monitors.PauseLeadMonitor, "pause lead monitor")
}

func (a *API) resumeLeadMonitor(w http.ResponseWriter, r *http.Request) {
	a.signalMonitor(w, r, a.monitors.ResumeLeadMonitor, "resume lead monitor")
}

func (a *API) stopLeadMonitor(w http.ResponseWriter, r *http.Request) {
	a.signalMonitor(w, r, a.monitors.StopLeadMonitor, "stop lead monitor")
}

func (a *API) leadMonitorStatus(w http.ResponseWriter, r *http.Request) {
	a.monitorStatus(w, r, a.monitors.LeadMonitorStatus, "lead monitor status")
}

func (a *API) pauseCompanyMonitor(w http.ResponseWriter, r *http.Request) {
	a.signalMonitor(w, r, a.monitors.PauseCompanyMonitor, "pause company monitor")
}

func (a *API) resumeCompanyMonitor(w http.ResponseWriter, r *http.Request) {
	a.signalMonitor(w, r, a.monitors.ResumeCompanyMonitor, "resume company monitor")
}

func (a *API) stopCompanyMonitor(w http.ResponseWriter, r *http.Request) {
	a.signalMonitor(w, r, a.monitors.StopCompanyMonitor, "stop company monitor")
}

func (a *API) companyMonitorStatus(w http.ResponseWriter, r *http.Request) {
	a.monitorStatus(w, r, a.monitors.CompanyMonitorStatus, "company monitor status")
}

// signalMonitor routes pause, resume and stop. A signal against an entity
// with no running workflow responds 404.
func (a *API) signalMonitor(w http.ResponseWriter, r *http.Request, signal func(context.Context, string) error, msg string) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := signal(ctx, id); err != nil {
		respondServiceError(ctx, w, err, msg)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
}

func (a *API) monitorStatus(w http.ResponseWriter, r *http.Request, status func(context.Context, string) (*monitor.Status, error), msg string) {
	ctx := r.Context()
	st, err := status(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(ctx, w, err, msg)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
