package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"

	"github.com/reachforge/outreach/campaign"
	"github.com/reachforge/outreach/campaign/window"
	"github.com/reachforge/outreach/objstore"
	"github.com/reachforge/outreach/store"
)

type (
	campaignRequest struct {
		ID             string          `json:"id"`
		OrganizationID string          `json:"organization_id"`
		Name           string          `json:"name"`
		Description    string          `json:"description"`
		AccountID      string          `json:"account_id"`
		LeadListID     string          `json:"lead_list_id"`
		StartTime      string          `json:"start_time"`
		EndTime        string          `json:"end_time"`
		Timezone       string          `json:"timezone"`
		LeadsPerDay    int             `json:"leads_per_day"`
		Workflow       json.RawMessage `json:"workflow"`
	}

	campaignView struct {
		ID             string    `json:"id"`
		OrganizationID string    `json:"organization_id"`
		Name           string    `json:"name"`
		Description    string    `json:"description,omitempty"`
		AccountID      string    `json:"account_id"`
		LeadListID     string    `json:"lead_list_id,omitempty"`
		StartTime      string    `json:"start_time"`
		EndTime        string    `json:"end_time"`
		Timezone       string    `json:"timezone"`
		LeadsPerDay    int       `json:"leads_per_day"`
		WorkflowKey    string    `json:"workflow_key"`
		Status         string    `json:"status"`
		CreatedAt      time.Time `json:"created_at"`
		UpdatedAt      time.Time `json:"updated_at"`
	}
)

// validate checks the fields shared by create and edit. The window check
// runs here so broken schedules fail the request instead of the campaign's
// first workflow task.
func (req *campaignRequest) validate() error {
	if req.OrganizationID == "" {
		return errors.New("organization_id is required")
	}
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.AccountID == "" {
		return errors.New("account_id is required")
	}
	if req.LeadsPerDay <= 0 {
		return errors.New("leads_per_day must be positive")
	}
	if _, _, err := window.Evaluate(time.Now(), req.StartTime, req.EndTime, req.Timezone); err != nil {
		return fmt.Errorf("invalid sending window: %w", err)
	}
	return nil
}

// parseWorkflow validates the execution graph JSON.
func (req *campaignRequest) parseWorkflow() error {
	def, err := campaign.ParseDefinition(req.Workflow)
	if err != nil {
		return err
	}
	return campaign.ValidateDefinition(def)
}

func (req *campaignRequest) row(id string) *store.Campaign {
	return &store.Campaign{
		ID:             id,
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		AccountID:      req.AccountID,
		LeadListID:     req.LeadListID,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Timezone:       req.Timezone,
		LeadsPerDay:    req.LeadsPerDay,
		WorkflowKey:    objstore.WorkflowKey(req.OrganizationID, id),
	}
}

func toCampaignView(c store.Campaign) campaignView {
	return campaignView{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Name:           c.Name,
		Description:    c.Description,
		AccountID:      c.AccountID,
		LeadListID:     c.LeadListID,
		StartTime:      c.StartTime,
		EndTime:        c.EndTime,
		Timezone:       c.Timezone,
		LeadsPerDay:    c.LeadsPerDay,
		WorkflowKey:    c.WorkflowKey,
		Status:         string(c.Status),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// createCampaign stores the execution graph and inserts the campaign row in
// draft state. The graph is written to the object store first so a stored
// campaign always has a readable workflow key.
func (a *API) createCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req campaignRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Workflow) == 0 {
		respondError(w, http.StatusBadRequest, "workflow is required")
		return
	}
	if err := req.parseWorkflow(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := a.workflows.PutWorkflow(ctx, req.OrganizationID, id, req.Workflow); err != nil {
		respondStoreError(ctx, w, err, "store workflow")
		return
	}
	c := req.row(id)
	c.Status = store.CampaignDraft
	if err := a.store.CreateCampaign(ctx, c); err != nil {
		respondStoreError(ctx, w, err, "create campaign")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"id":           c.ID,
		"workflow_key": c.WorkflowKey,
		"status":       string(c.Status),
	})
}

// editCampaign replaces the campaign's settings. Status is not editable
// here; lifecycle transitions go through the signal endpoints. A workflow in
// the body replaces the stored graph under the same key.
func (a *API) editCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req campaignRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Workflow) > 0 {
		if err := req.parseWorkflow(); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.workflows.PutWorkflow(ctx, req.OrganizationID, req.ID, req.Workflow); err != nil {
			respondStoreError(ctx, w, err, "store workflow")
			return
		}
	}
	if err := a.store.UpdateCampaign(ctx, req.row(req.ID)); err != nil {
		respondStoreError(ctx, w, err, "update campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":           req.ID,
		"workflow_key": objstore.WorkflowKey(req.OrganizationID, req.ID),
	})
}

func (a *API) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := a.store.SoftDeleteCampaign(ctx, req.ID); err != nil {
		respondStoreError(ctx, w, err, "delete campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "deleted"})
}

func (a *API) listCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org := r.URL.Query().Get("organization_id")
	if org == "" {
		respondError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	rows, err := a.store.ListCampaigns(ctx, org)
	if err != nil {
		respondStoreError(ctx, w, err, "list campaigns")
		return
	}
	views := make([]campaignView, 0, len(rows))
	for _, c := range rows {
		views = append(views, toCampaignView(c))
	}
	respondJSON(w, http.StatusOK, map[string]any{"campaigns": views})
}

// downloadWorkflow returns the stored execution graph as a JSON attachment.
func (a *API) downloadWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		ID             string `json:"id"`
		OrganizationID string `json:"organization_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ID == "" || req.OrganizationID == "" {
		respondError(w, http.StatusBadRequest, "id and organization_id are required")
		return
	}
	raw, err := a.workflows.GetWorkflow(ctx, req.OrganizationID, req.ID)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			respondError(w, http.StatusNotFound, "workflow not found")
			return
		}
		respondStoreError(ctx, w, err, "read workflow")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", req.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (a *API) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	a.signalCampaign(w, r, a.campaigns.Pause, "pause campaign")
}

func (a *API) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	a.signalCampaign(w, r, a.campaigns.Resume, "resume campaign")
}

func (a *API) signalCampaign(w http.ResponseWriter, r *http.Request, signal func(context.Context, string, string) error, msg string) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req struct {
		OrganizationID string `json:"organization_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.OrganizationID == "" {
		respondError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	if err := signal(ctx, id, req.OrganizationID); err != nil {
		respondServiceError(ctx, w, err, msg)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
}

func (a *API) stopCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := a.campaigns.Stop(ctx, id); err != nil {
		respondServiceError(ctx, w, err, "stop campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
}

func (a *API) campaignStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.campaigns.Status(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(ctx, w, err, "campaign status")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// publishLeads parses the uploaded lead list, inserts the rows and launches
// the campaign workflow. Re-publishing the same list is safe: inserts are
// idempotent per (campaign, profile URL) and an already running campaign
// responds 409.
func (a *API) publishLeads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID := chi.URLParam(r, "id")
	var req struct {
		OrganizationID string `json:"organization_id"`
		LeadListID     string `json:"lead_list_id"`
		Filename       string `json:"filename"`
	}
	if err := decodeJSON(r, &req); err != nil || req.OrganizationID == "" || req.LeadListID == "" || req.Filename == "" {
		respondError(w, http.StatusBadRequest, "organization_id, lead_list_id and filename are required")
		return
	}
	rc, err := a.workflows.GetLeadList(ctx, req.OrganizationID, req.LeadListID, req.Filename)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			respondError(w, http.StatusNotFound, "lead list not found")
			return
		}
		respondStoreError(ctx, w, err, "read lead list")
		return
	}
	defer rc.Close()
	rows, err := objstore.ParseLeadCSV(rc)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusBadRequest, "lead list is empty")
		return
	}
	leads := make([]store.Lead, 0, len(rows))
	for _, row := range rows {
		leads = append(leads, store.Lead{
			ID:         uuid.NewString(),
			CampaignID: campaignID,
			LeadListID: req.LeadListID,
			ProfileURL: row.ProfileURL,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Company:    row.Company,
			Status:     store.LeadQueued,
		})
	}
	if err := a.store.CreateLeads(ctx, leads); err != nil {
		respondStoreError(ctx, w, err, "create leads")
		return
	}
	runID, err := a.campaigns.Start(ctx, campaignID, req.OrganizationID)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			respondError(w, http.StatusConflict, "campaign already running")
			return
		}
		respondServiceError(ctx, w, err, "start campaign")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id":     campaignID,
		"leads_published": len(leads),
		"run_id":          runID,
	})
}
