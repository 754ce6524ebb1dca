package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"goa.design/clue/log"

	"github.com/reachforge/outreach/store"
)

type alertView struct {
	ID            string    `json:"id"`
	LeadID        string    `json:"lead_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Priority      string    `json:"priority"`
	Acknowledged  bool      `json:"acknowledged"`
	PreviousValue *string   `json:"previous_value,omitempty"`
	UpdatedValue  *string   `json:"updated_value,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toAlertView(al store.Alert) alertView {
	return alertView{
		ID:            al.ID,
		LeadID:        al.LeadID,
		Title:         al.Title,
		Description:   al.Description,
		Priority:      string(al.Priority),
		Acknowledged:  al.Acknowledged,
		PreviousValue: al.PreviousValue,
		UpdatedValue:  al.UpdatedValue,
		CreatedAt:     al.CreatedAt,
	}
}

// listAlerts returns the newest alerts for the reporting user. limit
// defaults to 50 and caps at 200.
func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := a.store.ListAlerts(ctx, userID, limit)
	if err != nil {
		respondStoreError(ctx, w, err, "list alerts")
		return
	}
	views := make([]alertView, 0, len(rows))
	for _, al := range rows {
		views = append(views, toAlertView(al))
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": views})
}

func (a *API) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := a.store.AcknowledgeAlert(ctx, id); err != nil {
		respondStoreError(ctx, w, err, "acknowledge alert")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "acknowledged"})
}

// streamAlerts relays the reporter's live alert feed over server-sent
// events. Each notification becomes one "alert" event; a ping every 15
// seconds keeps intermediaries from closing the connection. The stream ends
// when the client disconnects or the subscription reports an error.
func (a *API) streamAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.alerts == nil {
		respondError(w, http.StatusServiceUnavailable, "alert stream not configured")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	notifications, errs, cancel, err := a.alerts.Subscribe(ctx, userID)
	if err != nil {
		respondServiceError(ctx, w, err, "subscribe alerts")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case err := <-errs:
			if err != nil {
				log.Errorf(ctx, err, "alert stream for %s", userID)
			}
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				log.Errorf(ctx, err, "encode alert notification")
				continue
			}
			fmt.Fprintf(w, "event: alert\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
