// Package httpapi exposes the dashboard-facing REST surface: campaign CRUD
// and lifecycle control, monitor control, alert listing and the live alert
// feed. Handlers validate and translate; campaign and monitor semantics live
// behind the orchestrator interfaces and all persistence goes through the
// dashboard store.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.temporal.io/api/serviceerror"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/reachforge/outreach/alertstream"
	"github.com/reachforge/outreach/campaign"
	"github.com/reachforge/outreach/monitor"
	"github.com/reachforge/outreach/store"
)

type (
	// CampaignOrchestrator controls campaign workflow lifecycles. The
	// campaign service satisfies it.
	CampaignOrchestrator interface {
		Start(ctx context.Context, campaignID, organizationID string) (string, error)
		Pause(ctx context.Context, campaignID, organizationID string) error
		Resume(ctx context.Context, campaignID, organizationID string) error
		Stop(ctx context.Context, campaignID string) error
		Status(ctx context.Context, campaignID string) (*campaign.Status, error)
	}

	// MonitorOrchestrator controls monitor workflow lifecycles. The monitor
	// service satisfies it.
	MonitorOrchestrator interface {
		StartLeadMonitor(ctx context.Context, reporterUserID, profileURL, accountID string) (string, error)
		PauseLeadMonitor(ctx context.Context, monitoredLeadID string) error
		ResumeLeadMonitor(ctx context.Context, monitoredLeadID string) error
		StopLeadMonitor(ctx context.Context, monitoredLeadID string) error
		LeadMonitorStatus(ctx context.Context, monitoredLeadID string) (*monitor.Status, error)
		StartCompanyMonitor(ctx context.Context, reporterUserID, companyURL, accountID string) (string, error)
		PauseCompanyMonitor(ctx context.Context, monitoredCompanyID string) error
		ResumeCompanyMonitor(ctx context.Context, monitoredCompanyID string) error
		StopCompanyMonitor(ctx context.Context, monitoredCompanyID string) error
		CompanyMonitorStatus(ctx context.Context, monitoredCompanyID string) (*monitor.Status, error)
	}

	// WorkflowStore reads and writes campaign graph JSON and lead-list
	// uploads. The object store satisfies it.
	WorkflowStore interface {
		PutWorkflow(ctx context.Context, organizationID, campaignID string, def []byte) error
		GetWorkflow(ctx context.Context, organizationID, campaignID string) ([]byte, error)
		GetLeadList(ctx context.Context, organizationID, leadListID, filename string) (io.ReadCloser, error)
	}

	// AlertFeed opens live alert subscriptions. The alertstream subscriber
	// satisfies it.
	AlertFeed interface {
		Subscribe(ctx context.Context, reporterUserID string) (<-chan alertstream.Notification, <-chan error, context.CancelFunc, error)
	}

	// Options configures New.
	Options struct {
		// Campaigns controls campaign workflows. Required.
		Campaigns CampaignOrchestrator
		// Monitors controls monitor workflows. Required.
		Monitors MonitorOrchestrator
		// Store is the dashboard persistence surface. Required.
		Store store.DashboardStore
		// Workflows holds campaign graph JSON and lead lists. Required.
		Workflows WorkflowStore
		// Alerts opens live alert subscriptions. Optional; without it the
		// stream endpoint responds 503.
		Alerts AlertFeed
		// Pingers are probed by /healthz.
		Pingers []health.Pinger
		// AuthToken guards /api routes when set.
		AuthToken string
		// AllowedOrigins configures CORS. Empty allows any origin.
		AllowedOrigins []string
		// Debug mounts pprof and the debug-log toggle and logs request
		// bodies.
		Debug bool
	}

	// API bundles the handler dependencies.
	API struct {
		campaigns CampaignOrchestrator
		monitors  MonitorOrchestrator
		store     store.DashboardStore
		workflows WorkflowStore
		alerts    AlertFeed
		pingers   []health.Pinger
		token     string
		origins   []string
		debug     bool
	}

	// debugMux adapts chi to the clue debug mount points. Trailing-slash
	// patterns become chi wildcards so pprof profile subpaths route.
	debugMux struct {
		r chi.Router
	}

	healthResponse struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies,omitempty"`
	}
)

// New validates the dependency set.
func New(opts Options) (*API, error) {
	if opts.Campaigns == nil {
		return nil, errors.New("httpapi: campaign orchestrator is required")
	}
	if opts.Monitors == nil {
		return nil, errors.New("httpapi: monitor orchestrator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("httpapi: dashboard store is required")
	}
	if opts.Workflows == nil {
		return nil, errors.New("httpapi: workflow store is required")
	}
	return &API{
		campaigns: opts.Campaigns,
		monitors:  opts.Monitors,
		store:     opts.Store,
		workflows: opts.Workflows,
		alerts:    opts.Alerts,
		pingers:   opts.Pingers,
		token:     opts.AuthToken,
		origins:   opts.AllowedOrigins,
		debug:     opts.Debug,
	}, nil
}

// Handler builds the router. ctx is the logging root; request logs and
// handler errors flow through it.
func (a *API) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(log.HTTP(ctx))
	if a.debug {
		r.Use(debug.HTTP())
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(a.corsOptions()))

	if a.debug {
		debug.MountDebugLogEnabler(debugMux{r})
		debug.MountPprofHandlers(debugMux{r})
	}

	r.Get("/healthz", a.healthz)
	r.Get("/livez", a.livez)

	r.Route("/api", func(r chi.Router) {
		if a.token != "" {
			r.Use(a.requireAuth)
		}
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", a.listCampaigns)
			r.Post("/", a.downloadWorkflow)
			r.Post("/create", a.createCampaign)
			r.Post("/edit", a.editCampaign)
			r.Post("/delete", a.deleteCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/pause", a.pauseCampaign)
				r.Post("/resume", a.resumeCampaign)
				r.Post("/stop", a.stopCampaign)
				r.Get("/status", a.campaignStatus)
				r.Post("/publish-leads", a.publishLeads)
			})
		})
		r.Route("/monitors", func(r chi.Router) {
			r.Route("/leads", func(r chi.Router) {
				r.Post("/start", a.startLeadMonitor)
				r.Route("/{id}", func(r chi.Router) {
					r.Post("/pause", a.pauseLeadMonitor)
					r.Post("/resume", a.resumeLeadMonitor)
					r.Post("/stop", a.stopLeadMonitor)
					r.Get("/status", a.leadMonitorStatus)
				})
			})
			r.Route("/companies", func(r chi.Router) {
				r.Post("/start", a.startCompanyMonitor)
				r.Route("/{id}", func(r chi.Router) {
					r.Post("/pause", a.pauseCompanyMonitor)
					r.Post("/resume", a.resumeCompanyMonitor)
					r.Post("/stop", a.stopCompanyMonitor)
					r.Get("/status", a.companyMonitorStatus)
				})
			})
		})
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", a.listAlerts)
			r.Get("/stream", a.streamAlerts)
			r.Post("/{id}/acknowledge", a.acknowledgeAlert)
		})
	})
	return r
}

func (a *API) corsOptions() cors.Options {
	origins := a.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}
}

// requireAuth checks the bearer token on every /api request.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tok == "" || tok != a.token {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthz pings every registered dependency. Any failure degrades the
// overall status to 503.
func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deps := make(map[string]string, len(a.pingers))
	status := http.StatusOK
	overall := "ok"
	for _, p := range a.pingers {
		if err := p.Ping(ctx); err != nil {
			deps[p.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "degraded"
			continue
		}
		deps[p.Name()] = "ok"
	}
	respondJSON(w, status, healthResponse{Status: overall, Dependencies: deps})
}

func (a *API) livez(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (m debugMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.r.ServeHTTP(w, r)
}

func (m debugMux) Handle(pattern string, h http.Handler) {
	if strings.HasSuffix(pattern, "/") {
		pattern += "*"
	}
	m.r.Handle(pattern, h)
}

func (m debugMux) HandleFunc(pattern string, h func(http.ResponseWriter, *http.Request)) {
	if strings.HasSuffix(pattern, "/") {
		pattern += "*"
	}
	m.r.HandleFunc(pattern, h)
}

// respondServiceError maps orchestration failures onto HTTP statuses.
func respondServiceError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, "workflow not running")
		return
	}
	log.Errorf(ctx, err, "%s", msg)
	respondError(w, http.StatusInternalServerError, msg)
}

// respondStoreError maps persistence failures onto HTTP statuses.
func respondStoreError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	log.Errorf(ctx, err, "%s", msg)
	respondError(w, http.StatusInternalServerError, msg)
}
