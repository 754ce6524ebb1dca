package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/worker"
	"goa.design/clue/log"

	"github.com/reachforge/outreach/alertstream"
	"github.com/reachforge/outreach/campaign"
	"github.com/reachforge/outreach/config"
	"github.com/reachforge/outreach/intel"
	"github.com/reachforge/outreach/intel/anthropic"
	"github.com/reachforge/outreach/intel/summarycache"
	"github.com/reachforge/outreach/limiter"
	"github.com/reachforge/outreach/monitor"
	"github.com/reachforge/outreach/objstore"
	"github.com/reachforge/outreach/provider/unipile"
	"github.com/reachforge/outreach/store/postgres"
	"github.com/reachforge/outreach/telemetry"
)

func main() {
	var (
		configF = flag.String("config", "config.yaml", "Path to the configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger. Workflow and activity logs share the same sink through
	// the Temporal logger adapter.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}

	// Relational store.
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf(ctx, err, "open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnLifetime)
	{
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err != nil {
			log.Fatalf(ctx, err, "ping postgres")
		}
	}
	st, err := postgres.New(db)
	if err != nil {
		log.Fatalf(ctx, err, "build store")
	}

	// Redis backs the send-quota limiter and the alert streams.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	{
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			log.Fatalf(ctx, err, "ping redis")
		}
	}
	lim, err := limiter.New(rdb, limiter.Limits{
		PerDay:  cfg.Limits.ConnectionsPerDay,
		PerWeek: cfg.Limits.ConnectionsPerWeek,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build limiter")
	}

	// Workflow definitions and uploaded lead lists live in S3.
	defs, err := objstore.New(ctx, objstore.Options{
		Bucket:  cfg.Objects.Bucket,
		Region:  cfg.Objects.Region,
		Profile: cfg.Objects.Profile,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build object store")
	}

	// Social provider gateway.
	social, err := unipile.New(unipile.Options{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		HTTPClient:        &http.Client{Timeout: cfg.Provider.Timeout},
		RequestsPerMinute: cfg.Provider.RequestsPerSecond * 60,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build provider client")
	}

	// Post classification: the Anthropic model behind the Mongo summary
	// cache so repeated posts are classified once.
	cache, mc, err := summarycache.Dial(ctx, cfg.Mongo.URI, summarycache.Options{Database: cfg.Mongo.Database})
	if err != nil {
		log.Fatalf(ctx, err, "connect mongo")
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	clf, err := anthropic.NewFromAPIKey(cfg.Anthropic.APIKey, anthropic.Options{Model: cfg.Anthropic.Model})
	if err != nil {
		log.Fatalf(ctx, err, "build classifier")
	}
	posts, err := intel.NewService(clf, cache)
	if err != nil {
		log.Fatalf(ctx, err, "build intel service")
	}

	// Alerts fan out to per-reporter Redis streams for the dashboard.
	streams, err := alertstream.NewClient(alertstream.ClientOptions{Redis: rdb})
	if err != nil {
		log.Fatalf(ctx, err, "build alert stream client")
	}
	alerts, err := alertstream.NewPublisher(alertstream.PublisherOptions{Client: streams})
	if err != nil {
		log.Fatalf(ctx, err, "build alert publisher")
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Fatalf(ctx, err, "build metrics")
	}

	campaignActs, err := campaign.NewActivities(campaign.ActivitiesOptions{
		Store:       st,
		Definitions: defs,
		Provider:    social,
		Limiter:     lim,
		Metrics:     metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build campaign activities")
	}
	monitorActs, err := monitor.NewActivities(monitor.ActivitiesOptions{
		Store:      st,
		Accounts:   st,
		Provider:   social,
		Classifier: posts,
		Alerts:     alerts,
		Metrics:    metrics,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build monitor activities")
	}

	tc, workerOpts, err := dialTemporal(ctx, cfg.Temporal)
	if err != nil {
		log.Fatalf(ctx, err, "connect temporal")
	}
	defer tc.Close()

	outreach := worker.New(tc, cfg.Temporal.OutreachQueue, workerOpts)
	outreach.RegisterWorkflow(campaign.CampaignWorkflow)
	outreach.RegisterWorkflow(campaign.LeadWorkflow)
	outreach.RegisterActivity(campaignActs)

	monitoring := worker.New(tc, cfg.Temporal.MonitorQueue, workerOpts)
	monitoring.RegisterWorkflow(monitor.LeadMonitorWorkflow)
	monitoring.RegisterWorkflow(monitor.CompanyMonitorWorkflow)
	monitoring.RegisterActivity(monitorActs)

	// Create channel used by both the signal handler and worker failures to
	// notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	if err := outreach.Start(); err != nil {
		log.Fatalf(ctx, err, "start outreach worker")
	}
	log.Printf(ctx, "outreach worker polling %q", cfg.Temporal.OutreachQueue)
	if err := monitoring.Start(); err != nil {
		outreach.Stop()
		log.Fatalf(ctx, err, "start monitoring worker")
	}
	log.Printf(ctx, "monitoring worker polling %q", cfg.Temporal.MonitorQueue)

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)

	monitoring.Stop()
	outreach.Stop()
	log.Printf(ctx, "exited")
}
