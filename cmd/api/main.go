package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/reachforge/outreach/alertstream"
	"github.com/reachforge/outreach/campaign"
	"github.com/reachforge/outreach/config"
	"github.com/reachforge/outreach/httpapi"
	"github.com/reachforge/outreach/monitor"
	"github.com/reachforge/outreach/objstore"
	"github.com/reachforge/outreach/store/postgres"
	"github.com/reachforge/outreach/telemetry"
)

func main() {
	var (
		configF = flag.String("config", "config.yaml", "Path to the configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs and mount profiling handlers")
	)
	flag.Parse()

	// Setup logger.
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

	// Redis carries the per-reporter alert streams consumed by the
	// dashboard's live feed.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	streams, err := alertstream.NewClient(alertstream.ClientOptions{Redis: rdb})
	if err != nil {
		log.Fatalf(ctx, err, "build alert stream client")
	}
	feed, err := alertstream.NewSubscriber(alertstream.SubscriberOptions{Client: streams})
	if err != nil {
		log.Fatalf(ctx, err, "build alert subscriber")
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

	tc, err := dialTemporal(ctx, cfg.Temporal)
	if err != nil {
		log.Fatalf(ctx, err, "connect temporal")
	}
	defer tc.Close()

	campaigns, err := campaign.NewService(tc, &campaign.ServiceOptions{
		TaskQueue:           cfg.Temporal.OutreachQueue,
		MaxConcurrentLeads:  cfg.Outreach.MaxConcurrentLeads,
		LeadProcessingDelay: cfg.Outreach.LeadProcessingDelay,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build campaign service")
	}
	monitors, err := monitor.NewService(tc, st, &monitor.ServiceOptions{
		TaskQueue:     cfg.Temporal.MonitorQueue,
		LeadPeriod:    cfg.Monitoring.LeadInterval,
		CompanyPeriod: cfg.Monitoring.CompanyInterval,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build monitor service")
	}

	api, err := httpapi.New(httpapi.Options{
		Campaigns:      campaigns,
		Monitors:       monitors,
		Store:          st,
		Workflows:      defs,
		Alerts:         feed,
		Pingers:        []health.Pinger{st, redisPinger{rdb}},
		AuthToken:      cfg.HTTP.AuthToken,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Debug:          *dbgF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build http api")
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleHTTPServer(ctx, cfg.HTTP.Addr, api.Handler(ctx), &wg, errc)

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	log.Printf(ctx, "exited")
}

// dialTemporal builds the Temporal client used to start and signal
// workflows. Traces and SDK metrics flow through the global OTEL providers,
// which are no-ops unless the operator configures them.
func dialTemporal(ctx context.Context, cfg config.TemporalConfig) (client.Client, error) {
	opts := client.Options{
		HostPort:       cfg.HostPort,
		Namespace:      cfg.Namespace,
		Logger:         telemetry.NewTemporalLogger(ctx),
		MetricsHandler: temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{}),
	}
	if !cfg.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("configure tracing interceptor: %w", err)
		}
		opts.Interceptors = append(opts.Interceptors, tracer)
	}
	tc, err := client.NewLazyClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return tc, nil
}

// redisPinger exposes the Redis connection on the health endpoint.
type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
