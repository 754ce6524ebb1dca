package main

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"

	"github.com/reachforge/outreach/config"
	"github.com/reachforge/outreach/telemetry"
)

// dialTemporal builds the Temporal client and the worker options shared by
// both task queues. Traces and SDK metrics flow through the global OTEL
// providers, which are no-ops unless the operator configures them.
func dialTemporal(ctx context.Context, cfg config.TemporalConfig) (client.Client, worker.Options, error) {
	clientOpts := client.Options{
		HostPort:       cfg.HostPort,
		Namespace:      cfg.Namespace,
		Logger:         telemetry.NewTemporalLogger(ctx),
		MetricsHandler: temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{}),
	}
	var workerOpts worker.Options
	if !cfg.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, worker.Options{}, fmt.Errorf("configure tracing interceptor: %w", err)
		}
		clientOpts.Interceptors = append(clientOpts.Interceptors, tracer)
		workerOpts.Interceptors = append(workerOpts.Interceptors, tracer)
	}
	tc, err := client.NewLazyClient(clientOpts)
	if err != nil {
		return nil, worker.Options{}, fmt.Errorf("create client: %w", err)
	}
	return tc, workerOpts, nil
}
