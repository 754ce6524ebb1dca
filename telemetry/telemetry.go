// Package telemetry bridges the process-wide observability stack into the
// pieces that need it: a goa.design/clue logger exposed through Temporal's
// log.Logger interface so workflow, activity and worker logs share one sink,
// and OTEL instruments for the platform's domain counters.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.temporal.io/sdk/log"
	"goa.design/clue/log"
)

type (
	// TemporalLogger adapts clue logging to go.temporal.io/sdk/log.Logger. The
	// wrapped context carries the clue sink configuration (format, debug mode)
	// and must come from log.Context.
	TemporalLogger struct {
		ctx context.Context
	}

	// Metrics holds the OTEL instruments recorded across the platform. A nil
	// *Metrics is valid and records nothing, which keeps workflow-adjacent code
	// free of nil checks.
	Metrics struct {
		stepsExecuted   metric.Int64Counter
		alertsEmitted   metric.Int64Counter
		quotaHits       metric.Int64Counter
		monitorCycles   metric.Int64Counter
		providerLatency metric.Float64Histogram
	}
)

var _ sdklog.Logger = (*TemporalLogger)(nil)

// NewTemporalLogger wraps the clue-configured context in a Temporal logger.
func NewTemporalLogger(ctx context.Context) *TemporalLogger {
	return &TemporalLogger{ctx: ctx}
}

// Debug emits a debug-level entry. Clue suppresses it unless debug logging was
// enabled on the wrapped context.
func (l *TemporalLogger) Debug(msg string, keyvals ...any) {
	log.Debug(l.ctx, fielders(msg, keyvals)...)
}

// Info emits an info-level entry.
func (l *TemporalLogger) Info(msg string, keyvals ...any) {
	log.Info(l.ctx, fielders(msg, keyvals)...)
}

// Warn emits a warning-level entry.
func (l *TemporalLogger) Warn(msg string, keyvals ...any) {
	fs := append(fielders(msg, keyvals), log.KV{K: "severity", V: "warning"})
	log.Warn(l.ctx, fs...)
}

// Error emits an error-level entry.
func (l *TemporalLogger) Error(msg string, keyvals ...any) {
	log.Error(l.ctx, nil, fielders(msg, keyvals)...)
}

// fielders converts Temporal's variadic key-value pairs into clue fielders,
// prefixed with the message itself. Non-string keys are skipped; an odd
// trailing key is paired with nil.
func fielders(msg string, keyvals []any) []log.Fielder {
	fs := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fs = append(fs, log.KV{K: k, V: v})
	}
	return fs
}

// NewMetrics builds the platform instruments from the global OTEL meter
// provider. Configure the provider before worker start; with none configured
// the instruments are no-ops.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/reachforge/outreach")

	steps, err := meter.Int64Counter("outreach_steps_executed_total",
		metric.WithDescription("Campaign workflow steps executed"))
	if err != nil {
		return nil, err
	}
	alerts, err := meter.Int64Counter("monitor_alerts_emitted_total",
		metric.WithDescription("Monitoring alerts written"))
	if err != nil {
		return nil, err
	}
	quota, err := meter.Int64Counter("provider_quota_hits_total",
		metric.WithDescription("Provider quota rejections observed"))
	if err != nil {
		return nil, err
	}
	cycles, err := meter.Int64Counter("monitor_cycles_total",
		metric.WithDescription("Monitoring loop iterations completed"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("provider_call_seconds",
		metric.WithDescription("Provider call latency in seconds"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		stepsExecuted:   steps,
		alertsEmitted:   alerts,
		quotaHits:       quota,
		monitorCycles:   cycles,
		providerLatency: latency,
	}, nil
}

// StepExecuted records one executed campaign step of the given action type.
func (m *Metrics) StepExecuted(ctx context.Context, actionType string, success bool) {
	if m == nil {
		return
	}
	m.stepsExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", actionType),
		attribute.Bool("success", success),
	))
}

// AlertEmitted records one written alert at the given priority.
func (m *Metrics) AlertEmitted(ctx context.Context, priority string) {
	if m == nil {
		return
	}
	m.alertsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("priority", priority)))
}

// QuotaHit records a provider quota rejection for the given scope (daily,
// weekly or provider-reported).
func (m *Metrics) QuotaHit(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.quotaHits.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// MonitorCycle records one completed monitoring iteration for the entity kind.
func (m *Metrics) MonitorCycle(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.monitorCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// ProviderCall records the latency of one provider operation.
func (m *Metrics) ProviderCall(ctx context.Context, op string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("op", op)))
}
