package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"agentex/internal/logging"
)

// MetricsCollector manages all metrics for the platform.
type MetricsCollector struct {
	meter metric.Meter

	// Event log metrics
	eventsAppended  metric.Int64Counter
	appendConflicts metric.Int64Counter
	appendLatency   metric.Float64Histogram

	// Tracker metrics
	cursorCommits     metric.Int64Counter
	cursorRegressions metric.Int64Counter

	// Auth metrics
	authnRequests metric.Int64Counter
	authzChecks   metric.Int64Counter

	// Streaming metrics
	streamsActive metric.Int64UpDownCounter

	// Server for Prometheus scraping
	prometheusServer *http.Server
	logger           logging.Logger
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector. With Enabled false
// the collector is inert and every record call is a no-op.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	logger = logging.OrNop(logger)
	if !config.Enabled {
		return &MetricsCollector{logger: logger}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("agentex")

	eventsAppended, err := meter.Int64Counter(
		"agentex.events.appended.total",
		metric.WithDescription("Total events appended to task logs"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_appended counter: %w", err)
	}

	appendConflicts, err := meter.Int64Counter(
		"agentex.events.append_conflicts.total",
		metric.WithDescription("Appends that lost the sequence race and were retried or rejected"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create append_conflicts counter: %w", err)
	}

	appendLatency, err := meter.Float64Histogram(
		"agentex.events.append.latency",
		metric.WithDescription("Event append latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create append_latency histogram: %w", err)
	}

	cursorCommits, err := meter.Int64Counter(
		"agentex.trackers.commits.total",
		metric.WithDescription("Total tracker cursor commits"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor_commits counter: %w", err)
	}

	cursorRegressions, err := meter.Int64Counter(
		"agentex.trackers.regressions.total",
		metric.WithDescription("Cursor commits rejected for moving backwards"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor_regressions counter: %w", err)
	}

	authnRequests, err := meter.Int64Counter(
		"agentex.authn.requests.total",
		metric.WithDescription("Total authentication attempts"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authn_requests counter: %w", err)
	}

	authzChecks, err := meter.Int64Counter(
		"agentex.authz.checks.total",
		metric.WithDescription("Total authorization checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz_checks counter: %w", err)
	}

	streamsActive, err := meter.Int64UpDownCounter(
		"agentex.streams.active",
		metric.WithDescription("Number of open event stream connections"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streams_active gauge: %w", err)
	}

	collector := &MetricsCollector{
		meter:             meter,
		eventsAppended:    eventsAppended,
		appendConflicts:   appendConflicts,
		appendLatency:     appendLatency,
		cursorCommits:     cursorCommits,
		cursorRegressions: cursorRegressions,
		authnRequests:     authnRequests,
		authzChecks:       authzChecks,
		streamsActive:     streamsActive,
		logger:            logger,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server.
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		m.logger.Info("prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordAppend records one event append attempt.
func (m *MetricsCollector) RecordAppend(ctx context.Context, status string, latency time.Duration) {
	if m.eventsAppended == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	if status == "ok" {
		m.eventsAppended.Add(ctx, 1, attrs)
	}
	m.appendLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordAppendConflict records a lost sequence race.
func (m *MetricsCollector) RecordAppendConflict(ctx context.Context) {
	if m.appendConflicts == nil {
		return
	}
	m.appendConflicts.Add(ctx, 1)
}

// RecordCursorCommit records a tracker commit and whether it was rejected
// as a regression.
func (m *MetricsCollector) RecordCursorCommit(ctx context.Context, regressed bool) {
	if m.cursorCommits == nil {
		return
	}
	m.cursorCommits.Add(ctx, 1, metric.WithAttributes(attribute.Bool("regressed", regressed)))
	if regressed {
		m.cursorRegressions.Add(ctx, 1)
	}
}

// RecordAuthn records one authentication attempt.
func (m *MetricsCollector) RecordAuthn(ctx context.Context, status string) {
	if m.authnRequests == nil {
		return
	}
	m.authnRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAuthzCheck records one authorization check.
func (m *MetricsCollector) RecordAuthzCheck(ctx context.Context, allowed bool) {
	if m.authzChecks == nil {
		return
	}
	m.authzChecks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
}

// IncrementActiveStreams increments the open stream gauge.
func (m *MetricsCollector) IncrementActiveStreams(ctx context.Context) {
	if m.streamsActive == nil {
		return
	}
	m.streamsActive.Add(ctx, 1)
}

// DecrementActiveStreams decrements the open stream gauge.
func (m *MetricsCollector) DecrementActiveStreams(ctx context.Context) {
	if m.streamsActive == nil {
		return
	}
	m.streamsActive.Add(ctx, -1)
}
