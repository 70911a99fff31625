package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/podkeeper/episode_downloader/internal/constraint"
	"github.com/podkeeper/episode_downloader/internal/scheduler"
)

// Telemetry holds the OpenTelemetry providers and the subsystem's metric
// instruments. The zero value (telemetry disabled) is safe to use: every
// record method is a no-op.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the REST surface.
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Download metrics, fed by reconciliation passes.
	downloadsTotal   metric.Int64Counter
	downloadsPending metric.Int64Gauge
	downloadsActive  metric.Int64Gauge
	constraintState  metric.Int64Gauge

	// seen tracks which work record ids already counted toward
	// downloads_total, so repeated reconciliation passes over the same
	// terminal record do not double-count.
	mu   sync.Mutex
	seen map[string]struct{}
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a telemetry instance backed by a Prometheus exporter, and
// starts Go runtime metric collection.
func New(_ context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
		seen:          map[string]struct{}{},
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordHTTPRequest records one completed REST request.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// ObserveReconcile updates the download gauges and counters from one
// reconciliation pass over the work records.
func (t *Telemetry) ObserveReconcile(ctx context.Context, records []scheduler.Record, snap constraint.Snapshot) {
	if t.meter == nil {
		return
	}

	var pending, active int64

	for _, rec := range records {
		switch {
		case rec.State == scheduler.StateRunning && rec.Executing:
			active++
		case !rec.State.IsTerminal():
			pending++
		default:
			t.countTerminal(ctx, rec)
		}
	}

	if t.downloadsPending != nil {
		t.downloadsPending.Record(ctx, pending)
	}

	if t.downloadsActive != nil {
		t.downloadsActive.Record(ctx, active)
	}

	if t.constraintState != nil {
		t.constraintState.Record(ctx, boolToGauge(snap.NetworkAvailable),
			metric.WithAttributes(attribute.String("constraint", "network")))
		t.constraintState.Record(ctx, boolToGauge(snap.UnmeteredAvailable),
			metric.WithAttributes(attribute.String("constraint", "unmetered")))
		t.constraintState.Record(ctx, boolToGauge(snap.PowerAvailable),
			metric.WithAttributes(attribute.String("constraint", "power")))
		t.constraintState.Record(ctx, boolToGauge(snap.StorageAvailable),
			metric.WithAttributes(attribute.String("constraint", "storage")))
	}
}

func (t *Telemetry) countTerminal(ctx context.Context, rec scheduler.Record) {
	if t.downloadsTotal == nil {
		return
	}

	t.mu.Lock()

	if _, ok := t.seen[rec.ID]; ok {
		t.mu.Unlock()

		return
	}

	t.seen[rec.ID] = struct{}{}
	t.mu.Unlock()

	t.downloadsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", rec.State.String())),
	)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	t.downloadsTotal, err = t.meter.Int64Counter(
		"episode_downloads_total",
		metric.WithDescription("Total number of finished episode downloads by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create episode_downloads_total counter: %w", err)
	}

	t.downloadsPending, err = t.meter.Int64Gauge(
		"episode_downloads_pending",
		metric.WithDescription("Number of episode downloads waiting on a worker or a constraint"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create episode_downloads_pending gauge: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64Gauge(
		"episode_downloads_active",
		metric.WithDescription("Number of episode downloads currently transferring"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create episode_downloads_active gauge: %w", err)
	}

	t.constraintState, err = t.meter.Int64Gauge(
		"download_constraint_available",
		metric.WithDescription("Whether each download constraint is currently satisfied"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_constraint_available gauge: %w", err)
	}

	return nil
}

func boolToGauge(v bool) int64 {
	if v {
		return 1
	}

	return 0
}
