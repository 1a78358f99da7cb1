package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/disk"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry
	storageDir     string

	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	diskUsage metric.Int64Gauge

	jobsSubmittedTotal  metric.Int64Counter
	jobsFinishedTotal   metric.Int64Counter
	jobsActive          metric.Int64UpDownCounter
	jobDuration         metric.Float64Histogram
	transfersActive     metric.Int64UpDownCounter
	transferBytesTotal  metric.Int64Counter
	transferDuration    metric.Float64Histogram
	artifactMirrors     metric.Int64Counter
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, additionally pushes metrics over OTLP/gRPC.
	OTLPEndpoint string
	// StorageDir is the volume reported by disk_usage_bytes.
	StorageDir string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName)}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		registry:       registry,
		storageDir:     cfg.StorageDir,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", route),
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
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordJobSubmitted counts an accepted job.
func (t *Telemetry) RecordJobSubmitted(repository string) {
	if t != nil && t.jobsSubmittedTotal != nil {
		t.jobsSubmittedTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("repository", repository)),
		)
	}
}

// RecordJobFinished counts a job reaching a terminal state.
func (t *Telemetry) RecordJobFinished(repository, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("status", status),
	)

	if t.jobsFinishedTotal != nil {
		t.jobsFinishedTotal.Add(context.Background(), 1, attrs)
	}

	if t.jobDuration != nil {
		t.jobDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordTransferBytes adds n bytes received from an upstream repository.
func (t *Telemetry) RecordTransferBytes(n int64) {
	if t != nil && t.transferBytesTotal != nil && n > 0 {
		t.transferBytesTotal.Add(context.Background(), n)
	}
}

// RecordArtifactMirror counts an attempt to copy an artifact to the mirror bucket.
func (t *Telemetry) RecordArtifactMirror(status string) {
	if t != nil && t.artifactMirrors != nil {
		t.artifactMirrors.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return multierr.Combine(
		t.meterProvider.Shutdown(ctx),
		t.tracerProvider.Shutdown(ctx),
	)
}

// instruments creates metric instruments and keeps the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.keep(name, err)

	return c
}

func (b *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit("1"))
	b.keep(name, err)

	return c
}

func (b *instruments) seconds(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	b.keep(name, err)

	return h
}

func (b *instruments) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
}

func (t *Telemetry) initializeMetrics() error {
	b := &instruments{meter: t.meter}

	// HTTP facade
	t.httpRequestsTotal = b.counter("http_requests_total", "Total number of HTTP requests", "1")
	t.httpRequestDuration = b.seconds("http_request_duration_seconds", "HTTP request duration in seconds")
	t.httpRequestsInFlight = b.upDown("http_requests_in_flight", "Number of HTTP requests currently being processed")

	// Jobs and transfers
	t.jobsSubmittedTotal = b.counter("jobs_submitted_total", "Total number of accepted download jobs", "1")
	t.jobsFinishedTotal = b.counter("jobs_finished_total", "Total number of download jobs that reached a terminal state", "1")
	t.jobsActive = b.upDown("jobs_active", "Number of download jobs being processed")
	t.jobDuration = b.seconds("job_duration_seconds", "Time from pickup to terminal state in seconds")
	t.transfersActive = b.upDown("transfers_active", "Number of active upstream transfers")
	t.transferBytesTotal = b.counter("transfer_bytes_total", "Total bytes received from upstream repositories", "bytes")
	t.transferDuration = b.seconds("transfer_duration_seconds", "Upstream transfer duration in seconds")
	t.artifactMirrors = b.counter("artifact_mirrors_total", "Total number of artifact mirror uploads", "1")

	// Job store
	t.dbOperationsTotal = b.counter("db_operations_total", "Total number of database operations", "1")
	t.dbOperationDuration = b.seconds("db_operation_duration_seconds", "Database operation duration in seconds")

	// Process health
	t.systemErrors = b.counter("system_errors_total", "Total number of system errors", "1")

	if b.err != nil {
		return b.err
	}

	var err error

	t.diskUsage, err = t.meter.Int64Gauge("disk_usage_bytes",
		metric.WithDescription("Bytes used on the artifact storage volume"), metric.WithUnit("bytes"))
	if err != nil {
		return fmt.Errorf("failed to create disk_usage_bytes: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge("system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"), metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("failed to create system_uptime_seconds: %w", err)
	}

	return nil
}

// collectSystemMetrics collects system-level metrics periodically.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(ctx, startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(ctx context.Context, startTime time.Time) {
	if t.systemUptime != nil {
		t.systemUptime.Record(ctx, time.Since(startTime).Seconds())
	}

	if t.diskUsage != nil && t.storageDir != "" {
		usage, err := disk.UsageWithContext(ctx, t.storageDir)
		if err != nil {
			t.RecordSystemError("telemetry", "disk_usage")

			return
		}

		t.diskUsage.Record(ctx, int64(usage.Used))
	}
}
