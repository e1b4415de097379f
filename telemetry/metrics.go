package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/mediadb"
)

var durationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal           metric.Int64Counter
	responseBytesTotal      metric.Int64Counter
	requestDuration         metric.Float64Histogram
	requestsByEndpointTotal metric.Int64Counter

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	entryOpsTotal metric.Int64Counter
	entries       metric.Int64Gauge

	queryDuration     metric.Float64Histogram
	queryResultsTotal metric.Int64Counter

	persistDuration     metric.Float64Histogram
	persistBytesTotal   metric.Int64Counter
	persistEntriesTotal metric.Int64Counter
	autosaveCyclesTotal metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mediadb"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m
	return nil
}

// instruments collects the first error so instrument creation reads as a list.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, desc, unit string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if in.err == nil {
		in.err = err
	}
	return c
}

func (in *instruments) histogram(name, desc, unit string, buckets ...float64) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if in.err == nil {
		in.err = err
	}
	return h
}

func (in *instruments) gauge(name, desc, unit string) metric.Int64Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if in.err == nil {
		in.err = err
	}
	return g
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	in := &instruments{meter: meter}
	m := &Metrics{
		requestsTotal:           in.counter("mediadb_http_requests_total", "Total number of HTTP requests", "{request}"),
		responseBytesTotal:      in.counter("mediadb_http_response_bytes_total", "Total bytes sent in HTTP responses", "By"),
		requestDuration:         in.histogram("mediadb_http_request_duration_seconds", "HTTP request duration in seconds", "s", durationBuckets...),
		requestsByEndpointTotal: in.counter("mediadb_http_requests_by_endpoint_total", "Total number of HTTP requests by endpoint (detail metric)", "{request}"),

		backendRequestDuration: in.histogram("mediadb_backend_request_duration_seconds", "Duration of storage backend operations", "s", durationBuckets...),
		backendRequestsTotal:   in.counter("mediadb_backend_requests_total", "Total storage backend operations", "{operation}"),
		backendBytesTotal:      in.counter("mediadb_backend_bytes_total", "Total bytes moved through the storage backend", "By"),

		entryOpsTotal: in.counter("mediadb_entry_operations_total", "Entry creates, updates and deletes", "{operation}"),
		entries:       in.gauge("mediadb_entries", "Number of entries in the store by type", "{entry}"),

		queryDuration:     in.histogram("mediadb_query_duration_seconds", "Duration of bulk query runs", "s", durationBuckets...),
		queryResultsTotal: in.counter("mediadb_query_results_total", "Entries delivered by bulk queries", "{entry}"),

		persistDuration:     in.histogram("mediadb_persist_duration_seconds", "Duration of library loads and saves", "s", durationBuckets...),
		persistBytesTotal:   in.counter("mediadb_persist_bytes_total", "Bytes read by loads and written by saves", "By"),
		persistEntriesTotal: in.counter("mediadb_persist_entries_total", "Entries read by loads and written by saves", "{entry}"),
		autosaveCyclesTotal: in.counter("mediadb_autosave_cycles_total", "Autosave cycles by result", "{cycle}"),
	}
	if in.err != nil {
		return nil, in.err
	}
	return m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	entryType := "none"
	endpoint := ""
	if tags := GetTags(r); tags != nil {
		if tags.EntryType != "" {
			entryType = tags.EntryType
		}
		endpoint = tags.Endpoint
	}

	// Shared metrics: low cardinality {method, status_class, entry_type}
	sharedAttrs := []attribute.KeyValue{
		attribute.String("method", r.Method),
		attribute.String("status_class", StatusClass(status)),
		attribute.String("entry_type", entryType),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(sharedAttrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(sharedAttrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(sharedAttrs...))

	// Detail metric: only when endpoint is set
	if endpoint != "" {
		detailAttrs := make([]attribute.KeyValue, 0, len(sharedAttrs)+1)
		detailAttrs = append(detailAttrs, sharedAttrs...)
		detailAttrs = append(detailAttrs, attribute.String("endpoint", endpoint))
		globalMetrics.requestsByEndpointTotal.Add(ctx, 1, metric.WithAttributes(detailAttrs...))
	}
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordEntryOp counts n entry operations. op is "create", "update",
// "delete" or "merge".
func RecordEntryOp(ctx context.Context, entryType, op string, n int) {
	if globalMetrics == nil || n == 0 {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entry_type", entryType),
		attribute.String("op", op),
	)
	globalMetrics.entryOpsTotal.Add(ctx, int64(n), attrs)
}

// RecordEntryCount records the current number of entries of a type.
func RecordEntryCount(ctx context.Context, entryType string, n int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.entries.Record(ctx, int64(n), metric.WithAttributes(attribute.String("entry_type", entryType)))
}

// RecordQuery records one bulk query run. outcome is "complete",
// "cancelled" or "invalid".
func RecordQuery(ctx context.Context, outcome string, subprograms, results int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	shape := "conjunctive"
	if subprograms > 1 {
		shape = "disjunctive"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("shape", shape),
	)
	globalMetrics.queryDuration.Record(ctx, duration.Seconds(), attrs)
	if results > 0 {
		globalMetrics.queryResultsTotal.Add(ctx, int64(results), attrs)
	}
}

// RecordPersist records a library load or save. op is "load" or "save".
func RecordPersist(ctx context.Context, op, outcome string, entries int, bytes int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
		attribute.String("source", SourceFromContext(ctx)),
	)
	globalMetrics.persistDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		globalMetrics.persistBytesTotal.Add(ctx, bytes, attrs)
	}
	if entries > 0 {
		globalMetrics.persistEntriesTotal.Add(ctx, int64(entries), attrs)
	}
}

// RecordAutosaveCycle records one autosave tick. result is "saved",
// "clean" or "error".
func RecordAutosaveCycle(ctx context.Context, result string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.autosaveCyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
