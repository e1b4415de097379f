package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics installs global metrics backed by a ManualReader.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := newMetrics(mp.Meter(meterName))
	require.NoError(t, err)
	m.meterProvider = mp
	globalMetrics = m

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

// collectMetrics reads all metrics from the ManualReader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findCounter finds a counter metric by name and returns its data points.
func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

// findGauge finds a gauge metric by name and returns its data points.
func findGauge(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if g, ok := m.Data.(metricdata.Gauge[int64]); ok {
					return g.DataPoints
				}
			}
		}
	}
	return nil
}

// findHistogram finds a histogram metric by name and returns its data points.
func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

// hasAttr checks if a data point's attribute set contains the given key-value pair.
func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordHTTP_SharedMetrics(t *testing.T) {
	reader := setupTestMetrics(t)

	r := httptest.NewRequest(http.MethodGet, "/api/entries?type=song", nil)
	r = InjectTags(r)
	SetEntryType(r, "song")

	RecordHTTP(context.Background(), r, http.StatusOK, 2048, 20*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "mediadb_http_requests_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "method", "GET"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "2xx"))
	require.True(t, hasAttr(dps[0].Attributes, "entry_type", "song"))

	bytesDps := findCounter(rm, "mediadb_http_response_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, 2048, bytesDps[0].Value)

	histDps := findHistogram(rm, "mediadb_http_request_duration_seconds")
	require.Len(t, histDps, 1)
	require.EqualValues(t, 1, histDps[0].Count)

	require.Empty(t, findCounter(rm, "mediadb_http_requests_by_endpoint_total"))
}

func TestRecordHTTP_DetailMetricWithEndpoint(t *testing.T) {
	reader := setupTestMetrics(t)

	r := InjectTags(httptest.NewRequest(http.MethodPost, "/api/save", nil))
	SetEndpoint(r, "save")

	RecordHTTP(context.Background(), r, http.StatusInternalServerError, 0, time.Millisecond)

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "mediadb_http_requests_by_endpoint_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "endpoint", "save"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "5xx"))
	require.True(t, hasAttr(dps[0].Attributes, "entry_type", "none"))
}

func TestRecordHTTP_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	RecordHTTP(context.Background(), r, http.StatusOK, 0, time.Millisecond)
	RecordEntryOp(context.Background(), "song", "create", 1)
	RecordQuery(context.Background(), "complete", 1, 1, time.Millisecond)
	RecordPersist(context.Background(), "save", "success", 1, 1, time.Millisecond)
	RecordAutosaveCycle(context.Background(), "clean")
}

func TestRecordBackendOp(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordBackendOp(context.Background(), "filesystem", "write", "success", time.Millisecond, 512)
	RecordBackendOp(context.Background(), "filesystem", "stat", "not_found", time.Millisecond, 0)

	rm := collectMetrics(t, reader)
	require.Len(t, findCounter(rm, "mediadb_backend_requests_total"), 2)
	bytesDps := findCounter(rm, "mediadb_backend_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, 512, bytesDps[0].Value)
}

func TestRecordStoreMetrics(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordEntryOp(ctx, "song", "create", 3)
	RecordEntryOp(ctx, "song", "delete", 0)
	RecordEntryCount(ctx, "song", 3)
	RecordQuery(ctx, "complete", 2, 7, 5*time.Millisecond)
	RecordPersist(WithSource(ctx, "autosave"), "save", "success", 3, 900, 10*time.Millisecond)
	RecordAutosaveCycle(ctx, "saved")

	rm := collectMetrics(t, reader)

	ops := findCounter(rm, "mediadb_entry_operations_total")
	require.Len(t, ops, 1, "zero counts are not recorded")
	require.EqualValues(t, 3, ops[0].Value)
	require.True(t, hasAttr(ops[0].Attributes, "op", "create"))

	gauge := findGauge(rm, "mediadb_entries")
	require.Len(t, gauge, 1)
	require.EqualValues(t, 3, gauge[0].Value)

	results := findCounter(rm, "mediadb_query_results_total")
	require.Len(t, results, 1)
	require.EqualValues(t, 7, results[0].Value)
	require.True(t, hasAttr(results[0].Attributes, "shape", "disjunctive"))

	persisted := findCounter(rm, "mediadb_persist_bytes_total")
	require.Len(t, persisted, 1)
	require.True(t, hasAttr(persisted[0].Attributes, "source", "autosave"))

	cycles := findCounter(rm, "mediadb_autosave_cycles_total")
	require.Len(t, cycles, 1)
	require.True(t, hasAttr(cycles[0].Attributes, "result", "saved"))
}

func TestPrometheusHandler_NotFoundWhenDisabled(t *testing.T) {
	globalMetrics = nil
	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusClass(tt.status))
	}
}
