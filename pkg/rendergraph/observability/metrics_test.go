package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value of the datapoint carrying key=value.
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordTask(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordTask(ctx, "compute", "succeeded", 50*time.Millisecond, nil)
	m.RecordTask(ctx, "render", "failed", 10*time.Millisecond, errors.New("rejected"))

	rm := collectMetrics(t, reader)

	executions := findMetric(rm, "rendergraph.task.executions")
	assert.Equal(t, int64(1), sumFor(t, executions, "phase", "compute"))
	assert.Equal(t, int64(1), sumFor(t, executions, "phase", "render"))

	errs := findMetric(rm, "rendergraph.task.errors")
	assert.Equal(t, int64(1), sumFor(t, errs, "outcome", "failed"))
	assert.Equal(t, int64(0), sumFor(t, errs, "outcome", "succeeded"))

	latency := findMetric(rm, "rendergraph.task.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "Expected Histogram type")
	assert.Len(t, hist.DataPoints, 2)
}

func TestRecordPhaseAndBatch(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordPhase(ctx, "compute", time.Second)
	m.RecordBatch(ctx, "completed", 2*time.Second)
	m.RecordBatch(ctx, "cancelled", time.Second)

	rm := collectMetrics(t, reader)

	phase := findMetric(rm, "rendergraph.phase.latency_ms")
	require.NotNil(t, phase)
	hist, ok := phase.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, 1000.0, hist.DataPoints[0].Sum)

	runs := findMetric(rm, "rendergraph.batch.runs")
	assert.Equal(t, int64(1), sumFor(t, runs, "status", "completed"))
	assert.Equal(t, int64(1), sumFor(t, runs, "status", "cancelled"))
	assert.NotNil(t, findMetric(rm, "rendergraph.batch.latency_ms"))
}

func TestRecordWorkerLaunch(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordWorkerLaunch(ctx, nil)
	m.RecordWorkerLaunch(ctx, nil)
	m.RecordWorkerLaunch(ctx, errors.New("port in use"))

	rm := collectMetrics(t, reader)
	launches := findMetric(rm, "rendergraph.worker.launches")
	assert.Equal(t, int64(2), sumFor(t, launches, "success", "true"))
	assert.Equal(t, int64(1), sumFor(t, launches, "success", "false"))
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordTask(ctx, "compute", "succeeded", time.Second, nil)
		m.RecordPhase(ctx, "compute", time.Second)
		m.RecordBatch(ctx, "completed", time.Second)
		m.RecordWorkerLaunch(ctx, errors.New("x"))
	})
}
