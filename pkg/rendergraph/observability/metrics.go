package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records batch execution metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTask records one task attempt with its outcome and duration.
	RecordTask(ctx context.Context, phase, outcome string, duration time.Duration, err error)

	// RecordPhase records the wall time of a phase.
	RecordPhase(ctx context.Context, phase string, duration time.Duration)

	// RecordBatch records a batch completion.
	RecordBatch(ctx context.Context, status string, duration time.Duration)

	// RecordWorkerLaunch records an attempt to bring the image worker up.
	RecordWorkerLaunch(ctx context.Context, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	taskExecutions metric.Int64Counter
	taskErrors     metric.Int64Counter
	taskLatency    metric.Float64Histogram
	phaseLatency   metric.Float64Histogram
	batchRuns      metric.Int64Counter
	batchLatency   metric.Float64Histogram
	workerLaunches metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("rendergraph")

	taskExecutions, err := meter.Int64Counter("rendergraph.task.executions",
		metric.WithDescription("Number of task executions"),
	)
	if err != nil {
		return nil, err
	}

	taskErrors, err := meter.Int64Counter("rendergraph.task.errors",
		metric.WithDescription("Number of failed task executions"),
	)
	if err != nil {
		return nil, err
	}

	taskLatency, err := meter.Float64Histogram("rendergraph.task.latency_ms",
		metric.WithDescription("Task execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	phaseLatency, err := meter.Float64Histogram("rendergraph.phase.latency_ms",
		metric.WithDescription("Phase wall time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	batchRuns, err := meter.Int64Counter("rendergraph.batch.runs",
		metric.WithDescription("Number of batch runs"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("rendergraph.batch.latency_ms",
		metric.WithDescription("Batch run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	workerLaunches, err := meter.Int64Counter("rendergraph.worker.launches",
		metric.WithDescription("Number of image worker launch attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		taskExecutions: taskExecutions,
		taskErrors:     taskErrors,
		taskLatency:    taskLatency,
		phaseLatency:   phaseLatency,
		batchRuns:      batchRuns,
		batchLatency:   batchLatency,
		workerLaunches: workerLaunches,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTask records a task execution.
func (m *otelMetrics) RecordTask(ctx context.Context, phase, outcome string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	)

	m.taskExecutions.Add(ctx, 1, attrs)
	m.taskLatency.Record(ctx, float64(duration.Milliseconds()), attrs)

	if err != nil {
		m.taskErrors.Add(ctx, 1, attrs)
	}
}

// RecordPhase records a phase duration.
func (m *otelMetrics) RecordPhase(ctx context.Context, phase string, duration time.Duration) {
	m.phaseLatency.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordBatch records a batch run.
func (m *otelMetrics) RecordBatch(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.batchRuns.Add(ctx, 1, attrs)
	m.batchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordWorkerLaunch records a worker launch attempt.
func (m *otelMetrics) RecordWorkerLaunch(ctx context.Context, err error) {
	m.workerLaunches.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
}
