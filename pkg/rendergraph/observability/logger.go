// Package observability provides structured logging, metrics, and tracing
// for batch execution.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// The Log helpers accept a nil logger and do nothing with it.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger adds batch context to a logger.
// Returns a new logger with batch_id, task_id, and phase fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "batch-1", "render-2", "render")
//	enriched.Info("submitting") // includes batch_id, task_id, phase
func EnrichLogger(logger *slog.Logger, batchID, taskID, phase string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("batch_id", batchID),
		slog.String("task_id", taskID),
		slog.String("phase", phase),
	)
}

// LogBatchStart logs the start of a batch run.
func LogBatchStart(logger *slog.Logger, batchID string, computeTasks, renderTasks int) {
	if logger == nil {
		return
	}
	logger.Info("batch starting",
		slog.String("batch_id", batchID),
		slog.Int("compute_tasks", computeTasks),
		slog.Int("render_tasks", renderTasks),
	)
}

// LogBatchComplete logs the end of a batch run.
func LogBatchComplete(logger *slog.Logger, batchID, status string, durationMs float64, succeeded, failed int) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if failed > 0 {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "batch completed",
		slog.String("batch_id", batchID),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
	)
}

// LogPhaseStart logs the start of a phase.
func LogPhaseStart(logger *slog.Logger, phase string, tasks int) {
	if logger == nil {
		return
	}
	logger.Info("phase starting",
		slog.String("phase", phase),
		slog.Int("tasks", tasks),
	)
}

// LogPhaseComplete logs the end of a phase.
func LogPhaseComplete(logger *slog.Logger, phase string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("phase completed",
		slog.String("phase", phase),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPhaseAborted logs a phase that could not run its remaining tasks.
func LogPhaseAborted(logger *slog.Logger, phase string, untried int, err error) {
	if logger == nil {
		return
	}
	logger.Error("phase aborted",
		slog.String("phase", phase),
		slog.Int("untried_tasks", untried),
		slog.String("error", err.Error()),
	)
}

// LogTaskStart logs task execution start.
func LogTaskStart(logger *slog.Logger, taskID, phase string) {
	if logger == nil {
		return
	}
	logger.Debug("task starting",
		slog.String("task_id", taskID),
		slog.String("phase", phase),
	)
}

// LogTaskComplete logs successful task completion.
func LogTaskComplete(logger *slog.Logger, taskID, phase string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("task completed",
		slog.String("task_id", taskID),
		slog.String("phase", phase),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogTaskError logs task failure. Best-effort failures log at warn.
func LogTaskError(logger *slog.Logger, taskID, phase string, err error, bestEffort bool) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("task_id", taskID),
		slog.String("phase", phase),
		slog.String("error", err.Error()),
	}
	if bestEffort {
		logger.Warn("best-effort task failed", attrs...)
		return
	}
	logger.Error("task failed", attrs...)
}

// LogTaskCancelled logs a task that ended because the batch was cancelled.
func LogTaskCancelled(logger *slog.Logger, taskID, phase string) {
	if logger == nil {
		return
	}
	logger.Info("task cancelled",
		slog.String("task_id", taskID),
		slog.String("phase", phase),
	)
}

// LogWorkerState logs a worker process state transition.
func LogWorkerState(logger *slog.Logger, from, to string, pid int) {
	if logger == nil {
		return
	}
	logger.Info("worker state changed",
		slog.String("from", from),
		slog.String("state", to),
		slog.Int("pid", pid),
	)
}

// LogLedgerError logs a failed ledger write (non-fatal).
func LogLedgerError(logger *slog.Logger, taskID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("ledger write failed",
		slog.String("task_id", taskID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
