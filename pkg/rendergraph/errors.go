package rendergraph

import (
	"errors"
	"fmt"
)

// Sentinel errors for batch validation.
var (
	// ErrInvalidBatch indicates a batch that cannot be run as given.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrNoTemplate indicates Render tasks without a workflow template.
	ErrNoTemplate = errors.New("no workflow template configured")
)

// Sentinel errors for task execution.
var (
	// ErrTaskFailed matches every *TaskError.
	ErrTaskFailed = errors.New("task failed")

	// ErrPhaseAborted indicates a Render task that never ran or never
	// finished because the worker could not be launched, never became ready
	// or died.
	ErrPhaseAborted = errors.New("render phase aborted")

	// ErrWorkerLost indicates the worker process failed while Render tasks
	// were pending.
	ErrWorkerLost = errors.New("worker process failed")

	// ErrUpstreamFailed indicates a Render task whose prompt source failed.
	ErrUpstreamFailed = errors.New("prompt source task failed")

	// ErrNoPromptItem indicates a prompt index beyond the source's items.
	ErrNoPromptItem = errors.New("prompt source has no such item")

	// ErrCancelled is the cause recorded by Cancel.
	ErrCancelled = errors.New("batch cancelled")
)

// TaskError is the failure of one task.
type TaskError struct {
	TaskID string
	Phase  Phase
	Err    error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task %s: %v", e.Phase, e.TaskID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTaskFailed.
func (e *TaskError) Is(target error) bool {
	return target == ErrTaskFailed
}

// BatchError lists everything wrong with a batch definition.
type BatchError struct {
	BatchID string
	Errs    []error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %s: %v", e.BatchID, errors.Join(e.Errs...))
}

// Unwrap exposes the individual problems.
func (e *BatchError) Unwrap() []error {
	return e.Errs
}

// Is reports whether target is ErrInvalidBatch.
func (e *BatchError) Is(target error) bool {
	return target == ErrInvalidBatch
}
