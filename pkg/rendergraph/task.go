package rendergraph

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/chain"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/prompt"
)

// Phase is one of the two execution windows of a batch.
type Phase string

// Batch phases. Compute tasks never need the worker; Render tasks do.
const (
	PhaseCompute Phase = "compute"
	PhaseRender  Phase = "render"
)

// Task is one unit of work in a batch.
type Task struct {
	// ID correlates the task across results, events and the ledger.
	ID    string
	Phase Phase
	// BestEffort tasks do not affect the batch status when they fail.
	BestEffort bool

	Compute *ComputeInput
	Render  *RenderInput
}

// ComputeInput describes a text generation task.
type ComputeInput struct {
	Prompt string
	System string
	// Count > 1 asks for that many numbered items, one per line.
	Count       int
	MaxTokens   int
	Temperature float64
}

// RenderInput describes an image job.
type RenderInput struct {
	// Prompt is the positive prompt. Empty keeps the template's prompt
	// unless PromptFrom is set. ${task} and ${task.N} placeholders are
	// replaced with the output, or item N, of an earlier Compute task.
	Prompt string
	// PromptFrom names a Compute task whose output becomes the prompt.
	PromptFrom string
	// PromptIndex selects one numbered item (1-based) of the PromptFrom
	// output. Zero uses the whole output.
	PromptIndex int

	Modifiers []chain.ModifierSpec

	// Seed is the sampler seed. Nil draws a random one.
	Seed           *int64
	FilenamePrefix string
	OutputDir      string
	Width          int
	Height         int
}

// Batch is one orchestration run.
type Batch struct {
	// ID defaults to a random UUID.
	ID    string
	Tasks []Task
	// KeepWorker leaves the worker running after the batch.
	KeepWorker bool
}

// validate checks ids, phases and prompt sources.
func (b Batch) validate() error {
	var errs []error
	seen := make(map[string]Phase, len(b.Tasks))

	for i, t := range b.Tasks {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("task %d: empty id", i))
			continue
		}
		if _, dup := seen[t.ID]; dup {
			errs = append(errs, fmt.Errorf("task %s: duplicate id", t.ID))
			continue
		}

		switch t.Phase {
		case PhaseCompute:
			if t.Compute == nil {
				errs = append(errs, fmt.Errorf("task %s: compute input missing", t.ID))
			}
		case PhaseRender:
			if t.Render == nil {
				errs = append(errs, fmt.Errorf("task %s: render input missing", t.ID))
				break
			}
			r := t.Render
			if r.PromptFrom != "" {
				if r.Prompt != "" {
					errs = append(errs, fmt.Errorf("task %s: prompt and prompt_from are exclusive", t.ID))
				}
				if seen[r.PromptFrom] != PhaseCompute {
					errs = append(errs, fmt.Errorf("task %s: prompt_from %q is not an earlier compute task", t.ID, r.PromptFrom))
				}
			}
			for _, ref := range prompt.References(r.Prompt) {
				if seen[ref.Source] != PhaseCompute {
					errs = append(errs, fmt.Errorf("task %s: prompt references %q, not an earlier compute task", t.ID, ref.Source))
				}
			}
			if r.PromptIndex < 0 {
				errs = append(errs, fmt.Errorf("task %s: negative prompt_index", t.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("task %s: unknown phase %q", t.ID, t.Phase))
		}
		seen[t.ID] = t.Phase
	}

	if len(errs) > 0 {
		return &BatchError{BatchID: b.ID, Errs: errs}
	}
	return nil
}

func (b Batch) hasRender() bool {
	for _, t := range b.Tasks {
		if t.Phase == PhaseRender {
			return true
		}
	}
	return false
}

// Outcome is the terminal state of a task.
type Outcome int

const (
	// OutcomePending is never returned from Run.
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeCancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// TaskResult is what a task produced.
type TaskResult struct {
	TaskID     string
	Phase      Phase
	BestEffort bool
	Outcome    Outcome
	// Err is a *TaskError when Outcome is OutcomeFailed.
	Err      error
	Attempts int

	// Compute output.
	Output string
	Items  []string

	// Render output.
	PromptID string
	Seed     int64
	Images   []string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the task's wall time.
func (r TaskResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status is the overall outcome of a batch.
type Status int

const (
	StatusSucceeded Status = iota
	StatusPartialFailure
	StatusFailed
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusPartialFailure:
		return "partial_failure"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	BatchID string
	Status  Status
	// Tasks holds one result per task in batch order.
	Tasks []TaskResult
	// Warnings are problems that do not change task outcomes, such as a
	// worker that could not be shut down.
	Warnings []error
	// WorkerStarted reports whether the Render phase launched or adopted a
	// worker.
	WorkerStarted bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// Task returns the result for id.
func (r *BatchResult) Task(id string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return TaskResult{}, false
}

// Counts returns the number of tasks per terminal outcome.
func (r *BatchResult) Counts() (succeeded, failed, cancelled int) {
	for _, t := range r.Tasks {
		switch t.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeCancelled:
			cancelled++
		}
	}
	return succeeded, failed, cancelled
}

// Err joins the errors of failed tasks, or returns nil.
func (r *BatchResult) Err() error {
	var errs []error
	for _, t := range r.Tasks {
		if t.Outcome == OutcomeFailed && t.Err != nil {
			errs = append(errs, t.Err)
		}
	}
	return errors.Join(errs...)
}

// status derives the batch status from task outcomes.
func status(tasks []TaskResult, cancelled bool) Status {
	if cancelled {
		return StatusCancelled
	}
	var succeeded, requiredFailed int
	for _, t := range tasks {
		switch {
		case t.Outcome == OutcomeSucceeded:
			succeeded++
		case t.Outcome == OutcomeFailed && !t.BestEffort:
			requiredFailed++
		}
	}
	switch {
	case requiredFailed == 0:
		return StatusSucceeded
	case succeeded > 0:
		return StatusPartialFailure
	default:
		return StatusFailed
	}
}
