// Package ledger records task outcomes per batch so results can be inspected
// after a run, including from another process.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Store persists task outcome records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a record. Overwrites an existing (BatchID, TaskID) record
	// and moves it to the end of the batch order.
	Save(ctx context.Context, rec Record) error

	// Load retrieves one record.
	// Returns ErrNotFound if it doesn't exist.
	Load(ctx context.Context, batchID, taskID string) (Record, error)

	// List returns a batch's records in save order.
	// Returns an empty slice (not error) for an unknown batch.
	List(ctx context.Context, batchID string) ([]Record, error)

	// Batches summarizes every stored batch, most recent first.
	Batches(ctx context.Context) ([]BatchInfo, error)

	// DeleteBatch removes every record of a batch.
	DeleteBatch(ctx context.Context, batchID string) error

	Close() error
}

// Record is the terminal outcome of one task.
type Record struct {
	BatchID    string    `json:"batch_id"`
	TaskID     string    `json:"task_id"`
	Phase      string    `json:"phase"`
	Outcome    string    `json:"outcome"`
	Output     string    `json:"output,omitempty"`
	PromptID   string    `json:"prompt_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	BestEffort bool      `json:"best_effort,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Sequence is assigned by the store.
	Sequence int `json:"sequence"`
}

// Duration is the task's wall time.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// BatchInfo summarizes a stored batch.
type BatchInfo struct {
	BatchID   string
	Tasks     int
	Failed    int
	UpdatedAt time.Time
}

// Sentinel errors for ledger operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("ledger record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("ledger store closed")

	// ErrInvalidRecord indicates a record without batch or task id.
	ErrInvalidRecord = errors.New("ledger record requires batch and task id")
)

// Outcome strings counted as failures by BatchInfo.Failed.
const (
	OutcomeFailed = "failed"
)

func validate(rec Record) error {
	if rec.BatchID == "" || rec.TaskID == "" {
		return ErrInvalidRecord
	}
	return nil
}
