// Package event distributes batch lifecycle events to observers.
//
// The orchestrator publishes one event per batch, phase and task transition
// and one per worker state change. Subscribers (a front-end, a progress
// printer, tests asserting phase ordering) consume them through a LocalBus.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published by the orchestrator.
const (
	TypeBatchStarted   = "batch.started"
	TypeBatchCompleted = "batch.completed"
	TypePhaseStarted   = "phase.started"
	TypePhaseCompleted = "phase.completed"
	TypeTaskStarted    = "task.started"
	TypeTaskCompleted  = "task.completed"
	TypeWorkerState    = "worker.state"
)

// Event is an immutable lifecycle notification.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	BatchID   string    `json:"batch_id"`
	Phase     string    `json:"phase,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Payload carries type specific details, e.g. a task outcome or a
	// worker state name.
	Payload map[string]any `json:"payload,omitempty"`
}

// Option configures event creation.
type Option func(*Event)

// WithPhase sets the phase.
func WithPhase(phase string) Option {
	return func(e *Event) { e.Phase = phase }
}

// WithTask sets the task id.
func WithTask(taskID string) Option {
	return func(e *Event) { e.TaskID = taskID }
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) { e.Timestamp = t }
}

// WithPayload adds a payload entry.
func WithPayload(key string, value any) Option {
	return func(e *Event) {
		if e.Payload == nil {
			e.Payload = make(map[string]any)
		}
		e.Payload[key] = value
	}
}

// New creates an event for batchID.
func New(eventType, batchID string, opts ...Option) Event {
	e := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		BatchID:   batchID,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// String returns the payload value for key, or "".
func (e Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Handler consumes events.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}
