// Package llm generates text with a local language model for the Compute
// phase.
//
// Client is the seam the orchestrator depends on. LlamaCLI runs a llama.cpp
// style binary once per request; MockClient serves tests.
package llm

import (
	"context"
	"fmt"
)

// Client produces completions.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Error is a failed LLM operation.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError creates an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *Error) Temporary() bool {
	return e.Retryable
}
