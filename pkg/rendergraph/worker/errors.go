package worker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrGraphRejected means the worker refused a submitted graph.
	ErrGraphRejected = errors.New("graph rejected by worker")

	// ErrExecutionFailed means an accepted prompt failed while running.
	ErrExecutionFailed = errors.New("prompt execution failed")

	// ErrNotInHistory means the worker has no record of the prompt yet.
	ErrNotInHistory = errors.New("prompt not in history")
)

// GraphValidationError is a 4xx answer to a submission. It is never retried.
type GraphValidationError struct {
	StatusCode int
	Type       string
	Message    string
	NodeErrors map[string]NodeError
}

func (e *GraphValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "worker rejected graph (%d)", e.StatusCode)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	for _, id := range sortedKeys(e.NodeErrors) {
		ne := e.NodeErrors[id]
		for _, d := range ne.Errors {
			fmt.Fprintf(&b, "; node %s (%s): %s", id, ne.ClassType, d.Message)
			if d.Details != "" {
				fmt.Fprintf(&b, " [%s]", d.Details)
			}
		}
	}
	return b.String()
}

func (e *GraphValidationError) Is(target error) bool {
	return target == ErrGraphRejected
}

// ExecutionError is an asynchronous failure recorded in worker history.
type ExecutionError struct {
	PromptID string
	Message  string
}

func (e *ExecutionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("prompt %s failed", e.PromptID)
	}
	return fmt.Sprintf("prompt %s failed: %s", e.PromptID, e.Message)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
