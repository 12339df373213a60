package errors

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPError is a non-success answer from the worker API.
type HTTPError struct {
	StatusCode int
	Method     string
	// Endpoint is the request path, e.g. "/prompt" or "/history/{id}".
	Endpoint string
	// PromptID is the job the request was about. Empty for worker-wide
	// calls such as /queue or /interrupt.
	PromptID string
	Message  string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	var b strings.Builder
	b.WriteString("worker")
	if req := strings.TrimSpace(e.Method + " " + e.Endpoint); req != "" {
		b.WriteString(" " + req)
	}
	fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	if e.PromptID != "" {
		fmt.Fprintf(&b, " for prompt %s", e.PromptID)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// Transient reports whether the worker may answer differently later:
// request timeouts, throttling and server errors.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// TimeoutError is a wait on the worker or the text model that ran out of
// time.
type TimeoutError struct {
	Operation string
	// PromptID is the worker job being waited on, if any.
	PromptID string
	Duration time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.PromptID != "" {
		return fmt.Sprintf("%s (prompt %s): timeout after %s", e.Operation, e.PromptID, e.Duration)
	}
	return fmt.Sprintf("%s: timeout after %s", e.Operation, e.Duration)
}
