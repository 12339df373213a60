package probe

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReadinessTimeout means the worker never answered successfully
	// within the probe timeout.
	ErrReadinessTimeout = errors.New("worker readiness timeout")

	// ErrCancelled means the wait was aborted by the caller.
	ErrCancelled = errors.New("readiness wait cancelled")
)

// TimeoutError describes an exhausted readiness wait.
type TimeoutError struct {
	Timeout  time.Duration
	Attempts int
	LastErr  error
}

func (e *TimeoutError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("worker not ready after %s (%d checks)", e.Timeout, e.Attempts)
	}
	return fmt.Sprintf("worker not ready after %s (%d checks): last error: %v", e.Timeout, e.Attempts, e.LastErr)
}

func (e *TimeoutError) Unwrap() error {
	return ErrReadinessTimeout
}
