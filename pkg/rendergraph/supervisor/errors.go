package supervisor

import (
	"errors"
	"fmt"
)

// Launch errors.
var (
	// ErrLaunchFailed means the worker process could not be started.
	ErrLaunchFailed = errors.New("worker launch failed")

	// ErrPortInUse means something already listens on the worker address.
	ErrPortInUse = errors.New("worker address already in use")

	// ErrInvalidConfig means the launch configuration is unusable.
	ErrInvalidConfig = errors.New("invalid worker config")
)

// Lifecycle errors.
var (
	// ErrShutdownFailed means the worker survived a forceful kill.
	ErrShutdownFailed = errors.New("worker shutdown failed")

	// ErrKillTimeout means the process did not exit within the kill wait.
	ErrKillTimeout = errors.New("process did not exit after kill")

	// ErrNotStarting is returned by MarkReady when no launch is pending.
	ErrNotStarting = errors.New("worker is not starting")

	// ErrStaleHandle means the handle belongs to a worker this supervisor
	// no longer tracks.
	ErrStaleHandle = errors.New("stale worker handle")

	// ErrUnexpectedExit means the worker exited without being stopped.
	ErrUnexpectedExit = errors.New("worker exited unexpectedly")

	// ErrStopInProgress is returned by Start while a stop is running.
	ErrStopInProgress = errors.New("worker stop in progress")

	// ErrWorkerAlive is returned by Start while a worker that could not be
	// killed is still running.
	ErrWorkerAlive = errors.New("previous worker still running")
)

// LaunchError describes a failed Start.
// errors.Is(err, ErrLaunchFailed) holds for every LaunchError.
type LaunchError struct {
	Address string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch worker on %s: %v", e.Address, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunchFailed
}

// ShutdownError describes a worker that could not be terminated.
// errors.Is(err, ErrShutdownFailed) holds for every ShutdownError.
type ShutdownError struct {
	Pid int
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("stop worker pid %d: %v", e.Pid, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

func (e *ShutdownError) Is(target error) bool {
	return target == ErrShutdownFailed
}
