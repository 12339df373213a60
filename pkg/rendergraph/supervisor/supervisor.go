// Package supervisor owns the lifecycle of the image worker process.
//
// A Supervisor runs at most one worker at a time and is the only code that
// changes its state:
//
//	Stopped --Start--> Starting --MarkReady--> Ready --Stop--> Stopping --> Stopped
//	                       \                     /               \
//	                        `--- unexpected exit ---> Failed <---' kill did not take
//
// Start returns as soon as the process is spawned. Readiness is observed by
// the caller (see package probe) and reported back with MarkReady.
//
// Stop sends SIGTERM and arms a single grace timer. If the worker is still
// alive when it fires, Stop escalates to SIGKILL and waits a bounded time for
// the exit.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/observability"
)

// State is the worker lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	DefaultGracePeriod = 10 * time.Second
	DefaultKillWait    = 5 * time.Second
)

// Handle identifies one launched (or adopted) worker.
type Handle struct {
	ID        string
	Pid       int
	Address   string
	BaseURL   string
	StartedAt time.Time
	// External is set for a worker adopted through Config.ReuseExisting.
	// Stop never signals an external worker.
	External bool
}

// Status is a snapshot of the supervisor.
type Status struct {
	State  State
	Handle *Handle
	Uptime time.Duration
	// LastErr is the error behind the most recent Failed transition.
	LastErr error
}

// StateHook observes transitions. It runs with the supervisor locked and
// must not call back into it.
type StateHook func(from, to State, h *Handle)

// Supervisor manages one worker process.
type Supervisor struct {
	launcher  Launcher
	portInUse PortChecker
	clock     clock.Clock
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	killWait  time.Duration
	hook      StateHook

	mu       sync.Mutex
	state    State
	handle   *Handle
	proc     Process
	lastErr  error
	stopDone chan struct{}
	stopErr  error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.launcher = l
		}
	}
}

// WithPortChecker replaces the pre-launch address check.
func WithPortChecker(c PortChecker) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.portInUse = c
		}
	}
}

// WithClock sets the clock used for the grace and kill-wait timers.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records launch attempts.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithKillWait bounds the wait for exit after SIGKILL.
func WithKillWait(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killWait = d
		}
	}
}

// WithStateHook registers a transition observer.
func WithStateHook(h StateHook) Option {
	return func(s *Supervisor) {
		s.hook = h
	}
}

// New creates a Supervisor in the Stopped state.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher:  ExecLauncher{},
		portInUse: DialPortChecker,
		clock:     clock.New(),
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		killWait:  DefaultKillWait,
		state:     StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the state and current handle.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, LastErr: s.lastErr}
	if s.handle != nil {
		h := *s.handle
		st.Handle = &h
		st.Uptime = s.clock.Since(h.StartedAt)
	}
	return st
}

// Start launches the worker described by cfg.
//
// While a worker is Starting or Ready, Start returns its handle and launches
// nothing. If the address is already taken, Start fails with ErrPortInUse
// unless cfg.ReuseExisting is set, in which case the running worker is
// adopted as an external handle in the Starting state.
//
// After a failed Stop, Start refuses with a *ShutdownError wrapping
// ErrWorkerAlive until the old process has exited.
func (s *Supervisor) Start(ctx context.Context, cfg Config) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStarting, StateReady:
		s.logger.Debug("worker already running", slog.Int("pid", s.handle.Pid))
		return s.handle, nil
	case StateStopping:
		return nil, ErrStopInProgress
	}

	// A worker that survived its kill still owns the address and the GPU.
	if s.proc != nil {
		select {
		case <-s.proc.Done():
			s.proc = nil
		default:
			return nil, &ShutdownError{Pid: s.proc.Pid(), Err: ErrWorkerAlive}
		}
	}

	if s.portInUse(ctx, cfg.DialAddress()) {
		if !cfg.ReuseExisting {
			err := &LaunchError{Address: cfg.Address(), Err: ErrPortInUse}
			s.metrics.RecordWorkerLaunch(ctx, err)
			return nil, err
		}
		s.handle = &Handle{
			ID:        uuid.NewString(),
			Address:   cfg.Address(),
			BaseURL:   cfg.BaseURL(),
			StartedAt: s.clock.Now(),
			External:  true,
		}
		s.proc = nil
		s.logger.Info("adopting running worker", slog.String("address", cfg.Address()))
		s.setState(StateStarting, nil)
		return s.handle, nil
	}

	proc, err := s.launcher.Launch(ctx, cfg)
	if err != nil {
		lerr := &LaunchError{Address: cfg.Address(), Err: err}
		s.metrics.RecordWorkerLaunch(ctx, lerr)
		s.handle = nil
		s.proc = nil
		s.setState(StateFailed, lerr)
		return nil, lerr
	}
	s.metrics.RecordWorkerLaunch(ctx, nil)

	s.proc = proc
	s.handle = &Handle{
		ID:        uuid.NewString(),
		Pid:       proc.Pid(),
		Address:   cfg.Address(),
		BaseURL:   cfg.BaseURL(),
		StartedAt: s.clock.Now(),
	}
	s.setState(StateStarting, nil)
	go s.watch(proc)

	return s.handle, nil
}

// MarkReady moves a Starting worker to Ready.
func (s *Supervisor) MarkReady(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h == nil || s.handle == nil || h.ID != s.handle.ID {
		return ErrStaleHandle
	}
	if s.state != StateStarting {
		return ErrNotStarting
	}
	s.setState(StateReady, nil)
	return nil
}

// Stop terminates the worker behind h. A nil handle means the current one.
//
// Stop on a Stopped supervisor is a no-op. A concurrent Stop waits for the
// one in progress and returns its result. If ctx ends during the grace
// period, Stop escalates to SIGKILL immediately.
func (s *Supervisor) Stop(ctx context.Context, h *Handle, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	s.mu.Lock()
	switch {
	case s.state == StateStopped:
		s.mu.Unlock()
		return nil
	case s.state == StateFailed && s.proc == nil:
		// The launch failed or the worker already exited.
		s.handle = nil
		s.setState(StateStopped, nil)
		s.mu.Unlock()
		return nil
	case h != nil && (s.handle == nil || h.ID != s.handle.ID):
		s.mu.Unlock()
		return ErrStaleHandle
	case s.state == StateStopping:
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.stopErr
		case <-ctx.Done():
			return ctx.Err()
		}
	case s.proc == nil:
		// External worker or a process that already exited.
		s.handle = nil
		s.setState(StateStopped, nil)
		s.mu.Unlock()
		return nil
	}

	proc := s.proc
	s.stopDone = make(chan struct{})
	s.stopErr = nil
	s.setState(StateStopping, nil)
	s.mu.Unlock()

	err := s.terminate(ctx, proc, grace)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopErr = err
	if err != nil {
		s.setState(StateFailed, err)
	} else {
		s.proc = nil
		s.handle = nil
		s.setState(StateStopped, nil)
	}
	close(s.stopDone)
	return err
}

// terminate runs SIGTERM, then SIGKILL after grace, then waits killWait.
func (s *Supervisor) terminate(ctx context.Context, proc Process, grace time.Duration) error {
	pid := proc.Pid()

	graceTimer := s.clock.Timer(grace)
	defer graceTimer.Stop()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("SIGTERM failed", slog.Int("pid", pid), slog.String("error", err.Error()))
	}

	select {
	case <-proc.Done():
		s.logger.Info("worker exited", slog.Int("pid", pid))
		return nil
	case <-graceTimer.C:
		s.logger.Warn("worker ignored SIGTERM, killing",
			slog.Int("pid", pid),
			slog.Duration("grace", grace),
		)
	case <-ctx.Done():
		s.logger.Warn("stop cancelled, killing worker", slog.Int("pid", pid))
	}

	killTimer := s.clock.Timer(s.killWait)
	defer killTimer.Stop()

	if err := proc.Kill(); err != nil {
		select {
		case <-proc.Done():
			return nil
		default:
		}
		return &ShutdownError{Pid: pid, Err: err}
	}

	select {
	case <-proc.Done():
		return nil
	case <-killTimer.C:
		return &ShutdownError{Pid: pid, Err: ErrKillTimeout}
	}
}

// watch records the exit of proc.
func (s *Supervisor) watch(proc Process) {
	<-proc.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != proc {
		return
	}
	switch s.state {
	case StateStarting, StateReady:
		s.logger.Error("worker exited unexpectedly",
			slog.Int("pid", proc.Pid()),
			slog.Any("error", proc.ExitErr()),
		)
		s.proc = nil
		s.handle = nil
		s.setState(StateFailed, exitError(proc))
	case StateFailed:
		// A worker that outlived its kill finally went away.
		s.proc = nil
		s.handle = nil
		s.setState(StateStopped, nil)
	}
}

func exitError(proc Process) error {
	if err := proc.ExitErr(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedExit, err)
	}
	return ErrUnexpectedExit
}

// setState must be called with mu held.
func (s *Supervisor) setState(to State, cause error) {
	from := s.state
	s.state = to
	if to == StateFailed {
		s.lastErr = cause
	}
	pid := 0
	if s.handle != nil {
		pid = s.handle.Pid
	}
	if from != to {
		observability.LogWorkerState(s.logger, from.String(), to.String(), pid)
	}
	if s.hook != nil && from != to {
		s.hook(from, to, s.handle)
	}
}
