// Package probe waits for the image worker to report that it can accept
// submissions.
//
// A Probe polls a Checker at a fixed interval until the first success, the
// timeout, or cancellation of the caller's context. Individual check failures
// are expected while the worker loads and are only logged at debug level.
//
//	p := probe.New(client, probe.WithTimeout(2*time.Minute))
//	outcome, err := p.Wait(ctx)
//	switch outcome {
//	case probe.OutcomeReady:
//	case probe.OutcomeTimedOut: // err wraps ErrReadinessTimeout
//	case probe.OutcomeCancelled: // err wraps ErrCancelled
//	}
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Checker reports whether the worker is ready. Any error means not yet.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Ping calls f.
func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Outcome is the terminal result of Wait.
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeTimedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const (
	DefaultTimeout        = 120 * time.Second
	DefaultInterval       = 2 * time.Second
	DefaultRequestTimeout = 5 * time.Second
)

// Probe polls a Checker until it succeeds.
type Probe struct {
	checker        Checker
	timeout        time.Duration
	interval       time.Duration
	settle         time.Duration
	requestTimeout time.Duration
	clock          clock.Clock
	logger         *slog.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithTimeout bounds the whole wait.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithInterval sets the delay between checks.
func WithInterval(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSettle makes the probe wait d after the first success and check once
// more before reporting ready. A failed re-check resumes polling.
func WithSettle(d time.Duration) Option {
	return func(p *Probe) {
		if d >= 0 {
			p.settle = d
		}
	}
}

// WithRequestTimeout bounds each individual check.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

// WithClock replaces the clock used for the interval, settle, and timeout
// timers.
func WithClock(c clock.Clock) Option {
	return func(p *Probe) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Probe) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Probe for checker.
func New(checker Checker, opts ...Option) *Probe {
	p := &Probe{
		checker:        checker,
		timeout:        DefaultTimeout,
		interval:       DefaultInterval,
		requestTimeout: DefaultRequestTimeout,
		clock:          clock.New(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls until the checker succeeds, the timeout elapses, or ctx is done.
//
// The first check runs immediately. On timeout the error is a *TimeoutError;
// on cancellation it wraps ErrCancelled and the context's cause.
func (p *Probe) Wait(ctx context.Context) (Outcome, error) {
	start := p.clock.Now()
	deadline := p.clock.Timer(p.timeout)
	defer deadline.Stop()
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	var (
		attempts int
		lastErr  error
		settling bool
	)
	for {
		attempts++
		lastErr = p.check(ctx)
		switch {
		case lastErr == nil && (settling || p.settle == 0):
			p.logger.Debug("worker ready",
				slog.Int("attempts", attempts),
				slog.Duration("elapsed", p.clock.Since(start)),
			)
			return OutcomeReady, nil
		case lastErr == nil:
			settling = true
			settle := p.clock.Timer(p.settle)
			outcome, err := p.await(ctx, deadline, settle.C, attempts, lastErr)
			settle.Stop()
			if err != nil {
				return outcome, err
			}
			continue
		case settling:
			p.logger.Debug("readiness re-check failed, resuming poll",
				slog.String("error", lastErr.Error()))
			settling = false
		default:
			p.logger.Debug("worker not ready",
				slog.Int("attempt", attempts),
				slog.String("error", lastErr.Error()),
			)
		}

		if outcome, err := p.await(ctx, deadline, ticker.C, attempts, lastErr); err != nil {
			return outcome, err
		}
	}
}

// await blocks until next fires, the deadline passes, or ctx is done.
func (p *Probe) await(ctx context.Context, deadline *clock.Timer, next <-chan time.Time, attempts int, lastErr error) (Outcome, error) {
	select {
	case <-ctx.Done():
		return OutcomeCancelled, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	case <-deadline.C:
		return OutcomeTimedOut, &TimeoutError{Timeout: p.timeout, Attempts: attempts, LastErr: lastErr}
	case <-next:
		return OutcomeReady, nil
	}
}

func (p *Probe) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	return p.checker.Ping(reqCtx)
}
