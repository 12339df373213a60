package rendergraph

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/chain"
	rgerrors "github.com/randalmurphal/rendergraph/pkg/rendergraph/errors"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/event"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/ledger"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/observability"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/probe"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
)

// Config holds what every batch run needs.
type Config struct {
	// Worker is passed to Supervisor.Start.
	Worker supervisor.Config
	// Template is the workflow every Render task starts from. It is cloned
	// per task and never mutated.
	Template *nodegraph.Graph

	// GracePeriod is the SIGTERM grace before the worker is killed.
	GracePeriod time.Duration
	// SubmitTimeout bounds one submission. Submissions are not cut short
	// by cancellation.
	SubmitTimeout time.Duration

	// ComputeConcurrency bounds overlapping Compute tasks.
	// Default: 1
	ComputeConcurrency int
	// ComputeRetry governs retries of a failed Compute task.
	ComputeRetry rgerrors.RetryConfig

	// WaitForCompletion polls worker history until each job finishes.
	WaitForCompletion bool
	CompletionPoll    time.Duration
	CompletionTimeout time.Duration

	// WorkerCheckInterval is how often the supervisor state is checked
	// while waiting for a job.
	// Default: 1s
	WorkerCheckInterval time.Duration

	// KeepWorker leaves the worker running after every batch.
	KeepWorker bool
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = supervisor.DefaultGracePeriod
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.ComputeConcurrency <= 0 {
		c.ComputeConcurrency = 1
	}
	if c.ComputeRetry.MaxAttempts <= 0 {
		c.ComputeRetry = rgerrors.NoRetry
	}
	if c.CompletionPoll <= 0 {
		c.CompletionPoll = 5 * time.Second
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 24 * time.Hour
	}
	if c.WorkerCheckInterval <= 0 {
		c.WorkerCheckInterval = time.Second
	}
	return c
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans sets the span manager. Default: no-op.
func WithSpans(s observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithPublisher sends lifecycle events to p.
func WithPublisher(p event.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithLedger records every terminal task outcome in store.
func WithLedger(store ledger.Store) Option {
	return func(o *Orchestrator) { o.ledger = store }
}

// WithWorkerFactory overrides how the worker API is reached.
func WithWorkerFactory(f WorkerFactory) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newWorker = f
		}
	}
}

// WithProbeFactory overrides the readiness probe.
func WithProbeFactory(f ProbeFactory) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newProbe = f
		}
	}
}

// WithProbeOptions configures the default readiness probe.
func WithProbeOptions(opts ...probe.Option) Option {
	return func(o *Orchestrator) { o.probeOpts = append(o.probeOpts, opts...) }
}

// WithChainBuilder sets the builder used for Render graphs.
func WithChainBuilder(b *chain.Builder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.builder = b
		}
	}
}
