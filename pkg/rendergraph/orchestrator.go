package rendergraph

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/chain"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/event"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/ledger"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/observability"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/probe"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
)

// Orchestrator runs batches: every Compute task to a terminal state, then
// every Render task against a supervised worker.
//
// Runs are serialized. A second Run blocks until the previous one has
// finished its cleanup.
type Orchestrator struct {
	cfg Config
	gen Generator
	sup Supervisor

	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	events    event.Publisher
	ledger    ledger.Store
	builder   *chain.Builder
	newWorker WorkerFactory
	newProbe  ProbeFactory
	probeOpts []probe.Option

	runMu sync.Mutex

	mu       sync.Mutex
	state    State
	cancel   context.CancelCauseFunc
	retained *supervisor.Handle
}

// New creates an orchestrator. gen may be nil when no batch has Compute
// tasks.
func New(cfg Config, gen Generator, sup Supervisor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		gen:     gen,
		sup:     sup,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.builder == nil {
		o.builder = chain.NewBuilder(chain.WithLogger(o.logger))
	}
	if o.newWorker == nil {
		o.newWorker = defaultWorkerFactory(o.logger)
	}
	if o.newProbe == nil {
		o.newProbe = defaultProbeFactory(o.logger, o.probeOpts)
	}
	return o
}

// State returns where the current run is.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cancel stops the current run. Remaining tasks are skipped and reported
// as cancelled; cleanup still runs. Cancel without a run is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel(ErrCancelled)
	}
}

// Run executes b and returns one result per task.
//
// The error is non-nil only when b itself is invalid; task failures are
// reported in the result. Cancelling ctx has the same effect as Cancel.
func (o *Orchestrator) Run(ctx context.Context, b Batch) (*BatchResult, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := o.check(b); err != nil {
		return nil, err
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	return newRun(ctx, o, b).execute(ctx), nil
}

// Shutdown stops a worker kept alive by KeepWorker. It waits for a run in
// progress to finish first.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.mu.Lock()
	h := o.retained
	o.retained = nil
	o.mu.Unlock()

	if h == nil {
		return nil
	}
	return o.sup.Stop(ctx, h, o.cfg.GracePeriod)
}

func (o *Orchestrator) check(b Batch) error {
	err := b.validate()
	var extra []error
	if b.hasRender() && o.cfg.Template == nil {
		extra = append(extra, ErrNoTemplate)
	}
	if o.gen == nil {
		for _, t := range b.Tasks {
			if t.Phase == PhaseCompute {
				extra = append(extra, errors.New("compute tasks need a generator"))
				break
			}
		}
	}
	if len(extra) == 0 {
		return err
	}
	var be *BatchError
	if !errors.As(err, &be) {
		be = &BatchError{BatchID: b.ID}
	}
	be.Errs = append(be.Errs, extra...)
	return be
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	if from != to {
		o.logger.Debug("orchestrator state", slog.String("from", from.String()), slog.String("to", to.String()))
	}
}

// run is the bookkeeping of one batch execution.
type run struct {
	o      *Orchestrator
	batch  Batch
	logger *slog.Logger
	// bg outlives cancellation for events, ledger writes and cleanup.
	bg context.Context

	mu      sync.Mutex
	result  *BatchResult
	prompts map[int]string

	handle *supervisor.Handle
}

func newRun(ctx context.Context, o *Orchestrator, b Batch) *run {
	res := &BatchResult{
		BatchID: b.ID,
		Tasks:   make([]TaskResult, len(b.Tasks)),
	}
	for i, t := range b.Tasks {
		res.Tasks[i] = TaskResult{TaskID: t.ID, Phase: t.Phase, BestEffort: t.BestEffort}
	}
	return &run{
		o:       o,
		batch:   b,
		logger:  o.logger.With(slog.String("batch_id", b.ID)),
		bg:      context.WithoutCancel(ctx),
		result:  res,
		prompts: make(map[int]string),
	}
}

func (r *run) execute(ctx context.Context) *BatchResult {
	o := r.o
	r.result.StartedAt = time.Now()

	ctx, span := o.spans.StartBatchSpan(ctx, r.batch.ID)

	var computeIdx, renderIdx []int
	for i, t := range r.batch.Tasks {
		if t.Phase == PhaseCompute {
			computeIdx = append(computeIdx, i)
		} else {
			renderIdx = append(renderIdx, i)
		}
	}

	observability.LogBatchStart(r.logger, r.batch.ID, len(computeIdx), len(renderIdx))
	r.publish(event.TypeBatchStarted,
		event.WithPayload("compute_tasks", len(computeIdx)),
		event.WithPayload("render_tasks", len(renderIdx)),
	)

	o.setState(StateCompute)
	r.computePhase(ctx, computeIdx)

	if len(renderIdx) > 0 && ctx.Err() == nil {
		r.renderPhase(ctx, renderIdx)
	}

	o.setState(StateCleanup)
	r.cleanup()

	cancelled := ctx.Err() != nil
	for i := range r.result.Tasks {
		if r.result.Tasks[i].Outcome == OutcomePending {
			r.finish(i, OutcomeCancelled, nil)
		}
	}

	res := r.result
	res.FinishedAt = time.Now()
	res.Status = status(res.Tasks, cancelled)
	elapsed := res.FinishedAt.Sub(res.StartedAt)

	succeeded, failed, _ := res.Counts()
	o.metrics.RecordBatch(r.bg, res.Status.String(), elapsed)
	observability.LogBatchComplete(r.logger, r.batch.ID, res.Status.String(), float64(elapsed.Milliseconds()), succeeded, failed)
	r.publish(event.TypeBatchCompleted, event.WithPayload("status", res.Status.String()))

	var spanErr error
	if res.Status != StatusSucceeded {
		spanErr = errors.Join(context.Cause(ctx), res.Err())
	}
	o.spans.EndSpanWithError(span, spanErr)

	o.setState(StateIdle)
	return res
}

// cleanup stops the worker unless the batch keeps it.
func (r *run) cleanup() {
	o := r.o
	if r.handle == nil {
		return
	}

	if o.cfg.KeepWorker || r.batch.KeepWorker {
		o.mu.Lock()
		o.retained = r.handle
		o.mu.Unlock()
		r.logger.Info("keeping worker running", slog.String("address", r.handle.Address))
		return
	}

	if err := o.sup.Stop(r.bg, r.handle, o.cfg.GracePeriod); err != nil {
		r.logger.Warn("worker shutdown failed", slog.Any("error", err))
		r.result.Warnings = append(r.result.Warnings, err)
	}
	o.mu.Lock()
	o.retained = nil
	o.mu.Unlock()
	r.publishWorker(o.sup.State())
}

// start marks task i as running.
func (r *run) start(i int) {
	t := r.batch.Tasks[i]
	r.mu.Lock()
	r.result.Tasks[i].StartedAt = time.Now()
	r.mu.Unlock()

	observability.LogTaskStart(r.logger, t.ID, string(t.Phase))
	r.publish(event.TypeTaskStarted, event.WithTask(t.ID), event.WithPhase(string(t.Phase)))
}

// finish records the terminal outcome of task i. fill, if given, sets
// outputs under the result lock.
func (r *run) finish(i int, outcome Outcome, err error, fill ...func(*TaskResult)) {
	t := r.batch.Tasks[i]
	if outcome == OutcomeFailed {
		err = &TaskError{TaskID: t.ID, Phase: t.Phase, Err: err}
	}

	r.mu.Lock()
	tr := &r.result.Tasks[i]
	now := time.Now()
	if tr.StartedAt.IsZero() {
		tr.StartedAt = now
	}
	tr.FinishedAt = now
	tr.Outcome = outcome
	tr.Err = err
	for _, f := range fill {
		f(tr)
	}
	snapshot := *tr
	r.mu.Unlock()

	phase := string(t.Phase)
	switch outcome {
	case OutcomeSucceeded:
		observability.LogTaskComplete(r.logger, t.ID, phase, float64(snapshot.Duration().Milliseconds()))
	case OutcomeFailed:
		observability.LogTaskError(r.logger, t.ID, phase, err, t.BestEffort)
	case OutcomeCancelled:
		observability.LogTaskCancelled(r.logger, t.ID, phase)
	}
	r.o.metrics.RecordTask(r.bg, phase, outcome.String(), snapshot.Duration(), err)

	opts := []event.Option{
		event.WithTask(t.ID),
		event.WithPhase(phase),
		event.WithPayload("outcome", outcome.String()),
	}
	if err != nil {
		opts = append(opts, event.WithPayload("error", err.Error()))
	}
	r.publish(event.TypeTaskCompleted, opts...)
	r.record(snapshot)
}

func (r *run) record(tr TaskResult) {
	if r.o.ledger == nil {
		return
	}
	rec := ledger.Record{
		BatchID:    r.batch.ID,
		TaskID:     tr.TaskID,
		Phase:      string(tr.Phase),
		Outcome:    tr.Outcome.String(),
		Output:     tr.Output,
		PromptID:   tr.PromptID,
		Attempts:   tr.Attempts,
		BestEffort: tr.BestEffort,
		StartedAt:  tr.StartedAt,
		FinishedAt: tr.FinishedAt,
	}
	if tr.Err != nil {
		rec.Error = tr.Err.Error()
	}
	if err := r.o.ledger.Save(r.bg, rec); err != nil {
		observability.LogLedgerError(r.logger, tr.TaskID, "save", err)
	}
}

func (r *run) publish(eventType string, opts ...event.Option) {
	if r.o.events == nil {
		return
	}
	if err := r.o.events.Publish(r.bg, event.New(eventType, r.batch.ID, opts...)); err != nil {
		r.logger.Debug("event not published", slog.String("type", eventType), slog.Any("error", err))
	}
}

func (r *run) publishWorker(state supervisor.State) {
	opts := []event.Option{event.WithPayload("state", state.String())}
	if r.handle != nil {
		opts = append(opts,
			event.WithPayload("address", r.handle.Address),
			event.WithPayload("pid", r.handle.Pid),
		)
	}
	r.publish(event.TypeWorkerState, opts...)
}
