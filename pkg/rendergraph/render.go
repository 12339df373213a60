package rendergraph

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path"
	"time"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/chain"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/event"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/observability"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/probe"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/prompt"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
)

// interruptTimeout bounds the best-effort interrupt sent to a kept worker
// when a run is cancelled mid-job.
const interruptTimeout = 5 * time.Second

var promptExpander = prompt.NewExpander()

// renderPhase starts the worker, waits for readiness and runs the Render
// tasks one at a time.
func (r *run) renderPhase(ctx context.Context, idx []int) {
	o := r.o

	ctx, span := o.spans.StartPhaseSpan(ctx, string(PhaseRender))
	start := time.Now()
	observability.LogPhaseStart(r.logger, string(PhaseRender), len(idx))
	r.publish(event.TypePhaseStarted, event.WithPhase(string(PhaseRender)))

	var phaseErr error
	defer func() {
		elapsed := time.Since(start)
		o.metrics.RecordPhase(r.bg, string(PhaseRender), elapsed)
		observability.LogPhaseComplete(r.logger, string(PhaseRender), float64(elapsed.Milliseconds()))
		r.publish(event.TypePhaseCompleted, event.WithPhase(string(PhaseRender)))
		o.spans.EndSpanWithError(span, phaseErr)
	}()

	// Input problems fail their own task and never cost a worker launch.
	runnable := make([]int, 0, len(idx))
	for _, i := range idx {
		if err := r.prepare(i); err != nil {
			r.finish(i, OutcomeFailed, err)
			continue
		}
		runnable = append(runnable, i)
	}
	if len(runnable) == 0 {
		return
	}

	o.setState(StateWaitingReady)
	w, err := r.startWorker(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		phaseErr = err
		observability.LogPhaseAborted(r.logger, string(PhaseRender), len(runnable), err)
		for _, i := range runnable {
			r.finish(i, OutcomeFailed, fmt.Errorf("%w: %w", ErrPhaseAborted, err))
		}
		return
	}

	o.setState(StateRender)
	for k, i := range runnable {
		if ctx.Err() != nil {
			return
		}
		if r.workerLost() {
			phaseErr = ErrWorkerLost
			observability.LogPhaseAborted(r.logger, string(PhaseRender), len(runnable)-k, ErrWorkerLost)
			for _, j := range runnable[k:] {
				r.finish(j, OutcomeFailed, fmt.Errorf("%w: %w", ErrPhaseAborted, ErrWorkerLost))
			}
			return
		}
		r.render(ctx, w, i)
	}
}

// prepare validates task i's modifiers and resolves its prompt.
func (r *run) prepare(i int) error {
	in := r.batch.Tasks[i].Render
	if err := chain.ValidateSpecs(in.Modifiers); err != nil {
		return err
	}
	if in.PromptFrom == "" {
		text, err := r.expandPrompt(in.Prompt)
		if err != nil {
			return err
		}
		r.prompts[i] = text
		return nil
	}

	src, err := r.source(in.PromptFrom)
	if err != nil {
		return err
	}
	text := src.Output
	if in.PromptIndex > 0 {
		items := itemsOf(src)
		if in.PromptIndex > len(items) {
			return fmt.Errorf("%w: %s has %d, want item %d", ErrNoPromptItem, in.PromptFrom, len(items), in.PromptIndex)
		}
		text = items[in.PromptIndex-1]
	}
	r.prompts[i] = text
	return nil
}

// expandPrompt fills ${task} and ${task.N} placeholders from Compute
// results.
func (r *run) expandPrompt(text string) (string, error) {
	refs := prompt.References(text)
	if len(refs) == 0 {
		return text, nil
	}
	vars := prompt.Vars{}
	for _, ref := range refs {
		src, err := r.source(ref.Source)
		if err != nil {
			return "", err
		}
		vars.Set(ref.Source, src.Output, itemsOf(src))
	}
	out, err := promptExpander.Expand(text, vars)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoPromptItem, err)
	}
	return out, nil
}

// source returns the result of a Compute task a prompt depends on.
func (r *run) source(id string) (TaskResult, error) {
	src, _ := r.result.Task(id)
	if src.Outcome != OutcomeSucceeded {
		return src, fmt.Errorf("%w: %s is %s", ErrUpstreamFailed, id, src.Outcome)
	}
	return src, nil
}

// itemsOf returns the numbered items of a Compute result, or its whole
// output as the only item.
func itemsOf(src TaskResult) []string {
	if len(src.Items) == 0 {
		return []string{src.Output}
	}
	return src.Items
}

// startWorker launches (or reuses) the worker and waits until it answers.
func (r *run) startWorker(ctx context.Context) (Worker, error) {
	o := r.o

	h, err := o.sup.Start(ctx, o.cfg.Worker)
	if err != nil {
		return nil, err
	}
	r.handle = h
	r.result.WorkerStarted = true
	r.publishWorker(o.sup.State())

	w := o.newWorker(h.BaseURL)
	outcome, err := o.newProbe(w).Wait(ctx)
	if outcome != probe.OutcomeReady {
		return nil, err
	}

	if o.sup.State() != supervisor.StateReady {
		if err := o.sup.MarkReady(h); err != nil {
			return nil, err
		}
	}
	r.publishWorker(supervisor.StateReady)
	r.logger.Info("worker ready", slog.String("address", h.Address), slog.Int("pid", h.Pid))
	return w, nil
}

// render builds task i's graph, submits it and optionally waits for the
// job to finish.
func (r *run) render(ctx context.Context, w Worker, i int) {
	t := r.batch.Tasks[i]
	in := t.Render
	o := r.o
	logger := observability.EnrichLogger(r.logger, r.batch.ID, t.ID, string(PhaseRender))

	ctx, span := o.spans.StartTaskSpan(ctx, t.ID, string(PhaseRender))
	r.start(i)

	var err error
	defer func() { o.spans.EndSpanWithError(span, err) }()

	g := o.cfg.Template.Clone()
	if err = o.builder.Rebuild(g, in.Modifiers); err != nil {
		r.finish(i, OutcomeFailed, err)
		return
	}

	seed := rand.Int64()
	if in.Seed != nil {
		seed = *in.Seed
	}
	err = nodegraph.Apply(g, nodegraph.Params{
		Prompt:         r.prompts[i],
		Seed:           &seed,
		OutputDir:      in.OutputDir,
		FilenamePrefix: in.FilenamePrefix,
		Width:          in.Width,
		Height:         in.Height,
	})
	if err != nil {
		r.finish(i, OutcomeFailed, err)
		return
	}
	withSeed := func(tr *TaskResult) { tr.Seed = seed }

	// A submission already on the wire is awaited even when cancelled.
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SubmitTimeout)
	logger.Debug("submitting graph", slog.Int("nodes", g.Len()), slog.Int("modifiers", len(in.Modifiers)))
	sub, err := w.Submit(subCtx, g)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			r.finish(i, OutcomeCancelled, nil, withSeed)
			return
		}
		if r.workerLost() {
			err = fmt.Errorf("%w: %w: %w", ErrPhaseAborted, ErrWorkerLost, err)
		}
		r.finish(i, OutcomeFailed, err, withSeed)
		return
	}
	withPrompt := func(tr *TaskResult) { tr.PromptID = sub.PromptID }
	if ctx.Err() != nil {
		r.interrupt(w, logger)
		r.finish(i, OutcomeCancelled, nil, withSeed, withPrompt)
		return
	}

	if !o.cfg.WaitForCompletion {
		r.finish(i, OutcomeSucceeded, nil, withSeed, withPrompt)
		return
	}

	waitCtx, stopWatch := r.watchWorker(ctx)
	entry, err := w.WaitForCompletion(waitCtx, sub.PromptID, o.cfg.CompletionPoll, o.cfg.CompletionTimeout)
	lost := stopWatch()
	switch {
	case ctx.Err() != nil:
		r.interrupt(w, logger)
		r.finish(i, OutcomeCancelled, nil, withSeed, withPrompt)
	case lost:
		err = fmt.Errorf("%w: %w", ErrPhaseAborted, ErrWorkerLost)
		logger.Error("worker failed while job was running", slog.String("prompt_id", sub.PromptID))
		r.finish(i, OutcomeFailed, err, withSeed, withPrompt)
	case err != nil:
		r.finish(i, OutcomeFailed, err, withSeed, withPrompt)
	default:
		r.finish(i, OutcomeSucceeded, nil, withSeed, withPrompt, func(tr *TaskResult) {
			for _, img := range entry.Images() {
				tr.Images = append(tr.Images, path.Join(img.Subfolder, img.Filename))
			}
		})
	}
}

// workerLost reports whether the supervisor has seen the worker fail.
func (r *run) workerLost() bool {
	return r.o.sup.State() == supervisor.StateFailed
}

// watchWorker returns a context that is cancelled once the supervisor
// reports the worker failed. stop ends the watch and reports whether that
// happened.
func (r *run) watchWorker(ctx context.Context) (_ context.Context, stop func() bool) {
	ctx, cancel := context.WithCancelCause(ctx)
	quit := make(chan struct{})
	exited := make(chan struct{})
	lost := false

	go func() {
		defer close(exited)
		ticker := time.NewTicker(r.o.cfg.WorkerCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r.workerLost() {
					lost = true
					cancel(ErrWorkerLost)
					return
				}
			}
		}
	}()

	return ctx, func() bool {
		close(quit)
		<-exited
		cancel(nil)
		return lost
	}
}

// interrupt stops the running job on a worker that outlives the batch.
func (r *run) interrupt(w Worker, logger *slog.Logger) {
	if !r.o.cfg.KeepWorker && !r.batch.KeepWorker {
		return
	}
	ctx, cancel := context.WithTimeout(r.bg, interruptTimeout)
	defer cancel()
	if err := w.Interrupt(ctx); err != nil {
		logger.Warn("worker interrupt failed", slog.Any("error", err))
	}
}
