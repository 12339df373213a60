package rendergraph

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	rgerrors "github.com/randalmurphal/rendergraph/pkg/rendergraph/errors"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/event"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/llm"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/observability"
)

// computePhase runs the Compute tasks with bounded concurrency and returns
// once every started task is terminal. A failing task does not stop its
// siblings.
func (r *run) computePhase(ctx context.Context, idx []int) {
	if len(idx) == 0 {
		return
	}
	o := r.o

	ctx, span := o.spans.StartPhaseSpan(ctx, string(PhaseCompute))
	start := time.Now()
	observability.LogPhaseStart(r.logger, string(PhaseCompute), len(idx))
	r.publish(event.TypePhaseStarted, event.WithPhase(string(PhaseCompute)))

	var g errgroup.Group
	g.SetLimit(o.cfg.ComputeConcurrency)
	for _, i := range idx {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.compute(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	o.metrics.RecordPhase(r.bg, string(PhaseCompute), elapsed)
	observability.LogPhaseComplete(r.logger, string(PhaseCompute), float64(elapsed.Milliseconds()))
	r.publish(event.TypePhaseCompleted, event.WithPhase(string(PhaseCompute)))
	o.spans.EndSpanWithError(span, context.Cause(ctx))
}

func (r *run) compute(ctx context.Context, i int) {
	if ctx.Err() != nil {
		return
	}
	t := r.batch.Tasks[i]
	o := r.o

	ctx, span := o.spans.StartTaskSpan(ctx, t.ID, string(PhaseCompute))
	r.start(i)

	res := rgerrors.WithRetryContext(ctx, o.cfg.ComputeRetry, func(ctx context.Context) (string, error) {
		return o.gen.Generate(ctx, *t.Compute)
	})
	attempts := func(tr *TaskResult) { tr.Attempts = res.Attempts }

	switch {
	case res.Err == nil:
		r.finish(i, OutcomeSucceeded, nil, attempts, func(tr *TaskResult) {
			tr.Output = res.Value
			if t.Compute.Count > 1 {
				tr.Items = llm.SplitNumbered(res.Value)
			}
		})
	case ctx.Err() != nil:
		r.finish(i, OutcomeCancelled, nil, attempts)
	default:
		r.finish(i, OutcomeFailed, res.Err, attempts)
	}
	o.spans.EndSpanWithError(span, res.Err)
}
