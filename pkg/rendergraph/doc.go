/*
Package rendergraph runs generative-image batches in two strictly ordered
phases.

# Overview

A batch mixes Compute tasks (text generation with a local language model,
no image worker needed) and Render tasks (image jobs submitted to a
ComfyUI-style worker). The two compete for the same GPU, so they never
overlap: every Compute task reaches a terminal state before the worker is
launched, and the worker is stopped once the last Render task is done.

	Idle -> Compute -> WaitingReady -> Render -> Cleanup -> Idle

# Basic Usage

	tmpl, err := nodegraph.FromFile("workflows/sdxl_api.json")
	if err != nil {
	    log.Fatal(err)
	}

	orch := rendergraph.New(rendergraph.Config{
	    Worker:            supervisor.Config{EntryPoint: "main.py", Port: 8188},
	    Template:          tmpl,
	    WaitForCompletion: true,
	}, rendergraph.LLMGenerator{Client: llm.NewLlamaCLI(modelPath)}, supervisor.New())

	result, err := orch.Run(ctx, rendergraph.Batch{Tasks: []rendergraph.Task{
	    {ID: "ideas", Phase: rendergraph.PhaseCompute,
	        Compute: &rendergraph.ComputeInput{Prompt: "Three prompts about foxes", Count: 3}},
	    {ID: "fox-1", Phase: rendergraph.PhaseRender,
	        Render: &rendergraph.RenderInput{PromptFrom: "ideas", PromptIndex: 1,
	            Modifiers: []chain.ModifierSpec{chain.Spec("film_grain")}}},
	}})

# Render Graphs

Each Render task clones the workflow template, rebuilds its modifier chain
with chain.Builder, writes prompt, seed, filename prefix and size with
nodegraph.Apply and submits the result. Graphs are never shared between
tasks. Submissions are not retried: a rejected graph fails its task with a
*worker.GraphValidationError.

# Failures

Task failures are isolated and reported as *TaskError. A worker that cannot
be launched or never becomes ready fails every Render task that had not run
yet (ErrPhaseAborted) and leaves Compute results untouched. A worker that
cannot be stopped is reported in BatchResult.Warnings.

The batch status is StatusFailed or StatusPartialFailure only when a task
not marked BestEffort failed.

# Observability

Lifecycle events go to an event.Publisher (WithPublisher), terminal task
outcomes to a ledger.Store (WithLedger), metrics and spans to the
observability recorders (WithMetrics, WithSpans).
*/
package rendergraph
