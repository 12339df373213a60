package rendergraph

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/llm"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/probe"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/worker"
)

// Generator runs a Compute task.
type Generator interface {
	Generate(ctx context.Context, in ComputeInput) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, in ComputeInput) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, in ComputeInput) (string, error) {
	return f(ctx, in)
}

// LLMGenerator generates text with an llm.Client. Multi-item requests are
// constrained to a numbered list.
type LLMGenerator struct {
	Client llm.Client
}

// Generate implements Generator.
func (g LLMGenerator) Generate(ctx context.Context, in ComputeInput) (string, error) {
	req := llm.UserPrompt(in.Prompt)
	req.SystemPrompt = in.System
	req.MaxTokens = in.MaxTokens
	req.Temperature = in.Temperature
	if in.Count > 1 {
		req.Grammar = llm.NumberingGrammar(in.Count)
	}
	resp, err := g.Client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Supervisor owns the worker process. *supervisor.Supervisor implements it.
type Supervisor interface {
	Start(ctx context.Context, cfg supervisor.Config) (*supervisor.Handle, error)
	MarkReady(h *supervisor.Handle) error
	Stop(ctx context.Context, h *supervisor.Handle, grace time.Duration) error
	State() supervisor.State
}

// Worker is the job API of a running worker. *worker.Client implements it.
type Worker interface {
	Ping(ctx context.Context) error
	Submit(ctx context.Context, g *nodegraph.Graph) (*worker.Submission, error)
	WaitForCompletion(ctx context.Context, promptID string, poll, timeout time.Duration) (*worker.HistoryEntry, error)
	Interrupt(ctx context.Context) error
}

// Prober waits for worker readiness. *probe.Probe implements it.
type Prober interface {
	Wait(ctx context.Context) (probe.Outcome, error)
}

// WorkerFactory connects to the worker at baseURL.
type WorkerFactory func(baseURL string) Worker

// ProbeFactory builds the readiness probe for a worker.
type ProbeFactory func(w Worker) Prober

func defaultWorkerFactory(logger *slog.Logger) WorkerFactory {
	return func(baseURL string) Worker {
		return worker.NewClient(baseURL, worker.WithLogger(logger))
	}
}

func defaultProbeFactory(logger *slog.Logger, opts []probe.Option) ProbeFactory {
	return func(w Worker) Prober {
		all := append([]probe.Option{probe.WithLogger(logger)}, opts...)
		return probe.New(probe.CheckerFunc(w.Ping), all...)
	}
}

var (
	_ Supervisor = (*supervisor.Supervisor)(nil)
	_ Worker     = (*worker.Client)(nil)
	_ Prober     = (*probe.Probe)(nil)
)
