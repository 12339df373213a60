package rendergraph_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/chain"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/event"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/ledger"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/probe"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/worker"
)

// fakeSupervisor tracks lifecycle calls without any process.
type fakeSupervisor struct {
	mu        sync.Mutex
	state     supervisor.State
	handle    *supervisor.Handle
	starts    int
	stops     int
	startedAt time.Time
	startErr  error
	stopErr   error
}

func (s *fakeSupervisor) Start(_ context.Context, cfg supervisor.Config) (*supervisor.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == supervisor.StateStarting || s.state == supervisor.StateReady {
		return s.handle, nil
	}
	if s.startErr != nil {
		s.state = supervisor.StateFailed
		return nil, s.startErr
	}
	s.starts++
	s.startedAt = time.Now()
	s.handle = &supervisor.Handle{
		ID:        uuid.NewString(),
		Pid:       4242,
		Address:   cfg.Address(),
		BaseURL:   cfg.BaseURL(),
		StartedAt: s.startedAt,
	}
	s.state = supervisor.StateStarting
	return s.handle, nil
}

func (s *fakeSupervisor) MarkReady(h *supervisor.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil || s.handle == nil || h.ID != s.handle.ID {
		return supervisor.ErrStaleHandle
	}
	if s.state != supervisor.StateStarting {
		return supervisor.ErrNotStarting
	}
	s.state = supervisor.StateReady
	return nil
}

func (s *fakeSupervisor) Stop(_ context.Context, _ *supervisor.Handle, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == supervisor.StateStopped {
		return nil
	}
	s.stops++
	if s.stopErr != nil {
		s.state = supervisor.StateFailed
		return s.stopErr
	}
	s.state = supervisor.StateStopped
	s.handle = nil
	return nil
}

func (s *fakeSupervisor) State() supervisor.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// crash simulates the worker dying on its own.
func (s *fakeSupervisor) crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = supervisor.StateFailed
	s.handle = nil
}

func (s *fakeSupervisor) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

// fakeWorker records submitted graphs.
type fakeWorker struct {
	mu         sync.Mutex
	pingErr    error
	graphs     []*nodegraph.Graph
	submitted  []time.Time
	reject     map[string]bool // prompt text -> reject
	waitBlock  bool
	waitErr    error
	interrupts int
	submitHook func()
}

func (w *fakeWorker) Ping(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pingErr
}

func (w *fakeWorker) Submit(_ context.Context, g *nodegraph.Graph) (*worker.Submission, error) {
	w.mu.Lock()
	w.graphs = append(w.graphs, g.Clone())
	w.submitted = append(w.submitted, time.Now())
	n := len(w.graphs)
	hook := w.submitHook
	rejected := w.reject[promptOf(g)]
	w.mu.Unlock()

	if hook != nil {
		hook()
	}
	if rejected {
		return nil, &worker.GraphValidationError{StatusCode: 400, Type: "prompt_outputs_failed_validation", Message: "bad graph"}
	}
	return &worker.Submission{PromptID: fmt.Sprintf("prompt-%d", n), Number: n}, nil
}

func (w *fakeWorker) WaitForCompletion(ctx context.Context, promptID string, _, _ time.Duration) (*worker.HistoryEntry, error) {
	w.mu.Lock()
	block, err := w.waitBlock, w.waitErr
	w.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &worker.HistoryEntry{
		PromptID: promptID,
		Outputs: map[string]worker.NodeOutputs{
			"9": {Images: []worker.Image{{Filename: promptID + "_00001_.png", Subfolder: "batch", Type: "output"}}},
		},
	}, nil
}

func (w *fakeWorker) Interrupt(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interrupts++
	return nil
}

func (w *fakeWorker) submittedGraphs() []*nodegraph.Graph {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*nodegraph.Graph(nil), w.graphs...)
}

// promptOf returns the text of node "6", the positive encoder of the
// test workflow.
func promptOf(g *nodegraph.Graph) string {
	n, ok := g.Node("6")
	if !ok {
		return ""
	}
	s, _ := n.Inputs["text"].Value().(string)
	return s
}

func loadTemplate(t *testing.T) *nodegraph.Graph {
	t.Helper()
	g, err := nodegraph.FromFile("nodegraph/testdata/workflow_api.json")
	require.NoError(t, err)
	return g
}

// harness wires an orchestrator to fakes, an event recorder and a ledger.
type harness struct {
	sup    *fakeSupervisor
	worker *fakeWorker
	bus    *event.LocalBus
	rec    *event.Recorder
	store  *ledger.MemoryStore
	orch   *rendergraph.Orchestrator

	cfg  rendergraph.Config
	gen  rendergraph.Generator
	opts []rendergraph.Option
}

func newHarness(t *testing.T, cfg rendergraph.Config, gen rendergraph.Generator, opts ...rendergraph.Option) *harness {
	t.Helper()

	h := &harness{
		sup:    &fakeSupervisor{},
		worker: &fakeWorker{},
		bus:    event.NewBus(event.BusConfig{BufferSize: 1024}),
		rec:    &event.Recorder{},
		store:  ledger.NewMemoryStore(),
	}
	h.bus.SubscribeAll(h.rec)
	t.Cleanup(func() { _ = h.bus.Close() })

	if cfg.Template == nil {
		cfg.Template = loadTemplate(t)
	}
	cfg.Worker.Port = 8188

	all := append([]rendergraph.Option{
		rendergraph.WithPublisher(h.bus),
		rendergraph.WithLedger(h.store),
		rendergraph.WithWorkerFactory(func(string) rendergraph.Worker { return h.worker }),
		rendergraph.WithProbeOptions(
			probe.WithInterval(2*time.Millisecond),
			probe.WithTimeout(200*time.Millisecond),
		),
	}, opts...)
	h.cfg, h.gen, h.opts = cfg, gen, all
	h.orch = rendergraph.New(cfg, gen, h.sup, all...)
	return h
}

// useSupervisor rebuilds the orchestrator around sup.
func (h *harness) useSupervisor(sup rendergraph.Supervisor) {
	h.orch = rendergraph.New(h.cfg, h.gen, sup, h.opts...)
}

// crashingProcess is a launched worker that exits on SIGTERM, on Kill or
// when crash is called.
type crashingProcess struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newCrashingProcess() *crashingProcess {
	return &crashingProcess{done: make(chan struct{})}
}

func (p *crashingProcess) Pid() int { return 4343 }

func (p *crashingProcess) Signal(os.Signal) error {
	p.exit(nil)
	return nil
}

func (p *crashingProcess) Kill() error {
	p.exit(nil)
	return nil
}

func (p *crashingProcess) Done() <-chan struct{} { return p.done }

// ExitErr is only read after Done is closed.
func (p *crashingProcess) ExitErr() error { return p.err }

func (p *crashingProcess) crash() { p.exit(errors.New("exit status 139")) }

func (p *crashingProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

type crashingLauncher struct {
	proc *crashingProcess
}

func (l crashingLauncher) Launch(context.Context, supervisor.Config) (supervisor.Process, error) {
	return l.proc, nil
}

// events flushes the bus and returns everything published.
func (h *harness) events() []event.Event {
	_ = h.bus.Close()
	return h.rec.Events()
}

// scriptedGenerator answers by prompt with optional latency.
type scriptedGenerator struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
	calls   map[string]int
}

func (g *scriptedGenerator) Generate(ctx context.Context, in rendergraph.ComputeInput) (string, error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[in.Prompt]++
	delay := g.delays[in.Prompt]
	err := g.errs[in.Prompt]
	out, ok := g.outputs[in.Prompt]
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		out = "generated: " + in.Prompt
	}
	return out, nil
}

func computeTask(id, prompt string) rendergraph.Task {
	return rendergraph.Task{ID: id, Phase: rendergraph.PhaseCompute, Compute: &rendergraph.ComputeInput{Prompt: prompt}}
}

func renderTask(id, prompt string, modifiers int) rendergraph.Task {
	specs := make([]chain.ModifierSpec, 0, modifiers)
	for i := range modifiers {
		specs = append(specs, chain.ModifierSpec{Name: fmt.Sprintf("style_%d.safetensors", i+1), ModelStrength: 0.8, ClipStrength: 0.6})
	}
	return rendergraph.Task{ID: id, Phase: rendergraph.PhaseRender, Render: &rendergraph.RenderInput{Prompt: prompt, Modifiers: specs}}
}
