package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/config"
	rgerrors "github.com/randalmurphal/rendergraph/pkg/rendergraph/errors"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/event"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/ledger"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/llm"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/observability"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/probe"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
)

// errBatchFailed makes the process exit non-zero when a required task failed.
var errBatchFailed = errors.New("batch did not succeed")

type runOptions struct {
	root *rootOptions

	keepWorker bool
	workflow   string
	ledgerPath string
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.keepWorker, "keep-worker", false, "leave the worker running after the batch")
	cmd.Flags().StringVar(&o.workflow, "workflow", "", "workflow template in API format (overrides worker.workflow)")
	cmd.Flags().StringVar(&o.ledgerPath, "ledger", "", "sqlite ledger path (overrides ledger.path)")
}

func (o *runOptions) run(ctx context.Context, out io.Writer, batchPath string) error {
	s := o.root.settings
	logger := o.root.logger

	if o.workflow != "" {
		s.Worker.Workflow = o.workflow
	}
	if o.ledgerPath != "" {
		s.Ledger.Path = o.ledgerPath
	}

	b, err := rendergraph.LoadBatchFile(batchPath)
	if err != nil {
		return err
	}
	if o.keepWorker {
		b.KeepWorker = true
	}

	var tmpl *nodegraph.Graph
	if s.Worker.Workflow != "" {
		if tmpl, err = nodegraph.FromFile(s.Worker.Workflow); err != nil {
			return err
		}
	}

	store, err := openLedger(s.Ledger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close ledger", slog.Any("error", err))
		}
	}()

	bus := event.NewBus(event.BusConfig{
		NonBlocking: true,
		OnDrop: func(evt event.Event, _ string) {
			logger.Debug("event dropped", slog.String("type", evt.Type))
		},
	})
	defer func() { _ = bus.Close() }()
	bus.SubscribeAll(event.HandlerFunc(func(_ context.Context, evt event.Event) error {
		logger.Debug("event",
			slog.String("type", evt.Type),
			slog.String("batch_id", evt.BatchID),
			slog.String("task_id", evt.TaskID),
			slog.Any("payload", evt.Payload),
		)
		return nil
	}))

	metrics := observability.NewMetricsRecorder()
	sup := newSupervisor(s.Worker, logger, metrics)

	orch := rendergraph.New(orchestratorConfig(s, tmpl), newGenerator(s.LLM), sup,
		rendergraph.WithLogger(logger),
		rendergraph.WithMetrics(metrics),
		rendergraph.WithSpans(observability.NewSpanManager()),
		rendergraph.WithPublisher(bus),
		rendergraph.WithLedger(store),
		rendergraph.WithProbeOptions(
			probe.WithTimeout(s.Probe.Timeout),
			probe.WithInterval(s.Probe.Interval),
			probe.WithSettle(s.Probe.Settle),
			probe.WithRequestTimeout(s.Probe.RequestTimeout),
		),
	)

	res, err := orch.Run(ctx, b)
	if err != nil {
		return err
	}
	printResult(out, res)

	if res.Status != rendergraph.StatusSucceeded {
		return fmt.Errorf("%w: %s", errBatchFailed, res.Status)
	}
	return nil
}

func orchestratorConfig(s config.Settings, tmpl *nodegraph.Graph) rendergraph.Config {
	w := s.Worker
	return rendergraph.Config{
		Worker: supervisor.Config{
			Interpreter:   w.Interpreter,
			EntryPoint:    w.EntryPoint,
			WorkDir:       w.WorkDir,
			OutputDir:     w.OutputDir,
			Host:          w.Host,
			Port:          w.Port,
			LowVRAM:       w.LowVRAM,
			CPUOnly:       w.CPUOnly,
			ExtraArgs:     w.ExtraArgs,
			LogFile:       w.LogFile,
			ReuseExisting: w.ReuseExisting,
		},
		Template:           tmpl,
		GracePeriod:        w.GracePeriod,
		SubmitTimeout:      w.SubmitTimeout,
		ComputeConcurrency: s.Orchestrator.ComputeConcurrency,
		ComputeRetry:       rgerrors.NewRetryConfig(rgerrors.WithMaxAttempts(s.Orchestrator.ComputeAttempts)),
		WaitForCompletion:  s.Orchestrator.WaitForCompletion,
		CompletionPoll:     s.Orchestrator.CompletionPoll,
		CompletionTimeout:  s.Orchestrator.CompletionTimeout,
		KeepWorker:         s.Orchestrator.KeepWorker,
	}
}

func newSupervisor(w config.WorkerSettings, logger *slog.Logger, metrics observability.MetricsRecorder) *supervisor.Supervisor {
	return supervisor.New(
		supervisor.WithLogger(logger),
		supervisor.WithMetrics(metrics),
		supervisor.WithKillWait(w.KillWait),
	)
}

// newGenerator returns nil without a model; batches with Compute tasks
// are then rejected by the orchestrator.
func newGenerator(l config.LLMSettings) rendergraph.Generator {
	if l.Model == "" {
		return nil
	}
	return rendergraph.LLMGenerator{Client: llm.NewLlamaCLI(l.Model,
		llm.WithBinary(l.Binary),
		llm.WithLibraryPath(l.LibraryPath),
		llm.WithContextSize(l.ContextSize),
		llm.WithGPULayers(l.GPULayers),
		llm.WithThreads(l.Threads),
		llm.WithMaxTokens(l.MaxTokens),
		llm.WithTemperature(l.Temperature),
		llm.WithTopP(l.TopP),
		llm.WithExtraArgs(l.ExtraArgs),
		llm.WithTimeout(l.Timeout),
	)}
}

func openLedger(l config.LedgerSettings) (ledger.Store, error) {
	if l.Path == "" {
		return ledger.NewMemoryStore(), nil
	}
	return ledger.NewSQLiteStore(l.Path)
}

func printResult(out io.Writer, res *rendergraph.BatchResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPHASE\tOUTCOME\tDURATION\tDETAIL")
	for _, t := range res.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.TaskID, t.Phase, t.Outcome, t.Duration().Round(time.Millisecond), detail(t))
	}
	_ = tw.Flush()

	succeeded, failed, cancelled := res.Counts()
	fmt.Fprintf(out, "\nbatch %s: %s (%d succeeded, %d failed, %d cancelled) in %s\n",
		res.BatchID, res.Status, succeeded, failed, cancelled, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %v\n", w)
	}
}

func detail(t rendergraph.TaskResult) string {
	switch {
	case t.Err != nil:
		return t.Err.Error()
	case len(t.Images) > 0:
		return strings.Join(t.Images, ", ")
	case t.PromptID != "":
		return "prompt " + t.PromptID
	case len(t.Items) > 0:
		return fmt.Sprintf("%d items", len(t.Items))
	default:
		return oneLine(t.Output, 60)
	}
}

// oneLine collapses whitespace and truncates s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func newCmdRun(root *rootOptions) *cobra.Command {
	o := &runOptions{root: root}

	cmd := &cobra.Command{
		Use:   "run <batch.yaml>",
		Short: "Run a batch: compute tasks first, then render tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
	o.addFlags(cmd)
	return cmd
}
