package config

import "time"

// Settings is the typed view of a rendergraph configuration file.
//
//	worker:
//	  entry_point: ~/ComfyUI/main.py
//	  port: 8188
//	  workflow: workflows/sd35_api.json
//	probe:
//	  timeout: 3m
//	llm:
//	  model: ~/models/qwen2.5-7b-instruct-q5_k_m.gguf
type Settings struct {
	Worker       WorkerSettings
	Probe        ProbeSettings
	Orchestrator OrchestratorSettings
	LLM          LLMSettings
	Log          LogSettings
	Ledger       LedgerSettings
}

// WorkerSettings describe how to launch and reach the image worker.
type WorkerSettings struct {
	Interpreter   string
	EntryPoint    string
	WorkDir       string
	OutputDir     string
	Host          string
	Port          int
	LowVRAM       bool
	CPUOnly       bool
	ExtraArgs     string
	LogFile       string
	ReuseExisting bool
	// Workflow is the path of the job graph template in API format.
	Workflow      string
	GracePeriod   time.Duration
	KillWait      time.Duration
	SubmitTimeout time.Duration
}

// ProbeSettings tune the readiness poll.
type ProbeSettings struct {
	Timeout        time.Duration
	Interval       time.Duration
	Settle         time.Duration
	RequestTimeout time.Duration
}

// OrchestratorSettings tune batch execution.
type OrchestratorSettings struct {
	ComputeConcurrency int
	WaitForCompletion  bool
	CompletionPoll     time.Duration
	CompletionTimeout  time.Duration
	KeepWorker         bool
	ComputeAttempts    int
}

// LLMSettings describe the local text model used by the Compute phase.
type LLMSettings struct {
	Binary      string
	Model       string
	LibraryPath string
	ContextSize int
	GPULayers   int
	Threads     int
	MaxTokens   int
	Temperature float64
	TopP        float64
	ExtraArgs   string
	Timeout     time.Duration
}

// LogSettings select the CLI log handler.
type LogSettings struct {
	Level  string
	Format string
}

// LedgerSettings locate the task outcome ledger. An empty path keeps
// outcomes in memory only.
type LedgerSettings struct {
	Path string
}

// DefaultSettings returns the settings used for absent keys.
func DefaultSettings() Settings {
	return Settings{
		Worker: WorkerSettings{
			Interpreter:   "python3",
			EntryPoint:    "main.py",
			OutputDir:     "output",
			Host:          "127.0.0.1",
			Port:          8188,
			GracePeriod:   10 * time.Second,
			KillWait:      5 * time.Second,
			SubmitTimeout: 30 * time.Second,
		},
		Probe: ProbeSettings{
			Timeout:        120 * time.Second,
			Interval:       2 * time.Second,
			Settle:         2 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Orchestrator: OrchestratorSettings{
			ComputeConcurrency: 1,
			WaitForCompletion:  true,
			CompletionPoll:     5 * time.Second,
			CompletionTimeout:  24 * time.Hour,
			ComputeAttempts:    2,
		},
		LLM: LLMSettings{
			Binary:      "llama-cli",
			ContextSize: 8192,
			GPULayers:   999,
			MaxTokens:   512,
			Temperature: 0.8,
			TopP:        0.9,
			Timeout:     10 * time.Minute,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// SettingsFrom maps c onto Settings, keeping defaults for absent keys.
func SettingsFrom(c Config) Settings {
	d := DefaultSettings()

	w := c.Section("worker")
	p := c.Section("probe")
	o := c.Section("orchestrator")
	l := c.Section("llm")
	lg := c.Section("log")

	return Settings{
		Worker: WorkerSettings{
			Interpreter:   w.String("interpreter", d.Worker.Interpreter),
			EntryPoint:    w.String("entry_point", d.Worker.EntryPoint),
			WorkDir:       w.String("work_dir", d.Worker.WorkDir),
			OutputDir:     w.String("output_dir", d.Worker.OutputDir),
			Host:          w.String("host", d.Worker.Host),
			Port:          w.Int("port", d.Worker.Port),
			LowVRAM:       w.Bool("low_vram", d.Worker.LowVRAM),
			CPUOnly:       w.Bool("cpu_only", d.Worker.CPUOnly),
			ExtraArgs:     w.String("extra_args", d.Worker.ExtraArgs),
			LogFile:       w.String("log_file", d.Worker.LogFile),
			ReuseExisting: w.Bool("reuse_existing", d.Worker.ReuseExisting),
			Workflow:      w.String("workflow", d.Worker.Workflow),
			GracePeriod:   w.Duration("grace_period", d.Worker.GracePeriod),
			KillWait:      w.Duration("kill_wait", d.Worker.KillWait),
			SubmitTimeout: w.Duration("submit_timeout", d.Worker.SubmitTimeout),
		},
		Probe: ProbeSettings{
			Timeout:        p.Duration("timeout", d.Probe.Timeout),
			Interval:       p.Duration("interval", d.Probe.Interval),
			Settle:         p.Duration("settle", d.Probe.Settle),
			RequestTimeout: p.Duration("request_timeout", d.Probe.RequestTimeout),
		},
		Orchestrator: OrchestratorSettings{
			ComputeConcurrency: o.Int("compute_concurrency", d.Orchestrator.ComputeConcurrency),
			WaitForCompletion:  o.Bool("wait_for_completion", d.Orchestrator.WaitForCompletion),
			CompletionPoll:     o.Duration("completion_poll", d.Orchestrator.CompletionPoll),
			CompletionTimeout:  o.Duration("completion_timeout", d.Orchestrator.CompletionTimeout),
			KeepWorker:         o.Bool("keep_worker", d.Orchestrator.KeepWorker),
			ComputeAttempts:    o.Int("compute_attempts", d.Orchestrator.ComputeAttempts),
		},
		LLM: LLMSettings{
			Binary:      l.String("binary", d.LLM.Binary),
			Model:       l.String("model", d.LLM.Model),
			LibraryPath: l.String("library_path", d.LLM.LibraryPath),
			ContextSize: l.Int("context_size", d.LLM.ContextSize),
			GPULayers:   l.Int("gpu_layers", d.LLM.GPULayers),
			Threads:     l.Int("threads", d.LLM.Threads),
			MaxTokens:   l.Int("max_tokens", d.LLM.MaxTokens),
			Temperature: l.Float("temperature", d.LLM.Temperature),
			TopP:        l.Float("top_p", d.LLM.TopP),
			ExtraArgs:   l.String("extra_args", d.LLM.ExtraArgs),
			Timeout:     l.Duration("timeout", d.LLM.Timeout),
		},
		Log: LogSettings{
			Level:  lg.String("level", d.Log.Level),
			Format: lg.String("format", d.Log.Format),
		},
		Ledger: LedgerSettings{
			Path: c.String("ledger.path", d.Ledger.Path),
		},
	}
}

// LoadSettings reads a YAML or JSON file into Settings. An empty path
// returns the defaults.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	c, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return SettingsFrom(c), nil
}
