package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// LlamaCLI implements Client by running a llama.cpp CLI binary per request.
type LlamaCLI struct {
	path        string
	model       string
	libraryPath string
	workdir     string
	contextSize int
	gpuLayers   int
	threads     int
	maxTokens   int
	temperature float64
	topP        float64
	extraArgs   string
	timeout     time.Duration
}

// LlamaOption configures LlamaCLI.
type LlamaOption func(*LlamaCLI)

// NewLlamaCLI creates a client for the GGUF model at model.
// Assumes "llama-cli" is in PATH unless overridden with WithBinary.
func NewLlamaCLI(model string, opts ...LlamaOption) *LlamaCLI {
	c := &LlamaCLI{
		path:        "llama-cli",
		model:       model,
		contextSize: 8192,
		gpuLayers:   999,
		threads:     runtime.NumCPU(),
		maxTokens:   512,
		temperature: 0.8,
		topP:        0.9,
		timeout:     10 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBinary sets the path to the llama.cpp binary.
func WithBinary(path string) LlamaOption {
	return func(c *LlamaCLI) {
		if path != "" {
			c.path = path
		}
	}
}

// WithLibraryPath prepends dir to LD_LIBRARY_PATH for the binary.
func WithLibraryPath(dir string) LlamaOption {
	return func(c *LlamaCLI) { c.libraryPath = dir }
}

// WithWorkdir sets the working directory of the binary.
func WithWorkdir(dir string) LlamaOption {
	return func(c *LlamaCLI) { c.workdir = dir }
}

// WithContextSize sets -c.
func WithContextSize(n int) LlamaOption {
	return func(c *LlamaCLI) {
		if n > 0 {
			c.contextSize = n
		}
	}
}

// WithGPULayers sets -ngl. Zero keeps the model on the CPU.
func WithGPULayers(n int) LlamaOption {
	return func(c *LlamaCLI) {
		if n >= 0 {
			c.gpuLayers = n
		}
	}
}

// WithThreads sets -t.
func WithThreads(n int) LlamaOption {
	return func(c *LlamaCLI) {
		if n > 0 {
			c.threads = n
		}
	}
}

// WithMaxTokens sets the default -n.
func WithMaxTokens(n int) LlamaOption {
	return func(c *LlamaCLI) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the default --temp.
func WithTemperature(t float64) LlamaOption {
	return func(c *LlamaCLI) {
		if t > 0 {
			c.temperature = t
		}
	}
}

// WithTopP sets the default --top_p.
func WithTopP(p float64) LlamaOption {
	return func(c *LlamaCLI) {
		if p > 0 {
			c.topP = p
		}
	}
}

// WithExtraArgs appends shell-quoted arguments to every invocation.
func WithExtraArgs(args string) LlamaOption {
	return func(c *LlamaCLI) { c.extraArgs = args }
}

// WithTimeout bounds one invocation.
func WithTimeout(d time.Duration) LlamaOption {
	return func(c *LlamaCLI) { c.timeout = d }
}

// Complete implements Client.
func (c *LlamaCLI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	grammarPath, cleanup, err := writeGrammar(req.Grammar)
	if err != nil {
		return nil, NewError("complete", err, false)
	}
	defer cleanup()

	args, err := c.buildArgs(req, grammarPath)
	if err != nil {
		return nil, NewError("complete", err, false)
	}

	cmd := exec.CommandContext(ctx, c.path, args...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}
	cmd.Env = c.env()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		errMsg := strings.TrimSpace(stderr.String())
		return nil, NewError("complete", fmt.Errorf("%w: %s", err, lastLines(errMsg, 5)), isRetryableError(errMsg))
	}

	resp := c.parseResponse(stdout.Bytes())
	if resp.Content == "" {
		return nil, NewError("complete", errors.New("empty output"), true)
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

// buildArgs constructs CLI arguments from a request.
func (c *LlamaCLI) buildArgs(req CompletionRequest, grammarPath string) ([]string, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	if model == "" {
		return nil, errors.New("no model configured")
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temp := c.temperature
	if req.Temperature > 0 {
		temp = req.Temperature
	}
	topP := c.topP
	if req.TopP > 0 {
		topP = req.TopP
	}

	args := []string{
		"-m", model,
		"--temp", formatFloat(temp),
		"--top_p", formatFloat(topP),
		"-c", strconv.Itoa(c.contextSize),
		"-n", strconv.Itoa(maxTokens),
		"-p", buildPrompt(req),
		"-ngl", strconv.Itoa(c.gpuLayers),
		"-t", strconv.Itoa(c.threads),
		"--no-conversation",
		"--no-display-prompt",
	}
	if grammarPath != "" {
		args = append(args, "--grammar-file", grammarPath)
	}
	if c.extraArgs != "" {
		extra, err := shellwords.Parse(c.extraArgs)
		if err != nil {
			return nil, fmt.Errorf("extra args: %w", err)
		}
		args = append(args, extra...)
	}
	return args, nil
}

// buildPrompt flattens the conversation into the single -p prompt.
func buildPrompt(req CompletionRequest) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleUser:
			b.WriteString(msg.Content)
			b.WriteString("\n")
		case RoleAssistant:
			b.WriteString("\nAssistant: ")
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func (c *LlamaCLI) env() []string {
	env := os.Environ()
	if c.libraryPath == "" {
		return env
	}
	lib := c.libraryPath
	if cur := os.Getenv("LD_LIBRARY_PATH"); cur != "" {
		lib += string(os.PathListSeparator) + cur
	}
	return append(env, "LD_LIBRARY_PATH="+lib)
}

var endOfText = regexp.MustCompile(`(?i)\[end of text\]\s*$`)

// parseResponse extracts the generated text from CLI output.
func (c *LlamaCLI) parseResponse(data []byte) *CompletionResponse {
	content := strings.TrimSpace(string(data))
	content = strings.TrimSpace(endOfText.ReplaceAllString(content, ""))
	return &CompletionResponse{
		Content:      content,
		FinishReason: "stop",
		Model:        c.model,
	}
}

func writeGrammar(grammar string) (string, func(), error) {
	if grammar == "" {
		return "", func() {}, nil
	}
	f, err := os.CreateTemp("", "rendergraph-*.gbnf")
	if err != nil {
		return "", nil, fmt.Errorf("write grammar: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(grammar); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write grammar: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write grammar: %w", err)
	}
	return f.Name(), cleanup, nil
}

// isRetryableError checks if stderr indicates a transient failure.
func isRetryableError(errMsg string) bool {
	errLower := strings.ToLower(errMsg)
	return strings.Contains(errLower, "out of memory") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "resource temporarily unavailable") ||
		strings.Contains(errLower, "device busy")
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
