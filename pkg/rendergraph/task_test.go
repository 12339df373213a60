package rendergraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/llm"
)

func TestBatchValidate(t *testing.T) {
	compute := func(id string) Task {
		return Task{ID: id, Phase: PhaseCompute, Compute: &ComputeInput{Prompt: "p"}}
	}
	render := func(id string, in RenderInput) Task {
		return Task{ID: id, Phase: PhaseRender, Render: &in}
	}

	tests := []struct {
		name    string
		tasks   []Task
		wantErr string
	}{
		{name: "empty batch", tasks: nil},
		{name: "valid mix", tasks: []Task{compute("c"), render("r", RenderInput{PromptFrom: "c", PromptIndex: 1})}},
		{name: "empty id", tasks: []Task{compute("")}, wantErr: "empty id"},
		{name: "duplicate id", tasks: []Task{compute("a"), compute("a")}, wantErr: "duplicate id"},
		{name: "missing compute input", tasks: []Task{{ID: "c", Phase: PhaseCompute}}, wantErr: "compute input missing"},
		{name: "missing render input", tasks: []Task{{ID: "r", Phase: PhaseRender}}, wantErr: "render input missing"},
		{name: "unknown phase", tasks: []Task{{ID: "x", Phase: "upscale"}}, wantErr: "unknown phase"},
		{
			name:    "prompt and prompt_from",
			tasks:   []Task{compute("c"), render("r", RenderInput{Prompt: "x", PromptFrom: "c"})},
			wantErr: "exclusive",
		},
		{
			name:    "prompt_from later task",
			tasks:   []Task{render("r", RenderInput{PromptFrom: "c"}), compute("c")},
			wantErr: "not an earlier compute task",
		},
		{
			name:    "prompt_from render task",
			tasks:   []Task{render("a", RenderInput{}), render("r", RenderInput{PromptFrom: "a"})},
			wantErr: "not an earlier compute task",
		},
		{name: "negative index", tasks: []Task{render("r", RenderInput{PromptIndex: -1})}, wantErr: "negative prompt_index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Batch{ID: "b", Tasks: tt.tasks}.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidBatch)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStatus(t *testing.T) {
	ok := TaskResult{Outcome: OutcomeSucceeded}
	failed := TaskResult{Outcome: OutcomeFailed}
	optional := TaskResult{Outcome: OutcomeFailed, BestEffort: true}

	tests := []struct {
		name      string
		tasks     []TaskResult
		cancelled bool
		want      Status
	}{
		{name: "empty", want: StatusSucceeded},
		{name: "all succeeded", tasks: []TaskResult{ok, ok}, want: StatusSucceeded},
		{name: "some failed", tasks: []TaskResult{ok, failed}, want: StatusPartialFailure},
		{name: "all failed", tasks: []TaskResult{failed, failed}, want: StatusFailed},
		{name: "best effort only", tasks: []TaskResult{ok, optional}, want: StatusSucceeded},
		{name: "best effort all failed", tasks: []TaskResult{optional}, want: StatusSucceeded},
		{name: "cancelled wins", tasks: []TaskResult{ok, failed}, cancelled: true, want: StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status(tt.tasks, tt.cancelled))
		})
	}
}

func TestBatchResult(t *testing.T) {
	boom := &TaskError{TaskID: "b", Phase: PhaseRender, Err: errors.New("boom")}
	r := &BatchResult{Tasks: []TaskResult{
		{TaskID: "a", Outcome: OutcomeSucceeded},
		{TaskID: "b", Outcome: OutcomeFailed, Err: boom},
		{TaskID: "c", Outcome: OutcomeCancelled},
	}}

	s, f, c := r.Counts()
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{s, f, c})

	got, ok := r.Task("b")
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, got.Outcome)
	_, ok = r.Task("missing")
	assert.False(t, ok)

	err := r.Err()
	assert.ErrorIs(t, err, ErrTaskFailed)
	assert.Contains(t, err.Error(), "render task b: boom")

	assert.NoError(t, (&BatchResult{}).Err())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "partial_failure", StatusPartialFailure.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
	assert.Equal(t, "waiting_ready", StateWaitingReady.String())
}

func TestLLMGenerator(t *testing.T) {
	mock := llm.NewMockClient("1. a\n2. b")
	gen := LLMGenerator{Client: mock}

	out, err := gen.Generate(context.Background(), ComputeInput{
		Prompt:    "two ideas",
		System:    "be brief",
		Count:     2,
		MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "1. a\n2. b", out)

	req := mock.LastCall()
	assert.Equal(t, "be brief", req.SystemPrompt)
	assert.Equal(t, 64, req.MaxTokens)
	assert.Equal(t, llm.NumberingGrammar(2), req.Grammar)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "two ideas", req.Messages[0].Content)

	_, err = gen.Generate(context.Background(), ComputeInput{Prompt: "one"})
	require.NoError(t, err)
	assert.Empty(t, mock.LastCall().Grammar)

	failing := LLMGenerator{Client: llm.NewMockClient("").WithError(llm.NewError("complete", errors.New("oom"), true))}
	_, err = failing.Generate(context.Background(), ComputeInput{Prompt: "x"})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Retryable)
}
