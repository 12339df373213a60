package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/llm"
)

func TestMockClient_Complete(t *testing.T) {
	mock := llm.NewMockClient("1. a fox")

	resp, err := mock.Complete(context.Background(), llm.UserPrompt("one prompt please"))
	require.NoError(t, err)
	assert.Equal(t, "1. a fox", resp.Content)
	assert.Equal(t, "mock", resp.Model)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, "one prompt please", mock.LastCall().Messages[0].Content)
}

func TestMockClient_WithResponses(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("first", "second")
	ctx := context.Background()

	var got []string
	for range 3 {
		resp, err := mock.Complete(ctx, llm.UserPrompt("x"))
		require.NoError(t, err)
		got = append(got, resp.Content)
	}
	assert.Equal(t, []string{"first", "second", "first"}, got)

	mock.Reset()
	assert.Zero(t, mock.CallCount())
	assert.Nil(t, mock.LastCall())
	resp, err := mock.Complete(ctx, llm.UserPrompt("x"))
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)
}

func TestMockClient_WithError(t *testing.T) {
	boom := errors.New("boom")
	mock := llm.NewMockClient("unused").WithError(boom)

	_, err := mock.Complete(context.Background(), llm.UserPrompt("x"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mock.CallCount())
}

func TestMockClient_WithCompleteFunc(t *testing.T) {
	mock := llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "echo: " + req.Messages[0].Content}, nil
	})

	resp, err := mock.Complete(context.Background(), llm.UserPrompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp.Content)
}

func TestMockClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := llm.NewMockClient("x")
	_, err := mock.Complete(ctx, llm.UserPrompt("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mock.CallCount())
}

func TestMockClient_Concurrent(t *testing.T) {
	mock := llm.NewMockClient("ok")
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Complete(context.Background(), llm.UserPrompt("x"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, mock.CallCount())
}

func TestTokenUsage_Add(t *testing.T) {
	u := llm.TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	u.Add(llm.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	assert.Equal(t, llm.TokenUsage{InputTokens: 11, OutputTokens: 22, TotalTokens: 33}, u)
}
