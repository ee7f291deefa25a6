package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/agent/llm"
)

func slowClient(delay time.Duration) llm.LLMClient {
	return llm.WrapClient(
		func(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			select {
			case <-ctx.Done():
				return llm.CompletionResponse{}, ctx.Err()
			case <-time.After(delay):
				return llm.CompletionResponse{Content: "done"}, nil
			}
		},
		func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			ch := make(chan llm.StreamChunk, 1)
			go func() {
				defer close(ch)
				select {
				case <-ctx.Done():
					ch <- llm.StreamChunk{Error: ctx.Err(), Done: true}
				case <-time.After(delay):
					ch <- llm.StreamChunk{Content: "done", Done: true}
				}
			}()
			return ch, nil
		},
		func() string { return "slow" },
	)
}

func TestCompleteTimesOut(t *testing.T) {
	client := llm.Chain(slowClient(time.Second), Middleware(20*time.Millisecond))
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompleteWithinDeadline(t *testing.T) {
	client := llm.Chain(slowClient(time.Millisecond), Middleware(time.Second))
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
}

func TestStreamKeepsDeadlineUntilDrained(t *testing.T) {
	client := llm.Chain(slowClient(10*time.Millisecond), Middleware(time.Second))
	ch, err := client.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	chunk := <-ch
	require.NoError(t, chunk.Error)
	assert.Equal(t, "done", chunk.Content)
}

func TestZeroDurationDisablesDeadline(t *testing.T) {
	client := llm.Chain(slowClient(30*time.Millisecond), Middleware(0))
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
}
