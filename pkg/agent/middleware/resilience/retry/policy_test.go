package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
	"conductor/pkg/agent/middleware/resilience/circuit"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("op: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"circuit open", &circuit.Error{State: circuit.Open}, false},
		{"auth", llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"), false},
		{"bad prompt", llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long"), false},
		{"service unavailable", llmerrors.NewServiceUnavailableError(errors.New("x"), 3), false},
		{"rate limit", llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow"), true},
		{"transient", llmerrors.NewError(llmerrors.ErrorTypeTransient, "eof"), true},
		{"connection string", errors.New("connection reset by peer"), true},
		{"503 string", errors.New("HTTP 503"), true},
		{"400 string", errors.New("HTTP 400 bad request"), false},
		{"unknown string", errors.New("weird"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)

	assert.Equal(t, time.Duration(0), p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4))
}

func TestCalculateDelayJitterBounded(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2, Jitter: true}, nil)
	for i := 0; i < 20; i++ {
		d := p.CalculateDelay(2)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

func flakyClient(failures int, err error) (llm.LLMClient, *int) {
	calls := 0
	return llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			if calls <= failures {
				return llm.CompletionResponse{}, err
			}
			return llm.CompletionResponse{Content: "ok"}, nil
		},
		func(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			calls++
			if calls <= failures {
				return nil, err
			}
			ch := make(chan llm.StreamChunk)
			close(ch)
			return ch, nil
		},
		func() string { return "m" },
	), &calls
}

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
}

func TestMiddlewareRetriesUntilSuccess(t *testing.T) {
	base, calls := flakyClient(2, llmerrors.NewError(llmerrors.ErrorTypeTransient, "503"))
	client := llm.Chain(base, Middleware(fastPolicy(3)))

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, *calls)
}

func TestMiddlewareExhaustsToServiceUnavailable(t *testing.T) {
	base, calls := flakyClient(10, llmerrors.NewError(llmerrors.ErrorTypeTransient, "503"))
	client := llm.Chain(base, Middleware(fastPolicy(3)))

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 3, *calls)
}

func TestMiddlewareDoesNotRetryPermanentErrors(t *testing.T) {
	authErr := llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	base, calls := flakyClient(10, authErr)
	client := llm.Chain(base, Middleware(fastPolicy(3)))

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, *calls)
}

func TestMiddlewareStreamRetries(t *testing.T) {
	base, calls := flakyClient(1, errors.New("connection refused"))
	client := llm.Chain(base, Middleware(fastPolicy(2)))

	_, err := client.Stream(context.Background(), llm.NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestMiddlewareStopsWhenContextCancelled(t *testing.T) {
	base, calls := flakyClient(10, errors.New("timeout talking to provider"))
	client := llm.Chain(base, Middleware(NewPolicy(Config{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 1}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Complete(ctx, llm.NewCompletionRequest(nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *calls)
}
