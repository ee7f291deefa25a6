package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/middleware/metrics"
)

func TestAcquireConsumesTokensAndSlot(t *testing.T) {
	l := NewTokenBucketLimiter("anthropic", Config{TokensPerMinute: 1000, MaxConcurrency: 2}, time.Minute)

	release, err := l.Acquire(context.Background(), 100, "conv-1")
	require.NoError(t, err)

	stats := l.GetStats()
	assert.Equal(t, 900, stats.MaxCapacity)
	assert.Equal(t, 800, stats.AvailableTokens)
	assert.Equal(t, 1, stats.ActiveRequests)

	release()
	release()
	stats = l.GetStats()
	assert.Equal(t, 0, stats.ActiveRequests)
	assert.Equal(t, 800, stats.AvailableTokens, "tokens are not refunded")
}

func TestAcquireTimesOutWhenBucketEmpty(t *testing.T) {
	l := NewTokenBucketLimiter("openai", Config{TokensPerMinute: 100, MaxConcurrency: 1, MaxWait: 150 * time.Millisecond}, time.Minute)

	_, err := l.Acquire(context.Background(), 90, "a")
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), 50, "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit acquisition timeout")
	assert.Equal(t, int64(1), l.GetStats().TokenLimitHits)
}

func TestAcquireClampsOversizedRequests(t *testing.T) {
	l := NewTokenBucketLimiter("ollama", Config{TokensPerMinute: 100, MaxConcurrency: 1}, time.Minute)

	release, err := l.Acquire(context.Background(), 10_000, "big")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, 0, l.GetStats().AvailableTokens)
}

func TestAcquireWaitsForSlot(t *testing.T) {
	l := NewTokenBucketLimiter("google", Config{TokensPerMinute: 10_000, MaxConcurrency: 1}, time.Minute)

	release, err := l.Acquire(context.Background(), 1, "first")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	second, err := l.Acquire(context.Background(), 1, "second")
	require.NoError(t, err)
	second()
	assert.Equal(t, int64(1), l.GetStats().ConcurrencyHits)
}

func TestAcquireHonoursCancellation(t *testing.T) {
	l := NewTokenBucketLimiter("google", Config{TokensPerMinute: 10_000, MaxConcurrency: 1}, time.Minute)
	_, err := l.Acquire(context.Background(), 1, "holder")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, 1, "waiter")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleSlotsAreReclaimed(t *testing.T) {
	l := NewTokenBucketLimiter("anthropic", Config{TokensPerMinute: 10_000, MaxConcurrency: 1}, time.Second)
	current := time.Now()
	l.now = func() time.Time { return current }

	_, err := l.Acquire(context.Background(), 1, "leaky")
	require.NoError(t, err)

	current = current.Add(3 * time.Second)
	release, err := l.Acquire(context.Background(), 1, "next")
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, l.GetStats().TrackedAcquisitions)
}

func TestRefillCapsAtCapacity(t *testing.T) {
	l := NewTokenBucketLimiter("anthropic", Config{TokensPerMinute: 1000, MaxConcurrency: 1}, time.Minute)
	release, err := l.Acquire(context.Background(), 500, "c")
	require.NoError(t, err)
	release()

	l.refill()
	assert.Equal(t, 500, l.GetStats().AvailableTokens)
	for i := 0; i < 10; i++ {
		l.refill()
	}
	assert.Equal(t, 900, l.GetStats().AvailableTokens)
}

type fixedEstimator int

func (f fixedEstimator) EstimatePrompt(llm.CompletionRequest) int { return int(f) }

func TestMiddlewareReleasesAfterStream(t *testing.T) {
	l := NewTokenBucketLimiter("anthropic", Config{TokensPerMinute: 10_000, MaxConcurrency: 1}, time.Minute)
	base := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "ok"}, nil
		},
		func(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			ch := make(chan llm.StreamChunk, 2)
			ch <- llm.StreamChunk{Content: "hi"}
			ch <- llm.StreamChunk{Done: true}
			close(ch)
			return ch, nil
		},
		func() string { return "claude" },
	)
	client := llm.Chain(base, Middleware(l, fixedEstimator(10), metrics.Nop()))

	req := llm.CompletionRequest{MaxTokens: 5}
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 0, l.GetStats().ActiveRequests)
	assert.Equal(t, 9000-15, l.GetStats().AvailableTokens)

	ch, err := client.Stream(context.Background(), req)
	require.NoError(t, err)
	for range ch {
	}
	assert.Eventually(t, func() bool { return l.GetStats().ActiveRequests == 0 }, time.Second, 5*time.Millisecond)
}
