package ratelimit

import (
	"context"
	"time"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/middleware/metrics"
	"conductor/pkg/logx"
)

// Middleware wraps an oracle client with token and concurrency limiting.
// The slot is held until Complete returns or the stream is drained.
func Middleware(limiter Limiter, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = NewDefaultTokenEstimator()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		acquire := func(ctx context.Context, req llm.CompletionRequest) (func(), error) {
			model := next.GetModelName()
			needed := estimator.EstimatePrompt(req) + req.MaxTokens

			start := time.Now()
			release, err := limiter.Acquire(ctx, needed, logx.ConversationFrom(ctx))
			recorder.ObserveQueueWait(model, time.Since(start))
			if err != nil {
				recorder.IncThrottle(model, "rate_limit")
				return nil, err
			}
			return release, nil
		}

		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				release, err := acquire(ctx, req)
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()
				return next.Complete(ctx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				release, err := acquire(ctx, req)
				if err != nil {
					return nil, err
				}
				upstream, err := next.Stream(ctx, req)
				if err != nil {
					release()
					return nil, err
				}
				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					defer release()
					for chunk := range upstream {
						out <- chunk
					}
				}()
				return out, nil
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
