// Package timeout provides per-request deadline middleware for oracle clients.
package timeout

import (
	"context"
	"time"

	"conductor/pkg/agent/llm"
)

// Middleware bounds every request with its own deadline. For streams the
// deadline stays attached until the stream is drained.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				upstream, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, err
				}
				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					defer cancel()
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
