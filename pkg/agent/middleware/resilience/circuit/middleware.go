package circuit

import (
	"context"

	"conductor/pkg/agent/llm"
)

// Middleware rejects calls immediately while the circuit is OPEN, giving the
// provider time to recover.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !breaker.Allow() {
					return llm.CompletionResponse{}, &Error{State: breaker.GetState()}
				}
				resp, err := next.Complete(ctx, req)
				breaker.Record(err == nil)
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				if !breaker.Allow() {
					return nil, &Error{State: breaker.GetState()}
				}
				// Only stream establishment counts toward breaker state.
				ch, err := next.Stream(ctx, req)
				breaker.Record(err == nil)
				return ch, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
