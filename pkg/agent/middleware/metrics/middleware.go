package metrics

import (
	"context"
	"errors"
	"time"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
	"conductor/pkg/agent/middleware/resilience/circuit"
	"conductor/pkg/logx"
	"conductor/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with tiktoken.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText), utils.CountTokensSimple(resp.Content)
}

// Middleware records latency, token usage and failures for oracle calls.
// Conversation and stage labels come from the request context.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}

				conversationID := logx.ConversationFrom(ctx)
				stage := llm.StageFrom(ctx)
				recorder.ObserveRequest(model, conversationID, stage,
					promptTokens, completionTokens, err == nil, getErrorType(err), duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Info("🎯 LLM Request: model=%s conversation=%s stage=%s tokens=%d+%d=%d status=%s duration=%dms",
						model, conversationID, stage, promptTokens, completionTokens,
						promptTokens+completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				model := next.GetModelName()

				ch, err := next.Stream(ctx, req)

				// Only stream setup is measured; tokens would require draining the stream.
				recorder.ObserveRequest(model, logx.ConversationFrom(ctx), llm.StageFrom(ctx),
					0, 0, err == nil, getErrorType(err), time.Since(start))

				return ch, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

// getErrorType classifies errors for metrics labeling.
func getErrorType(err error) string {
	if err == nil {
		return ""
	}

	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}
	return "unknown"
}
