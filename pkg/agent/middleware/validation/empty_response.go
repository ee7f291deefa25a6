// Package validation provides response validation middleware for oracle clients.
package validation

import (
	"context"
	"strings"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
	"conductor/pkg/logx"
)

// maxEmptyAttempts is the original call plus one retry with guidance.
const maxEmptyAttempts = 2

// promptLogChars bounds how much of each message is logged on failure.
const promptLogChars = 2000

// guidance is appended as a user message when the oracle answered with nothing.
//
//nolint:gochecknoglobals // Stage-keyed lookup table
var guidance = map[string]string{
	llm.StageClassify: "No response received. Reply with the JSON classification object only.",
	llm.StagePlan:     "No response received. Reply with the JSON plan object only.",
	llm.StageGenerate: "No response received. Reply with the complete artifact content only.",
	llm.StageRecover:  "No response received. Reply with the JSON error analysis object only.",
}

// EmptyResponseMiddleware retries a blank completion once with stage-specific
// guidance and returns ErrorTypeEmptyResponse if the retry is also blank.
func EmptyResponseMiddleware() llm.Middleware {
	logger := logx.NewLogger("empty-response-validator")

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				stage := llm.StageFrom(ctx)

				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err
					}
					if err == nil && strings.TrimSpace(resp.Content) != "" {
						return resp, nil
					}

					logger.Warn("⚠️ EMPTY RESPONSE DETECTED (attempt %d/%d, stage %s, conversation %s)",
						attempt, maxEmptyAttempts, stage, logx.ConversationFrom(ctx))

					if attempt < maxEmptyAttempts {
						req.Messages = append(append([]llm.CompletionMessage(nil), req.Messages...),
							llm.NewUserMessage(guidanceFor(stage)))
					}
				}

				logPrompt(logger, req)
				return llm.CompletionResponse{}, llmerrors.NewError(
					llmerrors.ErrorTypeEmptyResponse,
					"received empty response after guidance",
				)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return next.Stream(ctx, req)
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func guidanceFor(stage string) string {
	if g, ok := guidance[stage]; ok {
		return g
	}
	return "No response received, please try again."
}

//nolint:gocritic // Logging helper takes the request by value
func logPrompt(logger *logx.Logger, req llm.CompletionRequest) {
	logger.Error("🚨 EMPTY RESPONSE FROM ORACLE (temperature %.2f, max tokens %d)", req.Temperature, req.MaxTokens)
	for i := range req.Messages {
		logger.Error("Message [%d] %s: %s", i, req.Messages[i].Role,
			llmerrors.SanitizePrompt(req.Messages[i].Content, promptLogChars))
	}
}
