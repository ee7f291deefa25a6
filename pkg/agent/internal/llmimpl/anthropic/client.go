// Package anthropic provides the Anthropic Claude oracle client.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw Claude client. Middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation extracts system prompts and merges consecutive
// same-role messages so the conversation strictly alternates user/assistant,
// starting and ending with the user.
func ensureAlternation(messages []llm.CompletionMessage) (string, []llm.CompletionMessage, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	merged := make([]llm.CompletionMessage, 0, len(messages))
	for i := range messages {
		msg := messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
			continue
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return "", nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
		if n := len(merged); n > 0 && merged[n-1].Role == msg.Role {
			merged[n-1].Content += "\n\n" + msg.Content
			continue
		}
		merged = append(merged, msg)
	}

	if len(merged) == 0 {
		return "", nil, fmt.Errorf("no user message after extracting system prompt")
	}
	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if last := merged[len(merged)-1]; last.Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.Role)
	}

	return strings.Join(systemParts, "\n\n"), merged, nil
}

func (c *ClaudeClient) buildParams(in *llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		block := anthropic.NewTextBlock(alternating[i].Content)
		if alternating[i].Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	return params, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(&in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text.WriteString(resp.Content[i].AsText().Text)
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		StopReason: string(resp.StopReason),
	}, nil
}

// Stream implements llm.LLMClient using server-sent text deltas.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(&in)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if text, isText := delta.Delta.AsAny().(anthropic.TextDelta); isText && text.Text != "" {
				ch <- llm.StreamChunk{Content: text.Text}
			}
		}
		if streamErr := stream.Err(); streamErr != nil {
			ch <- llm.StreamChunk{Error: classifyError(streamErr), Done: true}
			return
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to llmerrors types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's overloaded status.
		return llmerrors.NewErrorWithStatus(llmerrors.TypeForStatus(apiErr.StatusCode), apiErr.StatusCode, apiErr.Error())
	}

	return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(err.Error()), err, "claude request failed")
}
