// Package openaiofficial provides the OpenAI oracle client built on the official Go SDK.
package openaiofficial

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-5"

// OfficialClient wraps the official OpenAI Go client to implement llm.LLMClient.
//
//nolint:govet // Simple struct, field alignment not critical
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a raw OpenAI client. Middleware is applied by the factory.
func NewOfficialClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// splitInstructions separates system messages from the conversation and
// flattens the rest into a single transcript for the Responses API.
func splitInstructions(messages []llm.CompletionMessage) (instructions, input string) {
	var system []string
	var transcript strings.Builder
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			transcript.WriteString("Assistant: ")
			transcript.WriteString(msg.Content)
			transcript.WriteString("\n\n")
		default:
			transcript.WriteString(msg.Content)
			transcript.WriteString("\n\n")
		}
	}
	return strings.Join(system, "\n\n"), strings.TrimSpace(transcript.String())
}

// Complete implements llm.LLMClient using the Responses API.
//
//nolint:gocritic // 80 bytes is reasonable for interface compliance
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input := splitInstructions(in.Messages)
	if input == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "empty prompt")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "OpenAI response contained no text")
	}

	return llm.CompletionResponse{
		Content:    content,
		StopReason: string(resp.Status),
	}, nil
}

// Stream implements llm.LLMClient using chat completion deltas.
//
//nolint:gocritic // 80 bytes is reasonable for interface compliance
func (o *OfficialClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	if len(in.Messages) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "empty prompt")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	}
	if in.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(in.MaxTokens))
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				ch <- llm.StreamChunk{Content: chunk.Choices[0].Delta.Content}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err), Done: true}
			return
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.NewErrorWithStatus(llmerrors.TypeForStatus(apiErr.StatusCode), apiErr.StatusCode, apiErr.Error())
	}
	return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(err.Error()), err, "openai request failed")
}
