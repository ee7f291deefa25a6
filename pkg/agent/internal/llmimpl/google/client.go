// Package google provides the Google Gemini oracle client.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient.
// The underlying client needs a context to construct, so it is created on first use.
type GeminiClient struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClientWithModel creates a raw Gemini client. Middleware is applied by the factory.
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return client, nil
}

func (g *GeminiClient) prepare(ctx context.Context, in *llm.CompletionRequest) (*genai.Client, []*genai.Content, *genai.GenerateContentConfig, error) {
	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return nil, nil, nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if in.MaxTokens > 0 {
		//nolint:gosec // MaxTokens validated at config load
		config.MaxOutputTokens = int32(in.MaxTokens)
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	return client, contents, config, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, contents, config, err := g.prepare(ctx, &in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || strings.TrimSpace(result.Text()) == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	return llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: getStopReason(result),
	}, nil
}

// Stream implements llm.LLMClient over GenerateContentStream.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	client, contents, config, err := g.prepare(ctx, &in)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for result, streamErr := range client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if streamErr != nil {
				ch <- llm.StreamChunk{Error: classifyError(streamErr), Done: true}
				return
			}
			if text := result.Text(); text != "" {
				ch <- llm.StreamChunk{Content: text}
			}
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// convertMessagesToGemini converts completion messages to Gemini contents.
// System messages are joined into the returned system instruction.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var system []string
	var contents []*genai.Content
	for i := range messages {
		msg := &messages[i]

		var role string
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
			continue
		case llm.RoleUser:
			role = string(genai.RoleUser)
		case llm.RoleAssistant:
			role = string(genai.RoleModel)
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if msg.Content == "" {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("no user content after extracting system instruction")
	}
	return contents, strings.Join(system, "\n\n"), nil
}

func getStopReason(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return "unknown"
	}
	switch reason := result.Candidates[0].FinishReason; reason {
	case genai.FinishReasonStop, "":
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return strings.ToLower(string(reason))
	}
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(err.Error()), err, "Gemini API call failed")
}
