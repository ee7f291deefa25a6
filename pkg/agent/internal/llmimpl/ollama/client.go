// Package ollama provides the oracle client for a local Ollama runtime.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
)

// DefaultHost is the standard local Ollama endpoint.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client to implement llm.LLMClient.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates an Ollama client. An unparsable hostURL
// falls back to DefaultHost.
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(DefaultHost)
	}

	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		hostURL: parsedURL.String(),
	}
}

func (o *Client) chatRequest(in *llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	messages, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}
	options := map[string]any{"temperature": in.Temperature}
	if in.MaxTokens > 0 {
		options["num_predict"] = in.MaxTokens
	}
	return &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := o.chatRequest(&in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if strings.TrimSpace(response.Message.Content) == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "Ollama returned an empty message")
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
	}, nil
}

// Stream implements llm.LLMClient by forwarding each streamed message chunk.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := o.chatRequest(&in, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		chatErr := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				select {
				case ch <- llm.StreamChunk{Content: resp.Message.Content}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if chatErr != nil {
			ch <- llm.StreamChunk{Error: classifyError(chatErr), Done: true}
			return
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// convertMessagesToOllama converts completion messages to Ollama's format.
func convertMessagesToOllama(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
		result = append(result, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return result, nil
}

// getStopReason converts Ollama's done_reason to the shared stop reason vocabulary.
func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}

	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to llmerrors types.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmerrors.NewErrorWithStatus(llmerrors.TypeForStatus(statusErr.StatusCode), statusErr.StatusCode, statusErr.Error())
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(errStr), err, "Ollama API error")
	}
}
