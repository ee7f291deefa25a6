// Package llm provides the oracle interface consumed by every pipeline stage
// and the types shared by its provider implementations.
package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// CompletionRole represents the role of a message in a completion request.
type CompletionRole string

const (
	// RoleSystem carries behavioral instructions.
	RoleSystem CompletionRole = "system"
	// RoleUser carries the prompt.
	RoleUser CompletionRole = "user"
	// RoleAssistant carries prior model output.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens bounds a single completion.
	DefaultMaxTokens = 4096

	// TemperatureDefault is used for planning, classification and analysis.
	TemperatureDefault = 0.3

	// TemperatureDeterministic is used when repeatable structured output matters.
	TemperatureDeterministic = 0.2

	// TemperatureCreative is used for artifact generation and chat replies.
	TemperatureCreative = 0.5
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// StreamChunk represents a chunk of streamed completion response.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// LLMClient is the generative oracle.
type LLMClient interface { //nolint:revive // name shared by every provider package
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a stream of chunks.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}

// Options tunes a single Generate call.
type Options struct {
	Temperature float32
	MaxTokens   int
	Streaming   bool
}

// Generate asks the oracle to answer prompt under the given instructions.
// With Streaming set the reply is assembled from the chunk stream.
func Generate(ctx context.Context, client LLMClient, instructions, prompt string, opts Options) (string, error) {
	messages := make([]CompletionMessage, 0, 2)
	if instructions != "" {
		messages = append(messages, NewSystemMessage(instructions))
	}
	messages = append(messages, NewUserMessage(prompt))

	req := NewCompletionRequest(messages)
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	if !opts.Streaming {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("oracle completion: %w", err)
		}
		return resp.Content, nil
	}

	stream, err := client.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("oracle stream: %w", err)
	}
	data, err := io.ReadAll(StreamToReader(stream))
	if err != nil {
		return "", fmt.Errorf("oracle stream read: %w", err)
	}
	return string(data), nil
}

// StripCodeFences removes one leading ```lang line and one trailing ``` from s.
func StripCodeFences(s string) string {
	out := strings.TrimSpace(s)
	if strings.HasPrefix(out, "```") {
		if nl := strings.IndexByte(out, '\n'); nl >= 0 {
			out = out[nl+1:]
		} else {
			out = strings.TrimPrefix(out, "```")
		}
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}

// StreamToReader converts a stream channel to an io.Reader.
func StreamToReader(stream <-chan StreamChunk) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer func() { _ = pw.Close() }()
		for chunk := range stream {
			if chunk.Error != nil {
				pw.CloseWithError(chunk.Error)
				return
			}
			if _, err := pw.Write([]byte(chunk.Content)); err != nil {
				pw.CloseWithError(err)
				return
			}
			if chunk.Done {
				return
			}
		}
	}()

	return pr
}
