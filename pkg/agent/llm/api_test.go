package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletionRequestDefaults(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")})
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, TemperatureDefault, req.Temperature, 0.0001)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
}

func TestGenerateComplete(t *testing.T) {
	var captured CompletionRequest
	client := &stubClient{
		completeFunc: func(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
			captured = req
			return CompletionResponse{Content: "answer"}, nil
		},
	}

	out, err := Generate(context.Background(), client, "be brief", "question", Options{Temperature: 0.5, MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, RoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "be brief", captured.Messages[0].Content)
	assert.Equal(t, "question", captured.Messages[1].Content)
	assert.InDelta(t, 0.5, captured.Temperature, 0.0001)
	assert.Equal(t, 100, captured.MaxTokens)
}

func TestGenerateWithoutInstructions(t *testing.T) {
	var captured CompletionRequest
	client := &stubClient{
		completeFunc: func(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
			captured = req
			return CompletionResponse{Content: "x"}, nil
		},
	}
	_, err := Generate(context.Background(), client, "", "only prompt", Options{})
	require.NoError(t, err)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, RoleUser, captured.Messages[0].Role)
}

func TestGenerateStreaming(t *testing.T) {
	client := &stubClient{
		streamFunc: func(_ context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
			ch := make(chan StreamChunk, 3)
			ch <- StreamChunk{Content: "hel"}
			ch <- StreamChunk{Content: "lo"}
			ch <- StreamChunk{Done: true}
			close(ch)
			return ch, nil
		},
	}

	out, err := Generate(context.Background(), client, "", "p", Options{Streaming: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestGenerateErrors(t *testing.T) {
	boom := errors.New("boom")
	client := &stubClient{
		completeFunc: func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{}, boom
		},
		streamFunc: func(_ context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
			ch := make(chan StreamChunk, 1)
			ch <- StreamChunk{Error: boom}
			close(ch)
			return ch, nil
		},
	}

	_, err := Generate(context.Background(), client, "", "p", Options{})
	assert.ErrorIs(t, err, boom)

	_, err = Generate(context.Background(), client, "", "p", Options{Streaming: true})
	assert.ErrorIs(t, err, boom)
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "class A {}", "class A {}"},
		{"language fence", "```dart\nclass A {}\n```", "class A {}"},
		{"bare fence", "```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"surrounding whitespace", "\n  ```json\n{}\n```  \n", "{}"},
		{"trailing only", "x = 1\n```", "x = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestStreamToReaderStopsOnDone(t *testing.T) {
	ch := make(chan StreamChunk, 3)
	ch <- StreamChunk{Content: "a"}
	ch <- StreamChunk{Content: "b", Done: true}
	ch <- StreamChunk{Content: "ignored"}
	close(ch)

	data, err := io.ReadAll(StreamToReader(ch))
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
}
