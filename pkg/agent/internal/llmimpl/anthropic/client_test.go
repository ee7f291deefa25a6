package anthropic

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/agent/llm"
	"conductor/pkg/agent/llmerrors"
)

func TestEnsureAlternation(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectMsgLen int
		errContains  string
	}{
		{
			name:        "empty messages",
			input:       nil,
			errContains: "message list cannot be empty",
		},
		{
			name: "system messages concatenated",
			input: []llm.CompletionMessage{
				llm.NewSystemMessage("You are helpful"),
				llm.NewSystemMessage("And concise"),
				llm.NewUserMessage("Hello"),
			},
			expectSystem: "You are helpful\n\nAnd concise",
			expectMsgLen: 1,
		},
		{
			name: "alternation kept",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewAssistantMessage("Hi"),
				llm.NewUserMessage("Build a counter"),
			},
			expectMsgLen: 3,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewUserMessage("Anyone there?"),
			},
			expectMsgLen: 1,
		},
		{
			name: "ends with assistant",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewAssistantMessage("Hi"),
			},
			errContains: "last message must be user",
		},
		{
			name:        "only system",
			input:       []llm.CompletionMessage{llm.NewSystemMessage("x")},
			errContains: "no user message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs, err := ensureAlternation(tt.input)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectSystem, system)
			assert.Len(t, msgs, tt.expectMsgLen)
		})
	}
}

func TestEnsureAlternationMergesContent(t *testing.T) {
	_, msgs, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewUserMessage("a"),
		llm.NewUserMessage("b"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", msgs[0].Content)
}

func TestClassifyError(t *testing.T) {
	assert.NoError(t, classifyError(nil))
	assert.ErrorIs(t, classifyError(fmt.Errorf("wrap: %w", context.Canceled)), context.Canceled)

	err := classifyError(errors.New("connection reset by peer"))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTransient))

	err = classifyError(errors.New("429 rate limit"))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
}

func TestBadPromptRejectedBeforeNetwork(t *testing.T) {
	client := NewClaudeClientWithModel("test-key", "")
	assert.Equal(t, DefaultModel, client.GetModelName())

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}
