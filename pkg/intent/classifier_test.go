package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/mocks"
	"conductor/pkg/agent/llm"
	"conductor/pkg/proto"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want proto.IntentClassification
	}{
		{
			name: "code with fences",
			raw:  "```json\n{\"intent\":\"code\",\"confidence\":0.95,\"reasoning\":\"wants a button\",\"suggested_mode\":\"code\"}\n```",
			want: proto.IntentClassification{Intent: proto.IntentCode, Confidence: 0.95, Reasoning: "wants a button", SuggestedMode: proto.ModeCode},
		},
		{
			name: "unknown intent becomes chat",
			raw:  `{"intent":"dance","confidence":0.9,"reasoning":"?","suggested_mode":"chat"}`,
			want: proto.IntentClassification{Intent: proto.IntentChat, Confidence: 0.9, Reasoning: "?", SuggestedMode: proto.ModeChat},
		},
		{
			name: "confidence clamped high",
			raw:  `{"intent":"code","confidence":1.7,"reasoning":"r","suggested_mode":"code"}`,
			want: proto.IntentClassification{Intent: proto.IntentCode, Confidence: 1, Reasoning: "r", SuggestedMode: proto.ModeCode},
		},
		{
			name: "confidence clamped low",
			raw:  `{"intent":"chat","confidence":-2,"reasoning":"r","suggested_mode":"chat"}`,
			want: proto.IntentClassification{Intent: proto.IntentChat, Confidence: 0, Reasoning: "r", SuggestedMode: proto.ModeChat},
		},
		{
			name: "missing fields take defaults",
			raw:  `{"intent":"error"}`,
			want: proto.IntentClassification{Intent: proto.IntentErrorClarification, Confidence: 0.5, Reasoning: "No reasoning provided", SuggestedMode: proto.ModeCode},
		},
		{
			name: "invalid suggested mode follows intent",
			raw:  `{"intent":"explain","confidence":0.8,"reasoning":"r","suggested_mode":"debug"}`,
			want: proto.IntentClassification{Intent: proto.IntentExplain, Confidence: 0.8, Reasoning: "r", SuggestedMode: proto.ModeChat},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsNonJSON(t *testing.T) {
	_, err := Parse("I think this is code")
	assert.Error(t, err)
}

func TestClassifyFallsBackOnOracleError(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(errors.New("service down"))

	got := NewClassifier(mock).Classify(context.Background(), "hello", nil, proto.ModeChat)
	assert.Equal(t, Fallback(), got)
	assert.Equal(t, proto.IntentClassification{
		Intent: proto.IntentChat, Confidence: 0.3, Reasoning: "classification failed", SuggestedMode: proto.ModeChat,
	}, got)
}

func TestClassifyFallsBackOnGarbage(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith("not json at all")

	got := NewClassifier(mock).Classify(context.Background(), "hello", nil, proto.ModeChat)
	assert.Equal(t, Fallback(), got)
}

func TestClassifyIsDeterministicForStubOracle(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith(`{"intent":"code","confidence":0.92,"reasoning":"build request","suggested_mode":"code"}`)
	classifier := NewClassifier(mock)

	history := []proto.Message{{Role: proto.RoleUser, Content: "hi"}}
	first := classifier.Classify(context.Background(), "Create a blue rounded button", history, proto.ModeChat)
	second := classifier.Classify(context.Background(), "Create a blue rounded button", history, proto.ModeChat)

	assert.Equal(t, first, second)
	assert.Equal(t, proto.IntentCode, first.Intent)

	// Identical inputs produce identical prompts.
	require.Len(t, mock.CompleteCalls, 2)
	assert.Equal(t, mock.CompleteCalls[0], mock.CompleteCalls[1])
	assert.Equal(t, 2, mock.StageCalls(llm.StageClassify))
}

func TestClassifyPromptUsesBoundedHistory(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith(`{"intent":"chat","confidence":0.9,"reasoning":"r","suggested_mode":"chat"}`)

	history := make([]proto.Message, 0, 8)
	for _, c := range []string{"one", "two", "three", "four", "five", "six", "seven", "eight"} {
		history = append(history, proto.Message{Role: proto.RoleUser, Content: c})
	}

	NewClassifier(mock, WithHistoryWindow(5)).Classify(context.Background(), "next", history, proto.ModeCode)

	req, ok := mock.LastRequest()
	require.True(t, ok)
	prompt := req.Messages[len(req.Messages)-1].Content
	assert.NotContains(t, prompt, "USER: three")
	assert.Contains(t, prompt, "USER: four")
	assert.Contains(t, prompt, "USER: eight")
	assert.Contains(t, prompt, "Current mode: code")
}
