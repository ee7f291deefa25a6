package recovery

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

var syntaxFailure = proto.FailureDetails{
	Kind:         proto.FailureSyntax,
	Severity:     proto.SeverityLow,
	Message:      "syntax error: unexpected '}' at line 3",
	ArtifactPath: "src/App.tsx",
}

func TestParseVerdict(t *testing.T) {
	t.Run("current keys", func(t *testing.T) {
		v, err := ParseVerdict(`{"auto_fixable":true,"proposed_content":"export {}","explanation":"stray brace","user_questions":[]}`)
		require.NoError(t, err)
		assert.True(t, v.AutoFixable)
		assert.Equal(t, "export {}", v.ProposedContent)
		assert.Equal(t, "stray brace", v.Explanation)
		assert.Empty(t, v.UserQuestions)
	})

	t.Run("legacy keys", func(t *testing.T) {
		v, err := ParseVerdict("```json\n{\"can_auto_fix\":true,\"suggested_fix\":\"fixed\",\"explanation\":\"e\",\"user_questions\":[\" q \",\"\"]}\n```")
		require.NoError(t, err)
		assert.True(t, v.AutoFixable)
		assert.Equal(t, "fixed", v.ProposedContent)
		assert.Equal(t, []string{"q"}, v.UserQuestions)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseVerdict("I cannot help")
		assert.Error(t, err)
	})
}

func TestAnalyzeAutoFix(t *testing.T) {
	oracle := mocks.NewMockLLMClient()
	oracle.QueueStageResponse(llm.StageRecover,
		`{"auto_fixable":true,"proposed_content":"export const App = () => null;","explanation":"removed stray brace"}`)

	v := NewAnalyzer(oracle, nil).Analyze(context.Background(), syntaxFailure, "export const App = () => null;}", 1)

	assert.True(t, v.AutoFixable)
	assert.Equal(t, 1, v.AttemptNumber)
	assert.Equal(t, "export const App = () => null;", v.ProposedContent)
	assert.Equal(t, 1, oracle.StageCalls(llm.StageRecover))

	req, ok := oracle.LastRequest()
	require.True(t, ok)
	prompt := req.Messages[len(req.Messages)-1].Content
	assert.Contains(t, prompt, "attempt 1 of 3")
	assert.Contains(t, prompt, "src/App.tsx")
}

func TestAnalyzeEscalationOverridesOracle(t *testing.T) {
	oracle := mocks.NewMockLLMClient()
	oracle.QueueStageResponse(llm.StageRecover, `{"auto_fixable":true,"proposed_content":"x","explanation":"easy"}`)

	v := NewAnalyzer(oracle, nil).Analyze(context.Background(), syntaxFailure, "", MaxRetryAttempts)

	assert.False(t, v.AutoFixable)
	assert.Equal(t, []string{DefaultQuestion}, v.UserQuestions)
}

func TestAnalyzeEmptyProposalIsNotFixable(t *testing.T) {
	oracle := mocks.NewMockLLMClient()
	oracle.QueueStageResponse(llm.StageRecover,
		`{"auto_fixable":true,"proposed_content":"  ","explanation":"?","user_questions":["Which file?"]}`)

	v := NewAnalyzer(oracle, nil).Analyze(context.Background(), syntaxFailure, "", 1)

	assert.False(t, v.AutoFixable)
	assert.Equal(t, []string{"Which file?"}, v.UserQuestions)
}

func TestAnalyzeFallback(t *testing.T) {
	t.Run("oracle error", func(t *testing.T) {
		oracle := mocks.NewMockLLMClient()
		oracle.QueueStageError(llm.StageRecover, errors.New("network down"))

		v := NewAnalyzer(oracle, nil).Analyze(context.Background(), syntaxFailure, "", 1)

		assert.False(t, v.AutoFixable)
		assert.Contains(t, v.Explanation, "Error analysis failed: ")
		assert.Contains(t, v.Explanation, "network down")
		assert.Equal(t, []string{"Please review the error manually"}, v.UserQuestions)
	})

	t.Run("unparseable reply", func(t *testing.T) {
		oracle := mocks.NewMockLLMClient()
		oracle.QueueStageResponse(llm.StageRecover, "no json here")

		v := NewAnalyzer(oracle, nil).Analyze(context.Background(), syntaxFailure, "", 2)

		assert.False(t, v.AutoFixable)
		assert.Equal(t, 2, v.AttemptNumber)
		assert.Equal(t, []string{"Please review the error manually"}, v.UserQuestions)
	})
}

func TestAnalyzeCustomLimit(t *testing.T) {
	oracle := mocks.NewMockLLMClient()
	oracle.QueueStageResponse(llm.StageRecover, `{"auto_fixable":true,"proposed_content":"ok","explanation":"e"}`)

	a := NewAnalyzer(oracle, nil, WithMaxAttempts(5))
	assert.Equal(t, 5, a.MaxAttempts())

	v := a.Analyze(context.Background(), syntaxFailure, "", 3)
	assert.True(t, v.AutoFixable)

	req, ok := oracle.LastRequest()
	require.True(t, ok)
	assert.Contains(t, req.Messages[len(req.Messages)-1].Content, "attempt 3 of 5")
}
