package generator

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

func threeStepPlan() *proto.ExecutionPlan {
	return &proto.ExecutionPlan{
		PlanID: "p1",
		Steps: []proto.ActionStep{
			{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "button", TargetArtifact: "lib/button.dart"},
			{StepNumber: 2, Action: proto.ActionCreateArtifact, Description: "card", TargetArtifact: "lib/card.dart"},
			{StepNumber: 3, Action: proto.ActionModifyArtifact, Description: "wire", TargetArtifact: "lib/main.dart"},
		},
	}
}

func TestExecutePlanFailFastKeepsEarlierChanges(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueResponse("```dart\nclass Button {}\n```")
	mock.QueueError(errors.New("oracle exploded"))
	mock.QueueResponse("class Main {}")

	var observed []int
	result, err := NewGenerator(mock).ExecutePlan(context.Background(), threeStepPlan(), nil,
		func(step proto.ActionStep, _ []proto.ArtifactChange) { observed = append(observed, step.StepNumber) })

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.Equal(t, "lib/card.dart", stepErr.Path)

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, []proto.ArtifactChange{{Path: "lib/button.dart", Operation: proto.OpCreate, Content: "class Button {}"}}, result.Changes)
	assert.Equal(t, []int{1}, observed)
	assert.Equal(t, 2, mock.CallCount(), "step 3 must not run")
}

func TestExecutePlanSuccess(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueStageResponse(llm.StageGenerate, "class Button {}", "class Card {}", "void main() { run(); }")

	artifacts := map[string]string{"lib/main.dart": "void main() {}"}
	result, err := NewGenerator(mock).ExecutePlan(context.Background(), threeStepPlan(), artifacts, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Changes, 3)
	assert.Equal(t, proto.OpUpdate, result.Changes[2].Operation)
	assert.Equal(t, "void main() {}", artifacts["lib/main.dart"], "input map is not modified")
	assert.Equal(t, "Generated 3 change(s) (created 2, updated 1): lib/button.dart, lib/card.dart, lib/main.dart", result.Message)

	// The modify step sees the current content of its target.
	last, ok := mock.LastRequest()
	require.True(t, ok)
	assert.Contains(t, last.Messages[1].Content, "Current content of lib/main.dart")
}

func TestExecutePlanModifyOfMissingArtifactCreates(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith("x := 1")
	plan := &proto.ExecutionPlan{Steps: []proto.ActionStep{
		{StepNumber: 1, Action: proto.ActionModifyArtifact, Description: "d", TargetArtifact: "new.go"},
	}}

	result, err := NewGenerator(mock).ExecutePlan(context.Background(), plan, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, proto.OpCreate, result.Changes[0].Operation)
}

func TestExecutePlanDeleteAndDependencySteps(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	plan := &proto.ExecutionPlan{Steps: []proto.ActionStep{
		{StepNumber: 1, Action: proto.ActionDeleteArtifact, Description: "remove", TargetArtifact: "old.dart"},
		{StepNumber: 2, Action: proto.ActionAddDependency, Description: "http package"},
	}}

	result, err := NewGenerator(mock).ExecutePlan(context.Background(), plan, map[string]string{"old.dart": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []proto.ArtifactChange{{Path: "old.dart", Operation: proto.OpDelete}}, result.Changes)
	assert.Equal(t, []string{"dependency noted but not applied: http package"}, result.Warnings)
	assert.Zero(t, mock.CallCount())
}

func TestExecutePlanSeededAnswerSkipsOracle(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	plan := threeStepPlan()
	plan.Steps = plan.Steps[:1]
	plan.Steps[0].Answer = "class Fixed {}"

	result, err := NewGenerator(mock).ExecutePlan(context.Background(), plan, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "class Fixed {}", result.Changes[0].Content)
	assert.Zero(t, mock.CallCount())
}

func TestExecutePlanStructuralFailure(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith("class Broken {")
	plan := threeStepPlan()

	result, err := NewGenerator(mock).ExecutePlan(context.Background(), plan, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
	assert.Empty(t, result.Changes)
}

func TestExecutePlanStreaming(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.StreamContent("class Streamed {}", 4)
	plan := threeStepPlan()
	plan.Steps = plan.Steps[:1]

	result, err := NewGenerator(mock, WithStreaming(true)).ExecutePlan(context.Background(), plan, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "class Streamed {}", result.Changes[0].Content)
	assert.Len(t, mock.StreamCalls, 1)
}

func TestExecutePlanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewGenerator(mocks.NewMockLLMClient()).ExecutePlan(ctx, threeStepPlan(), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
}

func TestApply(t *testing.T) {
	artifacts := map[string]string{"a": "1", "b": "2"}
	Apply(artifacts, []proto.ArtifactChange{
		{Path: "a", Operation: proto.OpUpdate, Content: "1b"},
		{Path: "b", Operation: proto.OpDelete},
		{Path: "c", Operation: proto.OpCreate, Content: "3"},
	})
	assert.Equal(t, map[string]string{"a": "1b", "c": "3"}, artifacts)
}
