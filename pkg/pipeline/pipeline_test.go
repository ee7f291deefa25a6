package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/mocks"
	"conductor/pkg/agent/llm"
	"conductor/pkg/generator"
	"conductor/pkg/metrics"
	"conductor/pkg/planner"
	"conductor/pkg/proto"
)

const twoStepPlan = `{"plan_id":"p1","steps":[
  {"action":"create_artifact","description":"button","target_artifact":"lib/button.dart"},
  {"action":"create_artifact","description":"button again","target_artifact":"lib/button.dart"},
  {"action":"modify_artifact","description":"wire","target_artifact":"lib/main.dart"}]}`

type recorded struct {
	payload map[string]any
	typ     proto.EventType
}

func newPipeline(mock *mocks.MockLLMClient, opts ...Option) *Pipeline {
	return New(planner.NewPlanner(mock), generator.NewGenerator(mock), opts...)
}

func TestRunSuccessEmitsProgressInOrder(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueStageResponse(llm.StagePlan, twoStepPlan)
	mock.QueueStageResponse(llm.StageGenerate, "class Button {}", "void main() {}")

	var events []recorded
	out := newPipeline(mock).Run(context.Background(), "make a button", nil, func(typ proto.EventType, payload map[string]any) {
		events = append(events, recorded{typ: typ, payload: payload})
	})

	require.True(t, out.Succeeded(), out.FailureMessage())
	assert.Equal(t, []State{StatePlanning, StateValidatingPlan, StateGenerating, StateSuccess}, out.States)
	assert.Len(t, out.Plan.Steps, 2, "duplicate create step optimized away")
	assert.Equal(t, []string{"lib/button.dart", "lib/main.dart"}, generator.Paths(out.Changes()))
	assert.Equal(t, 3, mock.CallCount())

	types := make([]proto.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.typ)
	}
	assert.Equal(t, []proto.EventType{
		proto.EventPlanning, proto.EventCoding, proto.EventCoding, proto.EventCoding, proto.EventValidating,
	}, types)
	assert.Equal(t, []string{"lib/button.dart"}, events[2].payload[proto.KeyArtifacts])
	assert.Equal(t, []string{"lib/button.dart", "lib/main.dart"}, events[4].payload[proto.KeyArtifacts])
}

func TestRunPlanningFailure(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueStageError(llm.StagePlan, errors.New("oracle down"))

	out := newPipeline(mock).Run(context.Background(), "x", nil, nil)
	assert.False(t, out.Succeeded())
	assert.Equal(t, StatePlanning, out.FailedAt)
	assert.Equal(t, []State{StatePlanning, StateFailed}, out.States)
	assert.ErrorIs(t, out.Err, planner.ErrPlanning)
	assert.Nil(t, out.Result)
}

func TestRunInvalidPlanMakesNoGenerationCalls(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueStageResponse(llm.StagePlan, `{"plan_id":"empty","steps":[]}`)

	out := newPipeline(mock).Run(context.Background(), "x", nil, nil)
	assert.False(t, out.Succeeded())
	assert.Equal(t, StateValidatingPlan, out.FailedAt)
	assert.Equal(t, []string{"plan has no steps"}, out.Issues)
	assert.Equal(t, "invalid plan: plan has no steps", out.FailureMessage())
	assert.Zero(t, mock.StageCalls(llm.StageGenerate))
}

func TestRunGenerationFailureKeepsEarlierChanges(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueStageResponse(llm.StagePlan, twoStepPlan)
	mock.QueueStageResponse(llm.StageGenerate, "class Button {}", "void main() {")

	out := newPipeline(mock).Run(context.Background(), "x", nil, nil)
	assert.False(t, out.Succeeded())
	assert.Equal(t, StateGenerating, out.FailedAt)
	assert.Equal(t, "lib/main.dart", out.FailurePath())
	assert.Contains(t, out.FailureMessage(), "syntax error")
	assert.Equal(t, []string{"lib/button.dart"}, generator.Paths(out.Changes()))
}

func TestExecuteWithSeededPlanAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewOrchestratorMetrics(reg)
	mock := mocks.NewMockLLMClient()

	plan := &proto.ExecutionPlan{
		PlanID:             "p2",
		EstimatedArtifacts: []string{"a.dart", "b.dart"},
		Steps:              []proto.ActionStep{{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "a", TargetArtifact: "a.dart", Answer: "class A {}"}},
	}

	out := newPipeline(mock, WithMetrics(m)).Execute(context.Background(), plan, nil, nil)
	require.True(t, out.Succeeded())
	assert.Zero(t, mock.CallCount())
	assert.Equal(t, []string{"planned but not produced: b.dart"}, out.Result.Warnings)

	count, err := testutil.GatherAndCount(reg, "conductor_pipeline_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExecuteNilPlanFails(t *testing.T) {
	out := newPipeline(mocks.NewMockLLMClient()).Execute(context.Background(), nil, nil, nil)
	assert.False(t, out.Succeeded())
	assert.Equal(t, StateValidatingPlan, out.FailedAt)
}
