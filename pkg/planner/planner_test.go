package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/mocks"
	"conductor/pkg/agent/llm"
	"conductor/pkg/proto"
	"conductor/pkg/utils"
)

const buttonPlan = "```json\n" + `{
  "plan_id": "blue button",
  "steps": [
    {"step_number": 1, "action": "create_artifact", "description": "Create the button widget", "target_artifact": "lib/widgets/blue_button.dart"},
    {"step_number": 2, "action_type": "modify_file", "description": "Show it on the home screen", "target_file": "./lib/main.dart"}
  ],
  "notes": "rounded corners"
}` + "\n```"

func fixedID() string { return "plan-fixed" }

func TestCreatePlanParsesOracleReply(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueStageResponse(llm.StagePlan, buttonPlan)

	plan, err := NewPlanner(mock).CreatePlan(context.Background(), "Create a blue rounded button", nil)
	require.NoError(t, err)

	assert.Equal(t, "blue-button", plan.PlanID)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, proto.ActionCreateArtifact, plan.Steps[0].Action)
	assert.Equal(t, proto.ActionModifyArtifact, plan.Steps[1].Action)
	assert.Equal(t, "lib/main.dart", plan.Steps[1].TargetArtifact)
	assert.Equal(t, []string{"lib/widgets/blue_button.dart", "lib/main.dart"}, plan.EstimatedArtifacts)
	assert.Empty(t, Validate(plan))
	assert.Equal(t, 1, mock.StageCalls(llm.StagePlan))
}

func TestCreatePlanIncludesExistingArtifactsAndInstructions(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith(buttonPlan)
	p := NewPlanner(mock, WithInstructions(&utils.UserInstructions{Planner: "Keep widgets under lib/widgets."}))

	_, err := p.CreatePlan(context.Background(), "add a card", map[string]string{"lib/b.dart": "", "lib/a.dart": ""})
	require.NoError(t, err)

	req, ok := mock.LastRequest()
	require.True(t, ok)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "Keep widgets under lib/widgets.")
	assert.Contains(t, req.Messages[1].Content, "- lib/a.dart\n- lib/b.dart")
}

func TestCreatePlanErrors(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.QueueError(errors.New("oracle down"))
	mock.QueueResponse("I cannot plan that")

	p := NewPlanner(mock)
	_, err := p.CreatePlan(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrPlanning)

	_, err = p.CreatePlan(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrPlanning)
}

func TestCreatePlanEmptyStepsIsNotAnError(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.RespondWith(`{"steps": []}`)

	plan, err := NewPlanner(mock, WithIDGenerator(fixedID)).CreatePlan(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "plan-fixed", plan.PlanID)
	assert.Equal(t, []string{"plan has no steps"}, Validate(plan))
}

func TestRefineKeepsPlanIDAndFallsBack(t *testing.T) {
	original := &proto.ExecutionPlan{
		PlanID: "p1",
		Steps:  []proto.ActionStep{{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "d", TargetArtifact: "a.dart"}},
	}

	mock := mocks.NewMockLLMClient()
	mock.QueueResponse(`{"plan_id":"other","steps":[{"action":"create_artifact","description":"wider","target_artifact":"a.dart"}]}`)
	mock.QueueError(errors.New("boom"))
	mock.QueueResponse(`{"steps":[]}`)
	p := NewPlanner(mock)

	refined := p.Refine(context.Background(), original, "make it wider", nil)
	assert.Equal(t, "p1", refined.PlanID)
	assert.Equal(t, "wider", refined.Steps[0].Description)
	assert.Equal(t, "d", original.Steps[0].Description)

	assert.Same(t, original, p.Refine(context.Background(), original, "again", nil))
	assert.Same(t, original, p.Refine(context.Background(), original, "empty", nil))
	assert.Nil(t, p.Refine(context.Background(), nil, "x", nil))
}
