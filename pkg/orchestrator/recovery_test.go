package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"conductor/pkg/proto"
)

func TestSeedCompletedFillsFinishedSteps(t *testing.T) {
	plan := &proto.ExecutionPlan{
		PlanID: "p",
		Steps: []proto.ActionStep{
			{StepNumber: 1, Action: proto.ActionCreateArtifact, TargetArtifact: "a.dart"},
			{StepNumber: 2, Action: proto.ActionDeleteArtifact, TargetArtifact: "old.dart"},
			{StepNumber: 3, Action: proto.ActionModifyArtifact, TargetArtifact: "a.dart"},
			{StepNumber: 4, Action: proto.ActionCreateArtifact, TargetArtifact: "b.dart"},
		},
	}
	changes := []proto.ArtifactChange{
		{Path: "a.dart", Operation: proto.OpCreate, Content: "v1"},
		{Path: "old.dart", Operation: proto.OpDelete},
		{Path: "a.dart", Operation: proto.OpUpdate, Content: "v2"},
	}

	seeded := seedCompleted(plan, changes)

	assert.Equal(t, "v1", seeded.Steps[0].Answer)
	assert.Empty(t, seeded.Steps[1].Answer)
	assert.Equal(t, "v2", seeded.Steps[2].Answer)
	assert.Empty(t, seeded.Steps[3].Answer)
	assert.Empty(t, plan.Steps[0].Answer, "original plan is not modified")
}

func TestEscalationMessage(t *testing.T) {
	msg := escalationMessage(
		proto.FailureDetails{Kind: proto.FailureCompile, Message: "undefined: Foo", ArtifactPath: "lib/a.dart"},
		proto.RecoveryVerdict{Explanation: "Foo is not declared.", UserQuestions: []string{"Should Foo be a widget?", "Or a function?"}},
	)

	assert.Equal(t, "**Error Occurred**\n\n"+
		"I ran into a compile error in `lib/a.dart`: undefined: Foo\n\n"+
		"Foo is not declared.\n\n"+
		"I need some clarification:\n"+
		"1. Should Foo be a widget?\n"+
		"2. Or a function?", msg)
}
