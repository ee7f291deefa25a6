package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"conductor/pkg/proto"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		plan   *proto.ExecutionPlan
		issues []string
	}{
		{"nil plan", nil, []string{"plan has no steps"}},
		{"zero steps", &proto.ExecutionPlan{PlanID: "p"}, []string{"plan has no steps"}},
		{
			"well formed create steps",
			&proto.ExecutionPlan{Steps: []proto.ActionStep{
				{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "a", TargetArtifact: "a.dart"},
				{StepNumber: 2, Action: proto.ActionCreateArtifact, Description: "b", TargetArtifact: "b.dart"},
			}},
			nil,
		},
		{
			"dependency needs no target",
			&proto.ExecutionPlan{Steps: []proto.ActionStep{{StepNumber: 1, Action: proto.ActionAddDependency, Description: "add http"}}},
			nil,
		},
		{
			"every problem reported",
			&proto.ExecutionPlan{Steps: []proto.ActionStep{
				{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "", TargetArtifact: "a.dart"},
				{StepNumber: 2, Description: "no action"},
				{StepNumber: 3, Action: proto.ActionModifyArtifact, Description: "no target"},
				{StepNumber: 4, Action: "rename", Description: "odd"},
			}},
			[]string{
				"step 1: missing description",
				"step 2: missing action",
				"step 3: modify_artifact requires a target artifact",
				`step 4: unknown action "rename"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.issues, Validate(tt.plan))
		})
	}
}

func TestOptimizeDropsDuplicateCreates(t *testing.T) {
	plan := &proto.ExecutionPlan{PlanID: "p", Steps: []proto.ActionStep{
		{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "a", TargetArtifact: "a.dart"},
		{StepNumber: 2, Action: proto.ActionCreateArtifact, Description: "a again", TargetArtifact: "a.dart"},
		{StepNumber: 3, Action: proto.ActionModifyArtifact, Description: "tweak a", TargetArtifact: "a.dart"},
		{StepNumber: 4, Action: proto.ActionCreateArtifact, Description: "b", TargetArtifact: "b.dart"},
	}}

	out := Optimize(plan)
	assert.Len(t, plan.Steps, 4)
	assert.Equal(t, "p", out.PlanID)
	assert.Equal(t, []proto.ActionStep{
		{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "a", TargetArtifact: "a.dart"},
		{StepNumber: 2, Action: proto.ActionModifyArtifact, Description: "tweak a", TargetArtifact: "a.dart"},
		{StepNumber: 3, Action: proto.ActionCreateArtifact, Description: "b", TargetArtifact: "b.dart"},
	}, out.Steps)
	assert.Nil(t, Optimize(nil))
}

func TestSeeded(t *testing.T) {
	plan := &proto.ExecutionPlan{Steps: []proto.ActionStep{
		{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "a", TargetArtifact: "a.dart"},
		{StepNumber: 2, Action: proto.ActionCreateArtifact, Description: "b", TargetArtifact: "b.dart"},
	}}

	first := Seeded(plan, 0, "", "fixed")
	assert.Equal(t, "fixed", first.Steps[0].Answer)
	assert.Empty(t, plan.Steps[0].Answer)

	second := Seeded(plan, 0, "b.dart", "fixed b")
	assert.Empty(t, second.Steps[0].Answer)
	assert.Equal(t, "fixed b", second.Steps[1].Answer)

	empty := &proto.ExecutionPlan{}
	assert.Same(t, empty, Seeded(empty, 0, "", "x"))
}

func TestSeededPrefersFailingStep(t *testing.T) {
	plan := &proto.ExecutionPlan{Steps: []proto.ActionStep{
		{StepNumber: 1, Action: proto.ActionCreateArtifact, Description: "create", TargetArtifact: "a.dart", Answer: "class A {}"},
		{StepNumber: 2, Action: proto.ActionModifyArtifact, Description: "add field", TargetArtifact: "a.dart"},
	}}

	out := Seeded(plan, 2, "a.dart", "class A { int x; }")
	assert.Equal(t, "class A {}", out.Steps[0].Answer, "completed step keeps its answer")
	assert.Equal(t, "class A { int x; }", out.Steps[1].Answer)

	fallback := Seeded(plan, 7, "a.dart", "x")
	assert.Equal(t, "x", fallback.Steps[0].Answer)
}
