package planner

import (
	"fmt"
	"strings"

	"conductor/pkg/proto"
)

// Validate returns every problem that prevents plan from being executed.
// An empty result means the plan is valid.
func Validate(plan *proto.ExecutionPlan) []string {
	if plan == nil || len(plan.Steps) == 0 {
		return []string{"plan has no steps"}
	}

	var issues []string
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if strings.TrimSpace(step.Description) == "" {
			issues = append(issues, fmt.Sprintf("step %d: missing description", step.StepNumber))
		}
		switch {
		case step.Action == "":
			issues = append(issues, fmt.Sprintf("step %d: missing action", step.StepNumber))
		case !knownAction(step.Action):
			issues = append(issues, fmt.Sprintf("step %d: unknown action %q", step.StepNumber, step.Action))
		case step.Action.RequiresArtifact() && step.TargetArtifact == "":
			issues = append(issues, fmt.Sprintf("step %d: %s requires a target artifact", step.StepNumber, step.Action))
		}
	}
	return issues
}

func knownAction(k proto.ActionKind) bool {
	switch k {
	case proto.ActionCreateArtifact, proto.ActionModifyArtifact, proto.ActionAddDependency, proto.ActionDeleteArtifact:
		return true
	}
	return false
}

// Optimize returns a copy of plan without repeated create steps for the same
// target, renumbered from 1.
func Optimize(plan *proto.ExecutionPlan) *proto.ExecutionPlan {
	if plan == nil {
		return nil
	}
	out := plan.Clone()
	out.Steps = make([]proto.ActionStep, 0, len(plan.Steps))

	created := make(map[string]bool)
	for _, step := range plan.Steps {
		if step.Action == proto.ActionCreateArtifact && step.TargetArtifact != "" {
			if created[step.TargetArtifact] {
				continue
			}
			created[step.TargetArtifact] = true
		}
		step.StepNumber = len(out.Steps) + 1
		out.Steps = append(out.Steps, step)
	}
	return out
}

// Seeded returns a copy of plan with content as the answer of the step
// numbered step, so the generator uses it without asking the oracle. When
// no step has that number the first step targeting target is seeded, and
// failing that the first step.
func Seeded(plan *proto.ExecutionPlan, step int, target, content string) *proto.ExecutionPlan {
	if plan == nil || len(plan.Steps) == 0 {
		return plan
	}
	out := plan.Clone()
	out.Steps[seedIndex(out.Steps, step, target)].Answer = content
	return out
}

func seedIndex(steps []proto.ActionStep, step int, target string) int {
	if step > 0 {
		for i := range steps {
			if steps[i].StepNumber == step {
				return i
			}
		}
	}
	if target != "" {
		for i := range steps {
			if steps[i].TargetArtifact == target {
				return i
			}
		}
	}
	return 0
}
