package planner

import (
	"fmt"

	"conductor/pkg/agent/llm"
	"conductor/pkg/proto"
	"conductor/pkg/utils"
)

// rawStep accepts both the artifact vocabulary and the older file-oriented
// keys (action_type, target_file).
type rawStep struct {
	Action         string `json:"action"`
	ActionType     string `json:"action_type"`
	Description    string `json:"description"`
	TargetArtifact string `json:"target_artifact"`
	TargetFile     string `json:"target_file"`
	StepNumber     int    `json:"step_number"`
}

type rawPlan struct {
	PlanID             string    `json:"plan_id"`
	Notes              string    `json:"notes"`
	Steps              []rawStep `json:"steps"`
	EstimatedArtifacts []string  `json:"estimated_artifacts"`
	EstimatedFiles     []string  `json:"estimated_files"`
	Dependencies       []string  `json:"dependencies"`
}

// Parse decodes an oracle plan. Steps are renumbered from 1 in the order
// given, targets are normalized, and a missing plan ID comes from newID.
func Parse(raw string, newID func() string) (*proto.ExecutionPlan, error) {
	var r rawPlan
	if err := llm.DecodeJSON(raw, &r); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	plan := &proto.ExecutionPlan{
		PlanID:       utils.SanitizeIdentifier(r.PlanID),
		Notes:        r.Notes,
		Steps:        make([]proto.ActionStep, 0, len(r.Steps)),
		Dependencies: append([]string(nil), r.Dependencies...),
	}
	if plan.PlanID == "" {
		plan.PlanID = newID()
	}

	for i := range r.Steps {
		s := &r.Steps[i]
		action := s.Action
		if action == "" {
			action = s.ActionType
		}
		target := s.TargetArtifact
		if target == "" {
			target = s.TargetFile
		}
		step := proto.ActionStep{
			StepNumber:     i + 1,
			Description:    s.Description,
			TargetArtifact: utils.NormalizeArtifactPath(target),
		}
		if action != "" {
			step.Action = proto.ParseActionKind(action)
		}
		plan.Steps = append(plan.Steps, step)
	}

	estimated := r.EstimatedArtifacts
	if len(estimated) == 0 {
		estimated = r.EstimatedFiles
	}
	plan.EstimatedArtifacts = normalizePaths(estimated)
	if len(plan.EstimatedArtifacts) == 0 {
		plan.EstimatedArtifacts = stepTargets(plan.Steps)
	}

	return plan, nil
}

func normalizePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n := utils.NormalizeArtifactPath(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func stepTargets(steps []proto.ActionStep) []string {
	seen := make(map[string]bool, len(steps))
	out := make([]string, 0, len(steps))
	for i := range steps {
		t := steps[i].TargetArtifact
		if t == "" || seen[t] || steps[i].Action == proto.ActionDeleteArtifact {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
