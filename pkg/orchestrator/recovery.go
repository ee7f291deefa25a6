package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"conductor/pkg/pipeline"
	"conductor/pkg/planner"
	"conductor/pkg/proto"
	"conductor/pkg/recovery"
)

// Recovery actions reported to metrics.
const (
	recoveryAutoFix   = "auto_fix"
	recoveryFixed     = "fixed"
	recoveryEscalated = "escalated"
)

// recoverGeneration runs the automatic fix loop for a generation failure. Each pass
// consumes one attempt of the plan's retry budget; the loop ends in success
// or escalation to the user.
func (o *Orchestrator) recoverGeneration(ctx context.Context, t *turn, out *pipeline.Outcome) proto.Response {
	limit := o.analyzer.MaxAttempts()
	plan := out.Plan
	planID := ""
	if plan != nil {
		planID = plan.PlanID
	}
	key := recovery.Key(planID)

	var notes []string
	for {
		f := recovery.Describe(out.FailureMessage(), out.FailurePath(), out.Err, o.opts.FailurePolicy)
		attempt := t.conv.budget.Next(key)
		o.recordFailure(ctx, t.conv, planID, f, attempt)

		verdict := o.analyzer.Analyze(ctx, f, o.failingContent(t.conv, f.ArtifactPath), attempt)
		if !verdict.AutoFixable || attempt >= limit || plan == nil {
			return o.escalate(t, f, verdict, planID)
		}

		o.opts.Metrics.IncRecovery(recoveryAutoFix)
		notes = append(notes, fmt.Sprintf("Attempting automatic fix (attempt %d/%d)", attempt, limit))
		o.logger.Info("Auto-fixing %s for plan %s (attempt %d/%d)", f.ArtifactPath, planID, attempt, limit)

		seeded := seedCompleted(plan, out.Changes())
		seeded = planner.Seeded(seeded, out.FailureStep(), f.ArtifactPath, verdict.ProposedContent)
		out = o.pipeline.Execute(ctx, seeded, t.conv.artifactsCopy(), o.progress(t.conv.id))
		if out.Succeeded() {
			t.conv.budget.Reset(key)
			o.opts.Metrics.IncRecovery(recoveryFixed)
			return o.applySuccess(t, out, "", notes)
		}
	}
}

// escalate hands the failure to the user and forces CHAT mode so the next
// message can be read as a clarification.
func (o *Orchestrator) escalate(t *turn, f proto.FailureDetails, v proto.RecoveryVerdict, planID string) proto.Response {
	if from := t.conv.Mode(); from != proto.ModeChat {
		t.conv.setMode(proto.ModeChat)
		o.opts.Metrics.IncModeSwitch(string(from), string(proto.ModeChat), "escalation")
	}
	o.opts.Metrics.IncRecovery(recoveryEscalated)
	t.outcome = outcomeEscalated
	o.logger.Warn("Escalating %s failure for plan %s after attempt %d: %s", f.Kind, planID, v.AttemptNumber, f.Message)

	return proto.Response{
		Message: escalationMessage(f, v),
		Error:   f.Message,
		Metadata: map[string]any{
			proto.MetaNeedsClarification: true,
			proto.MetaExpectedIntent:     string(proto.IntentErrorClarification),
			proto.MetaAttempt:            v.AttemptNumber,
			proto.MetaPlanID:             planID,
		},
	}
}

func escalationMessage(f proto.FailureDetails, v proto.RecoveryVerdict) string {
	var b strings.Builder
	b.WriteString("**Error Occurred**\n\n")
	fmt.Fprintf(&b, "I ran into a %s error", f.Kind)
	if f.ArtifactPath != "" {
		fmt.Fprintf(&b, " in `%s`", f.ArtifactPath)
	}
	fmt.Fprintf(&b, ": %s\n\n", f.Message)
	if v.Explanation != "" {
		b.WriteString(v.Explanation)
		b.WriteString("\n\n")
	}
	b.WriteString("I need some clarification:\n")
	for i, q := range v.UserQuestions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return strings.TrimRight(b.String(), "\n")
}

// failingContent is the last committed content of the failing artifact.
func (o *Orchestrator) failingContent(c *conversation, path string) string {
	if path == "" {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.artifacts[path]
}

// seedCompleted returns a copy of plan whose steps already completed in the
// previous run carry their produced content, so a re-run does not ask the
// oracle for them again.
func seedCompleted(plan *proto.ExecutionPlan, changes []proto.ArtifactChange) *proto.ExecutionPlan {
	out := plan.Clone()
	for i := range changes {
		if changes[i].Operation == proto.OpDelete {
			continue
		}
		for j := range out.Steps {
			step := &out.Steps[j]
			if step.TargetArtifact == changes[i].Path && step.Answer == "" && step.Action != proto.ActionDeleteArtifact {
				step.Answer = changes[i].Content
				break
			}
		}
	}
	return out
}
