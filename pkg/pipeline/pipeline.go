// Package pipeline runs one code turn: plan, validate the plan, generate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"conductor/pkg/generator"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/planner"
	"conductor/pkg/proto"
)

// Planner produces execution plans.
type Planner interface {
	CreatePlan(ctx context.Context, request string, artifacts map[string]string) (*proto.ExecutionPlan, error)
}

// Generator executes execution plans.
type Generator interface {
	ExecutePlan(ctx context.Context, plan *proto.ExecutionPlan, artifacts map[string]string, onStep generator.StepCallback) (*proto.GenerationResult, error)
}

// ProgressFunc receives progress events as the run advances.
type ProgressFunc func(eventType proto.EventType, payload map[string]any)

// Outcome is the result of one run. It is always returned, never an error.
type Outcome struct {
	Plan     *proto.ExecutionPlan
	Result   *proto.GenerationResult
	Err      error
	Issues   []string
	FailedAt State
	States   []State
	Duration time.Duration
}

// Succeeded reports whether the run reached SUCCESS.
func (o *Outcome) Succeeded() bool {
	return len(o.States) > 0 && o.States[len(o.States)-1] == StateSuccess
}

// Changes returns the changes produced, which on failure are those of the
// steps completed before the failing one.
func (o *Outcome) Changes() []proto.ArtifactChange {
	if o.Result == nil {
		return nil
	}
	return o.Result.Changes
}

// FailureMessage describes why the run failed.
func (o *Outcome) FailureMessage() string {
	switch {
	case o.Succeeded():
		return ""
	case len(o.Issues) > 0:
		return "invalid plan: " + strings.Join(o.Issues, "; ")
	case o.Err != nil:
		return o.Err.Error()
	default:
		return "pipeline failed"
	}
}

// FailurePath is the artifact the failing step targeted, if any.
func (o *Outcome) FailurePath() string {
	var stepErr *generator.StepError
	if errors.As(o.Err, &stepErr) {
		return stepErr.Path
	}
	return ""
}

// FailureStep is the number of the step that failed, or 0 when the run
// failed outside a step.
func (o *Outcome) FailureStep() int {
	var stepErr *generator.StepError
	if errors.As(o.Err, &stepErr) {
		return stepErr.Step
	}
	return 0
}

// Pipeline wires a planner and a generator.
type Pipeline struct {
	planner   Planner
	generator Generator
	metrics   *metrics.OrchestratorMetrics
	logger    *logx.Logger
	optimize  bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.OrchestratorMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOptimize toggles dropping duplicate create steps before validation.
// It is on by default.
func WithOptimize(enabled bool) Option {
	return func(p *Pipeline) { p.optimize = enabled }
}

// New creates a pipeline.
func New(pl Planner, gen Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		planner:   pl,
		generator: gen,
		logger:    logx.NewLogger("pipeline"),
		optimize:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run plans request and executes the plan.
func (p *Pipeline) Run(ctx context.Context, request string, artifacts map[string]string, progress ProgressFunc) *Outcome {
	start := time.Now()
	m := NewMachine()
	emit(progress, proto.EventPlanning, map[string]any{proto.KeyMessage: request})

	plan, err := p.planner.CreatePlan(ctx, request, artifacts)
	if err != nil {
		return p.finish(m, &Outcome{Err: err}, start)
	}
	return p.execute(ctx, m, plan, artifacts, progress, start)
}

// Execute runs an already-built plan, skipping planning. Recovery re-runs
// and clarification replans use it.
func (p *Pipeline) Execute(ctx context.Context, plan *proto.ExecutionPlan, artifacts map[string]string, progress ProgressFunc) *Outcome {
	return p.execute(ctx, NewMachine(), plan, artifacts, progress, time.Now())
}

func (p *Pipeline) execute(ctx context.Context, m *Machine, plan *proto.ExecutionPlan, artifacts map[string]string, progress ProgressFunc, start time.Time) *Outcome {
	out := &Outcome{Plan: plan}
	if err := m.Transition(StateValidatingPlan); err != nil {
		out.Err = err
		return p.finish(m, out, start)
	}

	if p.optimize && plan != nil {
		plan = planner.Optimize(plan)
		out.Plan = plan
	}
	if issues := planner.Validate(plan); len(issues) > 0 {
		out.Issues = issues
		p.logger.Warn("Plan rejected: %s", strings.Join(issues, "; "))
		return p.finish(m, out, start)
	}

	if err := m.Transition(StateGenerating); err != nil {
		out.Err = err
		return p.finish(m, out, start)
	}
	emit(progress, proto.EventCoding, map[string]any{
		proto.KeyPlanID:    plan.PlanID,
		proto.KeyArtifacts: []string{},
	})

	result, err := p.generator.ExecutePlan(ctx, plan, artifacts, func(step proto.ActionStep, changes []proto.ArtifactChange) {
		emit(progress, proto.EventCoding, map[string]any{
			proto.KeyPlanID:    plan.PlanID,
			proto.KeyStep:      step.StepNumber,
			proto.KeyArtifacts: generator.Paths(changes),
		})
	})
	out.Result = result
	if err != nil {
		out.Err = err
		return p.finish(m, out, start)
	}

	emit(progress, proto.EventValidating, map[string]any{
		proto.KeyPlanID:    plan.PlanID,
		proto.KeyArtifacts: generator.Paths(result.Changes),
	})
	if missing := missingArtifacts(plan, result); len(missing) > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("planned but not produced: %s", strings.Join(missing, ", ")))
	}

	if err := m.Transition(StateSuccess); err != nil {
		out.Err = err
	}
	return p.finish(m, out, start)
}

// finish moves a non-terminal machine to FAILED and records the outcome.
func (p *Pipeline) finish(m *Machine, out *Outcome, start time.Time) *Outcome {
	if !IsTerminalState(m.State()) {
		out.FailedAt = m.State()
		_ = m.Transition(StateFailed)
	}
	out.States = m.History()
	out.Duration = time.Since(start)

	status := "success"
	if !out.Succeeded() {
		status = "failed"
		p.logger.Info("Pipeline failed in %s: %s", out.FailedAt, out.FailureMessage())
	}
	p.metrics.ObservePipeline(status, string(out.FailedAt), out.Duration)
	return out
}

func missingArtifacts(plan *proto.ExecutionPlan, result *proto.GenerationResult) []string {
	produced := make(map[string]bool, len(result.Changes))
	for i := range result.Changes {
		produced[result.Changes[i].Path] = true
	}
	var missing []string
	for _, p := range plan.EstimatedArtifacts {
		if !produced[p] {
			missing = append(missing, p)
		}
	}
	return missing
}

func emit(progress ProgressFunc, t proto.EventType, payload map[string]any) {
	if progress != nil {
		progress(t, payload)
	}
}
