// Package generator executes plan steps against the oracle, producing
// artifact changes.
package generator

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"conductor/pkg/agent/llm"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/templates"
	"conductor/pkg/utils"
)

// StepError reports the step that stopped a plan.
type StepError struct {
	Err  error
	Path string
	Step int
}

func (e *StepError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("step %d (%s): %v", e.Step, e.Path, e.Err)
	}
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepCallback observes each completed step with every change made so far.
type StepCallback func(step proto.ActionStep, changes []proto.ArtifactChange)

// Generator asks the oracle for artifact content one step at a time.
type Generator struct {
	oracle       llm.LLMClient
	renderer     *templates.Renderer
	instructions *utils.UserInstructions
	logger       *logx.Logger
	maxTokens    int
	streaming    bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithRenderer shares a prompt renderer.
func WithRenderer(r *templates.Renderer) Option {
	return func(g *Generator) {
		if r != nil {
			g.renderer = r
		}
	}
}

// WithInstructions appends operator instructions to the generation prompt.
func WithInstructions(in *utils.UserInstructions) Option {
	return func(g *Generator) { g.instructions = in }
}

// WithStreaming assembles step content from the oracle's stream.
func WithStreaming(enabled bool) Option {
	return func(g *Generator) { g.streaming = enabled }
}

// WithMaxTokens bounds each step's completion.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// NewGenerator creates a generator over oracle.
func NewGenerator(oracle llm.LLMClient, opts ...Option) *Generator {
	g := &Generator{
		oracle: oracle,
		logger: logx.NewLogger("generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.renderer == nil {
		g.renderer = templates.MustRenderer()
	}
	return g
}

// ExecutePlan runs plan's steps in order and stops at the first failure.
// The returned result is never nil: on failure it holds the changes of the
// steps that completed and the error is a *StepError. artifacts is not
// modified.
func (g *Generator) ExecutePlan(ctx context.Context, plan *proto.ExecutionPlan, artifacts map[string]string, onStep StepCallback) (*proto.GenerationResult, error) {
	ctx = llm.WithStage(ctx, llm.StageGenerate)
	result := &proto.GenerationResult{}
	if plan == nil {
		result.Message = "no plan to execute"
		return result, &StepError{Err: errors.New("nil plan")}
	}

	working := maps.Clone(artifacts)
	if working == nil {
		working = make(map[string]string)
	}

	for i := range plan.Steps {
		step := plan.Steps[i]
		if err := ctx.Err(); err != nil {
			return g.fail(result, &StepError{Step: step.StepNumber, Path: step.TargetArtifact, Err: err})
		}

		change, warning, err := g.executeStep(ctx, plan, &step, working)
		if err != nil {
			return g.fail(result, &StepError{Step: step.StepNumber, Path: step.TargetArtifact, Err: err})
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		if change != nil {
			result.Changes = append(result.Changes, *change)
			apply(working, change)
		}

		logx.Debug(ctx, "generator", "step %d/%d done: %s %s", step.StepNumber, len(plan.Steps), step.Action, step.TargetArtifact)
		if onStep != nil {
			onStep(step, append([]proto.ArtifactChange(nil), result.Changes...))
		}
	}

	result.Success = true
	result.Message = Summary(result.Changes)
	return result, nil
}

func (g *Generator) fail(result *proto.GenerationResult, err *StepError) (*proto.GenerationResult, error) {
	g.logger.Warn("Plan execution stopped: %v", err)
	result.Success = false
	result.Message = err.Error()
	return result, err
}

// executeStep returns the change a step produces. Dependency steps without a
// target only yield a warning.
func (g *Generator) executeStep(ctx context.Context, plan *proto.ExecutionPlan, step *proto.ActionStep, working map[string]string) (*proto.ArtifactChange, string, error) {
	if step.Action == proto.ActionDeleteArtifact {
		if step.TargetArtifact == "" {
			return nil, "", errors.New("delete step has no target artifact")
		}
		return &proto.ArtifactChange{Path: step.TargetArtifact, Operation: proto.OpDelete}, "", nil
	}

	if step.TargetArtifact == "" {
		if step.Action == proto.ActionAddDependency {
			return nil, fmt.Sprintf("dependency noted but not applied: %s", step.Description), nil
		}
		return nil, "", fmt.Errorf("%s step has no target artifact", step.Action)
	}

	content := step.Answer
	if content == "" {
		raw, err := g.ask(ctx, plan, step, working)
		if err != nil {
			return nil, "", err
		}
		content = raw
	}
	content = llm.StripCodeFences(content)

	if err := CheckStructure(step.TargetArtifact, content); err != nil {
		return nil, "", err
	}

	op := step.Action.Operation()
	if _, exists := working[step.TargetArtifact]; !exists && op == proto.OpUpdate {
		op = proto.OpCreate
	}
	return &proto.ArtifactChange{Path: step.TargetArtifact, Operation: op, Content: content}, "", nil
}

func (g *Generator) ask(ctx context.Context, plan *proto.ExecutionPlan, step *proto.ActionStep, working map[string]string) (string, error) {
	system, err := g.renderer.RenderWithUserInstructions(templates.GenerateSystemTemplate, nil, g.instructions, utils.AudienceGenerator)
	if err != nil {
		return "", err
	}

	others := make([]string, 0, len(working))
	for _, p := range sortedKeys(working) {
		if p != step.TargetArtifact {
			others = append(others, p)
		}
	}

	prompt, err := g.renderer.Render(templates.GenerateTemplate, &templates.TemplateData{
		StepNumber:  step.StepNumber,
		Action:      string(step.Action),
		Description: step.Description,
		Target:      step.TargetArtifact,
		Content:     working[step.TargetArtifact],
		Notes:       plan.Notes,
		Artifacts:   others,
	})
	if err != nil {
		return "", err
	}

	return llm.Generate(ctx, g.oracle, system, prompt, llm.Options{
		Temperature: llm.TemperatureCreative,
		MaxTokens:   g.maxTokens,
		Streaming:   g.streaming,
	})
}

// Apply folds changes into artifacts in order.
func Apply(artifacts map[string]string, changes []proto.ArtifactChange) {
	for i := range changes {
		apply(artifacts, &changes[i])
	}
}

func apply(artifacts map[string]string, change *proto.ArtifactChange) {
	if change.Operation == proto.OpDelete {
		delete(artifacts, change.Path)
		return
	}
	artifacts[change.Path] = change.Content
}
