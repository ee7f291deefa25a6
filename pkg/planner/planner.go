// Package planner turns a code request into an ordered execution plan.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"conductor/pkg/agent/llm"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/templates"
	"conductor/pkg/utils"
)

// ErrPlanning wraps every CreatePlan failure.
var ErrPlanning = errors.New("planning failed")

// Planner asks the oracle for execution plans.
type Planner struct {
	oracle       llm.LLMClient
	renderer     *templates.Renderer
	instructions *utils.UserInstructions
	newID        func() string
	logger       *logx.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithRenderer shares a prompt renderer.
func WithRenderer(r *templates.Renderer) Option {
	return func(p *Planner) {
		if r != nil {
			p.renderer = r
		}
	}
}

// WithInstructions appends operator instructions to the planning prompt.
func WithInstructions(in *utils.UserInstructions) Option {
	return func(p *Planner) { p.instructions = in }
}

// WithIDGenerator replaces the plan ID source used when the oracle omits one.
func WithIDGenerator(fn func() string) Option {
	return func(p *Planner) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// NewPlanner creates a planner over oracle.
func NewPlanner(oracle llm.LLMClient, opts ...Option) *Planner {
	p := &Planner{
		oracle: oracle,
		newID:  func() string { return "plan-" + uuid.NewString() },
		logger: logx.NewLogger("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.renderer == nil {
		p.renderer = templates.MustRenderer()
	}
	return p
}

// CreatePlan asks the oracle for a plan implementing request. A plan with no
// steps is returned as-is; Validate reports it.
func (p *Planner) CreatePlan(ctx context.Context, request string, artifacts map[string]string) (*proto.ExecutionPlan, error) {
	ctx = llm.WithStage(ctx, llm.StagePlan)

	prompt, err := p.renderer.Render(templates.PlanTemplate, &templates.TemplateData{
		Request:   request,
		Artifacts: SortedPaths(artifacts),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}

	plan, err := p.ask(ctx, prompt)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Created plan %s with %d steps", plan.PlanID, len(plan.Steps))
	return plan, nil
}

// Refine asks the oracle to revise plan with feedback. The revision keeps the
// original plan ID. On any failure the original plan is returned unchanged.
func (p *Planner) Refine(ctx context.Context, plan *proto.ExecutionPlan, feedback string, artifacts map[string]string) *proto.ExecutionPlan {
	if plan == nil {
		return nil
	}
	ctx = llm.WithStage(ctx, llm.StagePlan)

	current, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		p.logger.Warn("Refine: marshal plan %s: %v", plan.PlanID, err)
		return plan
	}

	prompt, err := p.renderer.Render(templates.RefineTemplate, &templates.TemplateData{
		Plan:      string(current),
		Feedback:  feedback,
		Artifacts: SortedPaths(artifacts),
	})
	if err != nil {
		p.logger.Warn("Refine: render prompt: %v", err)
		return plan
	}

	refined, err := p.ask(ctx, prompt)
	if err != nil {
		p.logger.Warn("Refine failed for plan %s, keeping original: %v", plan.PlanID, err)
		return plan
	}
	if len(refined.Steps) == 0 {
		p.logger.Warn("Refine returned an empty plan for %s, keeping original", plan.PlanID)
		return plan
	}

	refined.PlanID = plan.PlanID
	return refined
}

func (p *Planner) ask(ctx context.Context, prompt string) (*proto.ExecutionPlan, error) {
	system, err := p.renderer.RenderWithUserInstructions(templates.PlanSystemTemplate, nil, p.instructions, utils.AudiencePlanner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}

	raw, err := llm.Generate(ctx, p.oracle, system, prompt, llm.Options{Temperature: llm.TemperatureDefault})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}

	plan, err := Parse(raw, p.newID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}
	return plan, nil
}

// SortedPaths returns the keys of artifacts in lexical order.
func SortedPaths(artifacts map[string]string) []string {
	paths := make([]string, 0, len(artifacts))
	for path := range artifacts {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
