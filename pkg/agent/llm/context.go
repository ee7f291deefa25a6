package llm

import "context"

type stageKey struct{}

// Pipeline stages used to label oracle calls.
const (
	StageClassify = "classify"
	StagePlan     = "plan"
	StageGenerate = "generate"
	StageRecover  = "recover"
	StageChat     = "chat"
)

// WithStage tags ctx with the pipeline stage issuing oracle calls.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage carried by ctx, or "unknown".
func StageFrom(ctx context.Context) string {
	if stage, ok := ctx.Value(stageKey{}).(string); ok && stage != "" {
		return stage
	}
	return "unknown"
}
