package recovery

import (
	"context"
	"fmt"
	"strings"

	"conductor/pkg/agent/llm"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/templates"
)

// DefaultQuestion is asked when an escalated verdict carries no questions.
const DefaultQuestion = "How would you like me to proceed?"

// Analyzer asks the oracle whether a failure can be fixed automatically.
type Analyzer struct {
	oracle   llm.LLMClient
	renderer *templates.Renderer
	logger   *logx.Logger
	limit    int
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithMaxAttempts overrides MaxRetryAttempts.
func WithMaxAttempts(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.limit = n
		}
	}
}

// NewAnalyzer creates an analyzer over oracle. A nil renderer uses the
// embedded templates.
func NewAnalyzer(oracle llm.LLMClient, renderer *templates.Renderer, opts ...AnalyzerOption) *Analyzer {
	if renderer == nil {
		renderer = templates.MustRenderer()
	}
	a := &Analyzer{
		oracle:   oracle,
		renderer: renderer,
		logger:   logx.NewLogger("recovery"),
		limit:    MaxRetryAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxAttempts returns the attempt ceiling.
func (a *Analyzer) MaxAttempts() int {
	return a.limit
}

// Analyze returns a verdict for failure at the given attempt. content is the
// relevant artifact content, if known. It never fails: oracle or parse
// errors produce Fallback.
func (a *Analyzer) Analyze(ctx context.Context, failure proto.FailureDetails, content string, attempt int) proto.RecoveryVerdict {
	ctx = llm.WithStage(ctx, llm.StageRecover)

	system, err := a.renderer.Render(templates.RecoverSystemTemplate, nil)
	if err != nil {
		return a.finalize(ctx, Fallback(err), failure, attempt)
	}
	prompt, err := a.renderer.Render(templates.RecoverTemplate, &templates.TemplateData{
		Kind:           string(failure.Kind),
		Severity:       string(failure.Severity),
		FailureMessage: failure.Message,
		Target:         failure.ArtifactPath,
		Trace:          failure.Trace,
		Content:        content,
		Attempt:        attempt,
		MaxAttempts:    a.limit,
	})
	if err != nil {
		return a.finalize(ctx, Fallback(err), failure, attempt)
	}

	raw, err := llm.Generate(ctx, a.oracle, system, prompt, llm.Options{Temperature: llm.TemperatureDeterministic})
	if err != nil {
		a.logger.Warn("Error analysis failed: %v", err)
		return a.finalize(ctx, Fallback(err), failure, attempt)
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		a.logger.Warn("Unparseable error analysis: %v", err)
		return a.finalize(ctx, Fallback(err), failure, attempt)
	}
	return a.finalize(ctx, verdict, failure, attempt)
}

// finalize applies the escalation rules the oracle cannot override.
func (a *Analyzer) finalize(ctx context.Context, v proto.RecoveryVerdict, failure proto.FailureDetails, attempt int) proto.RecoveryVerdict {
	v.AttemptNumber = attempt
	if ShouldEscalateWithin(failure, attempt, a.limit) {
		v.AutoFixable = false
	}
	if v.AutoFixable && strings.TrimSpace(v.ProposedContent) == "" {
		v.AutoFixable = false
	}
	if !v.AutoFixable && len(v.UserQuestions) == 0 {
		v.UserQuestions = []string{DefaultQuestion}
	}
	logx.Debug(ctx, "recovery", "verdict attempt=%d auto_fixable=%t kind=%s severity=%s",
		attempt, v.AutoFixable, failure.Kind, failure.Severity)
	return v
}

// Fallback is the verdict used when analysis itself fails.
func Fallback(err error) proto.RecoveryVerdict {
	return proto.RecoveryVerdict{
		AutoFixable:   false,
		Explanation:   fmt.Sprintf("Error analysis failed: %v", err),
		UserQuestions: []string{"Please review the error manually"},
	}
}

type rawVerdict struct {
	AutoFixable     *bool    `json:"auto_fixable"`
	CanAutoFix      *bool    `json:"can_auto_fix"`
	ProposedContent string   `json:"proposed_content"`
	SuggestedFix    string   `json:"suggested_fix"`
	Explanation     string   `json:"explanation"`
	UserQuestions   []string `json:"user_questions"`
}

// ParseVerdict decodes an oracle analysis. Fenced proposed content is
// unwrapped.
func ParseVerdict(raw string) (proto.RecoveryVerdict, error) {
	var r rawVerdict
	if err := llm.DecodeJSON(raw, &r); err != nil {
		return proto.RecoveryVerdict{}, fmt.Errorf("parse verdict: %w", err)
	}

	v := proto.RecoveryVerdict{
		Explanation:     strings.TrimSpace(r.Explanation),
		ProposedContent: r.ProposedContent,
	}
	switch {
	case r.AutoFixable != nil:
		v.AutoFixable = *r.AutoFixable
	case r.CanAutoFix != nil:
		v.AutoFixable = *r.CanAutoFix
	}
	if v.ProposedContent == "" {
		v.ProposedContent = r.SuggestedFix
	}
	v.ProposedContent = llm.StripCodeFences(v.ProposedContent)

	for _, q := range r.UserQuestions {
		if q = strings.TrimSpace(q); q != "" {
			v.UserQuestions = append(v.UserQuestions, q)
		}
	}
	return v, nil
}
