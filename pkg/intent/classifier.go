// Package intent classifies user messages and decides mode switches.
package intent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"conductor/pkg/agent/llm"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/templates"
	"conductor/pkg/utils"
)

const (
	// DefaultHistoryWindow is how many prior messages inform a classification.
	DefaultHistoryWindow = 5

	// FallbackConfidence is reported when classification fails.
	FallbackConfidence = 0.3

	// FallbackReasoning is reported when classification fails.
	FallbackReasoning = "classification failed"

	defaultConfidence = 0.5
	noReasoning       = "No reasoning provided"
)

// Classifier asks the oracle what a message wants.
type Classifier struct {
	oracle   llm.LLMClient
	renderer *templates.Renderer
	logger   *logx.Logger
	window   int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithHistoryWindow overrides DefaultHistoryWindow.
func WithHistoryWindow(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithRenderer shares a prompt renderer.
func WithRenderer(r *templates.Renderer) Option {
	return func(c *Classifier) {
		if r != nil {
			c.renderer = r
		}
	}
}

// NewClassifier creates a classifier over oracle.
func NewClassifier(oracle llm.LLMClient, opts ...Option) *Classifier {
	c := &Classifier{
		oracle: oracle,
		logger: logx.NewLogger("intent"),
		window: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.renderer == nil {
		c.renderer = templates.MustRenderer()
	}
	return c
}

// Classify returns the intent of message. It never fails: any oracle or
// parse error yields Fallback().
func (c *Classifier) Classify(ctx context.Context, message string, history []proto.Message, mode proto.Mode) proto.IntentClassification {
	ctx = llm.WithStage(ctx, llm.StageClassify)

	system, err := c.renderer.Render(templates.ClassifySystemTemplate, nil)
	if err != nil {
		c.logger.Error("Render classify system prompt: %v", err)
		return Fallback()
	}
	prompt, err := c.renderer.Render(templates.ClassifyTemplate, &templates.TemplateData{
		Message: message,
		Mode:    mode.String(),
		History: templates.FormatHistory(history, c.window),
	})
	if err != nil {
		c.logger.Error("Render classify prompt: %v", err)
		return Fallback()
	}

	raw, err := llm.Generate(ctx, c.oracle, system, prompt, llm.Options{Temperature: llm.TemperatureDeterministic})
	if err != nil {
		c.logger.Warn("Classification failed, defaulting to chat: %v", err)
		return Fallback()
	}

	result, err := Parse(raw)
	if err != nil {
		c.logger.Warn("Unparseable classification, defaulting to chat: %v", err)
		return Fallback()
	}

	logx.Debug(ctx, "intent", "classified %q as %s (%.2f)", utils.Truncate(message, 50), result.Intent, result.Confidence)
	return result
}

// Fallback is the classification used whenever the oracle cannot be trusted.
func Fallback() proto.IntentClassification {
	return proto.IntentClassification{
		Intent:        proto.IntentChat,
		Confidence:    FallbackConfidence,
		Reasoning:     FallbackReasoning,
		SuggestedMode: proto.ModeChat,
	}
}

type rawClassification struct {
	Confidence    *float64 `json:"confidence"`
	Intent        string   `json:"intent"`
	Reasoning     string   `json:"reasoning"`
	SuggestedMode string   `json:"suggested_mode"`
}

// Parse decodes an oracle reply. Unknown intents become chat, confidence is
// clamped to [0,1], and a missing suggested mode follows the intent.
func Parse(raw string) (proto.IntentClassification, error) {
	var r rawClassification
	if err := llm.DecodeJSON(raw, &r); err != nil {
		return proto.IntentClassification{}, fmt.Errorf("parse classification: %w", err)
	}

	out := proto.IntentClassification{
		Intent:     parseIntent(r.Intent),
		Confidence: defaultConfidence,
		Reasoning:  strings.TrimSpace(r.Reasoning),
	}
	if r.Confidence != nil {
		out.Confidence = clamp(*r.Confidence)
	}
	if out.Reasoning == "" {
		out.Reasoning = noReasoning
	}

	mode, err := proto.ParseMode(r.SuggestedMode)
	if err != nil {
		mode = out.Intent.DefaultMode()
	}
	out.SuggestedMode = mode

	return out, nil
}

func parseIntent(s string) proto.Intent {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "code":
		return proto.IntentCode
	case "explain":
		return proto.IntentExplain
	case "error", "error_clarification", "clarification":
		return proto.IntentErrorClarification
	default:
		return proto.IntentChat
	}
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
