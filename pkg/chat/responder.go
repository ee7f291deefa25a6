// Package chat produces CHAT-mode replies: conversational answers that never
// carry code, with a hint toward Code Mode when the user seems to want
// something built.
package chat

import (
	"context"
	"fmt"
	"strings"

	"conductor/pkg/agent/llm"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/templates"
	"conductor/pkg/utils"
)

// DefaultHistoryWindow is how many prior messages a reply sees.
const DefaultHistoryWindow = 5

// DefaultMessageTokenLimit caps the user message sent to the oracle.
const DefaultMessageTokenLimit = 8000

// Reply is a finished chat answer.
type Reply struct {
	Message string
	// Suggested is set when CodeModeTip was appended.
	Suggested bool
	// Sanitized is set when leaked code was removed.
	Sanitized bool
}

// Responder answers chat turns through the oracle.
type Responder struct {
	oracle       llm.LLMClient
	renderer     *templates.Renderer
	scanner      SecretScanner
	policy       CodeIntentPolicy
	instructions *utils.UserInstructions
	logger       *logx.Logger
	counter      *utils.TokenCounter
	window       int
	maxTokens    int
	messageLimit int
	streaming    bool
}

// Option configures a Responder.
type Option func(*Responder)

// WithRenderer shares a prompt renderer.
func WithRenderer(r *templates.Renderer) Option {
	return func(c *Responder) {
		if r != nil {
			c.renderer = r
		}
	}
}

// WithScanner sets the secret scanner. Nil disables scanning.
func WithScanner(s SecretScanner) Option {
	return func(c *Responder) { c.scanner = s }
}

// WithCodeIntentPolicy replaces DetectCodeIntent.
func WithCodeIntentPolicy(p CodeIntentPolicy) Option {
	return func(c *Responder) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithInstructions adds user-provided CHAT.md guidance to the system prompt.
func WithInstructions(instr *utils.UserInstructions) Option {
	return func(c *Responder) { c.instructions = instr }
}

// WithHistoryWindow overrides DefaultHistoryWindow.
func WithHistoryWindow(n int) Option {
	return func(c *Responder) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithStreaming reads replies through the oracle's stream API.
func WithStreaming(enabled bool) Option {
	return func(c *Responder) { c.streaming = enabled }
}

// WithMessageTokenLimit overrides DefaultMessageTokenLimit.
func WithMessageTokenLimit(n int) Option {
	return func(c *Responder) {
		if n > 0 {
			c.messageLimit = n
		}
	}
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int) Option {
	return func(c *Responder) { c.maxTokens = n }
}

// NewResponder creates a responder over oracle.
func NewResponder(oracle llm.LLMClient, opts ...Option) *Responder {
	r := &Responder{
		oracle:       oracle,
		scanner:      NewPatternScanner(DefaultScanTimeout),
		policy:       DetectCodeIntent,
		logger:       logx.NewLogger("chat"),
		window:       DefaultHistoryWindow,
		maxTokens:    llm.DefaultMaxTokens,
		messageLimit: DefaultMessageTokenLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	// A nil counter falls back to a character estimate.
	r.counter, _ = utils.NewTokenCounter(oracle.GetModelName())
	if r.renderer == nil {
		r.renderer = templates.MustRenderer()
	}
	return r
}

// Respond answers message given the conversation history (excluding the
// current message) and the conversation's artifact paths. On an oracle
// failure the returned Reply holds ErrorReply and the error is returned too.
func (r *Responder) Respond(ctx context.Context, message string, history []proto.Message, artifacts []string) (Reply, error) {
	ctx = llm.WithStage(ctx, llm.StageChat)

	outgoing, err := Redact(ctx, r.scanner, message)
	if err != nil {
		r.logger.Warn("Secret scan of user message failed: %v", err)
	}
	if !r.counter.ValidateTokenLimit(outgoing, r.messageLimit) {
		logx.Debug(ctx, "chat", "truncating user message to %d tokens", r.messageLimit)
		outgoing = r.counter.TruncateToTokenLimit(outgoing, r.messageLimit)
	}

	system, err := r.renderer.RenderWithUserInstructions(templates.ChatSystemTemplate, nil, r.instructions, utils.AudienceChat)
	if err != nil {
		return Reply{Message: ErrorReply}, fmt.Errorf("render chat system prompt: %w", err)
	}
	prompt, err := r.renderer.Render(templates.ChatTemplate, &templates.TemplateData{
		Message:   outgoing,
		History:   templates.FormatHistory(history, r.window),
		Artifacts: artifacts,
	})
	if err != nil {
		return Reply{Message: ErrorReply}, fmt.Errorf("render chat prompt: %w", err)
	}

	raw, err := llm.Generate(ctx, r.oracle, system, prompt, llm.Options{
		Temperature: llm.TemperatureCreative,
		MaxTokens:   r.maxTokens,
		Streaming:   r.streaming,
	})
	if err != nil {
		return Reply{Message: ErrorReply}, fmt.Errorf("chat reply: %w", err)
	}

	text, sanitized := Sanitize(strings.TrimSpace(raw))
	if sanitized {
		logx.Debug(ctx, "chat", "removed code from chat reply")
	}
	if text, err = Redact(ctx, r.scanner, text); err != nil {
		r.logger.Warn("Secret scan of chat reply failed: %v", err)
	}

	reply := Reply{Message: text, Sanitized: sanitized}
	if r.policy(message) {
		reply.Message += CodeModeTip
		reply.Suggested = true
	}
	return reply, nil
}
