// Package orchestrator routes each user turn of a conversation to the chat
// responder or the generation pipeline, and owns conversation state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"conductor/pkg/chat"
	"conductor/pkg/generator"
	"conductor/pkg/intent"
	"conductor/pkg/logx"
	"conductor/pkg/pipeline"
	"conductor/pkg/planner"
	"conductor/pkg/proto"
	"conductor/pkg/recovery"
)

// Turn outcomes reported to metrics.
const (
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeEscalated = "escalated"
	outcomeRejected  = "rejected"
)

// Orchestrator handles conversation turns. It is safe for concurrent use;
// turns on the same conversation are serialized.
type Orchestrator struct {
	registry   *Registry
	classifier *intent.Classifier
	responder  *chat.Responder
	planner    *planner.Planner
	pipeline   *pipeline.Pipeline
	analyzer   *recovery.Analyzer
	logger     *logx.Logger
	opts       Options
}

// turn carries the per-turn state threaded through routing.
type turn struct {
	start   time.Time
	conv    *conversation
	message string
	intent  proto.Intent
	outcome string
	user    proto.Message
	changes []proto.ArtifactChange
	// replyMode overrides the reported mode for this turn only.
	replyMode proto.Mode
}

// New wires an orchestrator from opts.
func New(opts Options) (*Orchestrator, error) {
	if opts.Oracle == nil {
		return nil, ErrNoOracle
	}
	if !opts.Headless && (opts.Store == nil || opts.Emitter == nil) {
		return nil, ErrMissingCollaborator
	}
	opts.withDefaults()

	pl := planner.NewPlanner(opts.Oracle,
		planner.WithRenderer(opts.Renderer),
		planner.WithInstructions(opts.Instructions),
		planner.WithIDGenerator(opts.NewID),
	)
	gen := generator.NewGenerator(opts.Oracle,
		generator.WithRenderer(opts.Renderer),
		generator.WithInstructions(opts.Instructions),
		generator.WithStreaming(opts.Streaming),
		generator.WithMaxTokens(opts.MaxTokens),
	)

	responderOpts := []chat.Option{
		chat.WithRenderer(opts.Renderer),
		chat.WithInstructions(opts.Instructions),
		chat.WithHistoryWindow(opts.HistoryWindow),
		chat.WithStreaming(opts.Streaming),
		chat.WithMaxTokens(opts.MaxTokens),
	}
	if opts.CodeIntentPolicy != nil {
		responderOpts = append(responderOpts, chat.WithCodeIntentPolicy(opts.CodeIntentPolicy))
	}

	return &Orchestrator{
		opts:     opts,
		registry: NewRegistry(),
		classifier: intent.NewClassifier(opts.Oracle,
			intent.WithHistoryWindow(opts.HistoryWindow),
			intent.WithRenderer(opts.Renderer),
		),
		responder: chat.NewResponder(opts.Oracle, responderOpts...),
		planner:   pl,
		pipeline:  pipeline.New(pl, gen, pipeline.WithMetrics(opts.Metrics), pipeline.WithOptimize(true)),
		analyzer: recovery.NewAnalyzer(opts.Oracle, opts.Renderer,
			recovery.WithMaxAttempts(opts.MaxRetryAttempts),
		),
		logger: logx.NewLogger("orchestrator"),
	}, nil
}

// Handle processes one user turn. It always returns a well-formed response;
// failures are reported through Response.Error.
func (o *Orchestrator) Handle(ctx context.Context, req proto.Request) (resp proto.Response) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return proto.Response{
			ConversationID: req.ConversationID,
			Mode:           proto.ModeChat,
			Message:        "Please enter a message.",
			Error:          ErrEmptyMessage.Error(),
		}
	}

	conv := o.resolve(ctx, req.ConversationID)
	ctx = logx.WithConversation(ctx, conv.id)

	if err := o.acquire(ctx, conv); err != nil {
		o.opts.Metrics.ObserveTurn(string(conv.Mode()), "", outcomeRejected, 0)
		return proto.Response{
			ConversationID: conv.id,
			Mode:           conv.Mode(),
			Message:        "Another request for this conversation is still running.",
			Error:          err.Error(),
		}
	}
	defer func() { <-conv.slot }()

	t := &turn{conv: conv, message: message, start: o.opts.Clock(), outcome: outcomeSuccess}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Recovered panic in turn for %s: %v", conv.id, r)
			conv.setMode(proto.ModeChat)
			t.outcome = outcomeError
			resp = o.finish(ctx, t, proto.Response{
				Message: chat.ErrorReply,
				Error:   fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	conv.mergeContext(req.Context)
	t.user = proto.Message{
		ID:        o.opts.NewID(),
		Role:      proto.RoleUser,
		Content:   message,
		Timestamp: o.opts.Clock(),
	}
	conv.append(t.user)
	o.emit(conv.id, proto.EventAnalyzing, map[string]any{proto.KeyMessage: message})

	return o.finish(ctx, t, o.route(ctx, t))
}

// resolve finds the conversation for id, rehydrating it from the store when
// it is not live. An empty id starts a new conversation.
func (o *Orchestrator) resolve(ctx context.Context, id string) *conversation {
	if id != "" {
		if c, ok := o.registry.get(id); ok {
			return c
		}
	} else {
		id = o.opts.NewID()
	}

	c := newConversation(id, o.opts.Clock(), recovery.NewBudget(o.opts.RetryTTL, o.opts.MaxRetryEntries, o.opts.Clock))
	if snap, err := o.opts.Store.GetConversation(ctx, id); err == nil && snap != nil {
		c.restore(snap)
		o.logger.Info("Restored conversation %s (%d messages)", id, len(snap.Messages))
	}

	c, added := o.registry.getOrAdd(c)
	if added {
		o.opts.Metrics.SetActiveConversations(o.registry.Len())
	}
	return c
}

// acquire takes the conversation's turn slot.
func (o *Orchestrator) acquire(ctx context.Context, c *conversation) error {
	if o.opts.RejectConcurrentTurns {
		select {
		case c.slot <- struct{}{}:
			return nil
		default:
			return ErrTurnInProgress
		}
	}
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for turn: %w", ctx.Err())
	}
}

// route classifies the message, applies any mode switch and dispatches.
func (o *Orchestrator) route(ctx context.Context, t *turn) proto.Response {
	conv := t.conv
	mode := conv.Mode()

	classification := o.classifier.Classify(ctx, t.message, conv.history(), mode)
	t.intent = classification.Intent
	logx.Debug(ctx, "orchestrator", "intent=%s confidence=%.2f suggested=%s mode=%s",
		classification.Intent, classification.Confidence, classification.SuggestedMode, mode)

	if intent.ShouldSwitchMode(classification, mode, o.opts.SwitchThreshold) {
		o.logger.Info("Conversation %s switching %s -> %s (%s)", conv.id, mode, classification.SuggestedMode, classification.Reasoning)
		conv.setMode(classification.SuggestedMode)
		o.opts.Metrics.IncModeSwitch(string(mode), string(classification.SuggestedMode), "classification")
		mode = classification.SuggestedMode
	}

	var resp proto.Response
	switch {
	case mode == proto.ModeCode && classification.Intent == proto.IntentErrorClarification:
		resp = o.handleClarification(ctx, t)
	case mode == proto.ModeCode && classification.Intent == proto.IntentExplain:
		t.replyMode = proto.ModeChat
		resp = o.handleChat(ctx, t)
	case mode == proto.ModeCode:
		resp = o.handleCode(ctx, t)
	default:
		resp = o.handleChat(ctx, t)
	}

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata[proto.MetaConfidence] = classification.Confidence
	return resp
}

func (o *Orchestrator) handleChat(ctx context.Context, t *turn) proto.Response {
	reply, err := o.responder.Respond(ctx, t.message, t.conv.history(), planner.SortedPaths(t.conv.artifactsCopy()))
	if err != nil {
		o.logger.Warn("Chat reply failed for %s: %v", t.conv.id, err)
		t.outcome = outcomeError
		return proto.Response{Message: reply.Message, Error: err.Error()}
	}
	return proto.Response{Message: reply.Message}
}

func (o *Orchestrator) handleCode(ctx context.Context, t *turn) proto.Response {
	out := o.pipeline.Run(ctx, o.planningRequest(t), t.conv.artifactsCopy(), o.progress(t.conv.id))
	return o.conclude(ctx, t, out, "")
}

// handleClarification replans the last plan with the user's answer. The
// refined plan keeps its ID so the retry budget carries over.
func (o *Orchestrator) handleClarification(ctx context.Context, t *turn) proto.Response {
	last := t.conv.LastPlan()
	if last == nil {
		return o.handleCode(ctx, t)
	}

	artifacts := t.conv.artifactsCopy()
	o.emit(t.conv.id, proto.EventPlanning, map[string]any{proto.KeyMessage: t.message, proto.KeyPlanID: last.PlanID})
	refined := o.planner.Refine(ctx, last, t.message, artifacts)
	out := o.pipeline.Execute(ctx, refined, artifacts, o.progress(t.conv.id))
	return o.conclude(ctx, t, out, "Fixed! ")
}

// conclude turns a pipeline outcome into a response, entering recovery for
// generation failures.
func (o *Orchestrator) conclude(ctx context.Context, t *turn, out *pipeline.Outcome, prefix string) proto.Response {
	if out.Plan != nil {
		t.conv.setLastPlan(out.Plan)
	}
	if out.Succeeded() {
		t.conv.budget.Reset(recovery.Key(out.Plan.PlanID))
		return o.applySuccess(t, out, prefix, nil)
	}

	switch out.FailedAt {
	case pipeline.StatePlanning, pipeline.StateValidatingPlan:
		return o.planningFailure(ctx, t, out)
	default:
		return o.recoverGeneration(ctx, t, out)
	}
}

// applySuccess commits the outcome's changes to the conversation.
func (o *Orchestrator) applySuccess(t *turn, out *pipeline.Outcome, prefix string, notes []string) proto.Response {
	changes := out.Changes()
	t.conv.applyChanges(changes)
	t.changes = append(t.changes, changes...)

	var b strings.Builder
	for _, n := range notes {
		b.WriteString(n)
		b.WriteString("\n")
	}
	if len(notes) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(prefix)
	b.WriteString(out.Result.Message)

	meta := map[string]any{proto.MetaPlanID: out.Plan.PlanID}
	if len(out.Result.Warnings) > 0 {
		meta[proto.MetaWarnings] = out.Result.Warnings
	}
	if len(notes) > 0 {
		meta[proto.MetaAttempt] = len(notes)
	}
	return proto.Response{
		Message:          b.String(),
		ArtifactsChanged: generator.Paths(changes),
		Metadata:         meta,
	}
}

// planningFailure reports a failure before generation. It stays in CODE mode
// and does not consume retry budget.
func (o *Orchestrator) planningFailure(ctx context.Context, t *turn, out *pipeline.Outcome) proto.Response {
	t.outcome = outcomeError
	reason := out.FailureMessage()
	f := recovery.Describe(reason, "", out.Err, o.opts.FailurePolicy)
	if len(out.Issues) > 0 {
		f.Kind, f.Severity = proto.FailureValidation, proto.SeverityMedium
	}
	planID := ""
	if out.Plan != nil {
		planID = out.Plan.PlanID
	}
	o.recordFailure(ctx, t.conv, planID, f, 0)

	msg := fmt.Sprintf("Planning failed: %s. Please try rephrasing your request.", stripPlanningPrefix(out.Err))
	if len(out.Issues) > 0 {
		msg = "Planning issue: " + strings.Join(out.Issues, "; ")
	}
	return proto.Response{Message: msg, Error: reason}
}

func stripPlanningPrefix(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if errors.Is(err, planner.ErrPlanning) {
		msg = strings.TrimPrefix(msg, planner.ErrPlanning.Error()+": ")
	}
	return msg
}

// planningRequest is the user's message plus any project context supplied
// with this or earlier turns.
func (o *Orchestrator) planningRequest(t *turn) string {
	pctx := t.conv.contextCopy()
	if len(pctx) == 0 {
		return t.message
	}
	keys := make([]string, 0, len(pctx))
	for k := range pctx {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(t.message)
	b.WriteString("\n\nProject context:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %v", k, pctx[k])
	}
	return b.String()
}

// progress adapts pipeline progress callbacks to conversation events.
func (o *Orchestrator) progress(convID string) pipeline.ProgressFunc {
	return func(eventType proto.EventType, payload map[string]any) {
		o.emit(convID, eventType, payload)
	}
}

func (o *Orchestrator) emit(convID string, t proto.EventType, payload map[string]any) {
	ev := proto.NewEvent(t, convID, payload)
	ev.Timestamp = o.opts.Clock().UTC()
	o.opts.Emitter.Emit(ev)
}

// finish appends the assistant reply, persists the turn and emits the
// terminal event.
func (o *Orchestrator) finish(ctx context.Context, t *turn, resp proto.Response) proto.Response {
	conv := t.conv
	resp.ConversationID = conv.id
	resp.Mode = conv.Mode()
	if t.replyMode != "" {
		resp.Mode = t.replyMode
	}
	if resp.Intent == "" {
		resp.Intent = t.intent
	}
	if resp.Error != "" && t.outcome == outcomeSuccess {
		t.outcome = outcomeError
	}

	meta := map[string]any{}
	if resp.Error != "" {
		meta["error"] = resp.Error
	}
	reply := proto.Message{
		ID:        o.opts.NewID(),
		Role:      proto.RoleAssistant,
		Content:   resp.Message,
		Timestamp: o.opts.Clock(),
		Metadata:  meta,
	}
	conv.append(reply)
	o.persistTurn(ctx, t, reply)

	if resp.Error != "" {
		o.emit(conv.id, proto.EventError, map[string]any{proto.KeyMessage: resp.Error, proto.KeyMode: string(resp.Mode)})
	} else {
		artifacts := resp.ArtifactsChanged
		if artifacts == nil {
			artifacts = []string{}
		}
		o.emit(conv.id, proto.EventComplete, map[string]any{proto.KeyArtifacts: artifacts, proto.KeyMode: string(resp.Mode)})
	}

	o.opts.Metrics.ObserveTurn(string(resp.Mode), string(t.intent), t.outcome, o.opts.Clock().Sub(t.start))
	return resp
}
