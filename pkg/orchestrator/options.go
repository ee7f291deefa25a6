package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/agent/llm"
	"conductor/pkg/chat"
	"conductor/pkg/intent"
	"conductor/pkg/metrics"
	"conductor/pkg/proto"
	"conductor/pkg/recovery"
	"conductor/pkg/templates"
	"conductor/pkg/utils"
)

var (
	// ErrTurnInProgress is returned when a conversation is already handling a
	// turn and concurrent turns are rejected.
	ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")

	// ErrNoOracle is returned by New without an oracle.
	ErrNoOracle = errors.New("orchestrator requires an oracle")

	// ErrMissingCollaborator is returned by New when a store or emitter is
	// missing and headless operation was not requested.
	ErrMissingCollaborator = errors.New("store and emitter are required unless running headless")

	// ErrEmptyMessage is reported for blank requests.
	ErrEmptyMessage = errors.New("message is empty")
)

// Store persists conversations. Writes are best effort: the orchestrator
// logs their errors and carries on.
type Store interface {
	SaveConversation(ctx context.Context, snap *proto.ConversationSnapshot) error
	AppendMessage(ctx context.Context, conversationID string, msg proto.Message) error
	UpsertArtifact(ctx context.Context, conversationID, path, content string) error
	DeleteArtifact(ctx context.Context, conversationID, path string) error
	RecordFailure(ctx context.Context, conversationID, planID string, f proto.FailureDetails, attempt int) error
	DeleteConversation(ctx context.Context, conversationID string) error
	GetConversation(ctx context.Context, conversationID string) (*proto.ConversationSnapshot, error)
}

// Emitter publishes conversation events. Emit must not block.
type Emitter interface {
	Emit(ev proto.Event)
}

// Options wires an Orchestrator. Oracle is required; Store and Emitter are
// required unless Headless is set.
type Options struct {
	Oracle  llm.LLMClient
	Store   Store
	Emitter Emitter
	Metrics *metrics.OrchestratorMetrics

	// Clock defaults to time.Now.
	Clock func() time.Time
	// NewID generates conversation and message IDs. Defaults to uuid.
	NewID func() string

	Renderer     *templates.Renderer
	Instructions *utils.UserInstructions

	// CodeIntentPolicy decides when a chat reply gets a Code Mode tip.
	CodeIntentPolicy chat.CodeIntentPolicy
	// FailurePolicy categorizes failure messages.
	FailurePolicy recovery.Policy

	SwitchThreshold  float64
	HistoryWindow    int
	MaxRetryAttempts int
	RetryTTL         time.Duration
	MaxRetryEntries  int
	MaxTokens        int
	Streaming        bool

	Headless              bool
	RejectConcurrentTurns bool
}

func (o *Options) withDefaults() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Renderer == nil {
		o.Renderer = templates.MustRenderer()
	}
	if o.FailurePolicy == nil {
		o.FailurePolicy = recovery.Categorize
	}
	if o.SwitchThreshold <= 0 {
		o.SwitchThreshold = intent.DefaultSwitchThreshold
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = intent.DefaultHistoryWindow
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = recovery.MaxRetryAttempts
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = llm.DefaultMaxTokens
	}
	if o.Store == nil {
		o.Store = nopStore{}
	}
	if o.Emitter == nil {
		o.Emitter = nopEmitter{}
	}
}

type nopStore struct{}

func (nopStore) SaveConversation(context.Context, *proto.ConversationSnapshot) error { return nil }
func (nopStore) AppendMessage(context.Context, string, proto.Message) error          { return nil }
func (nopStore) UpsertArtifact(context.Context, string, string, string) error        { return nil }
func (nopStore) DeleteArtifact(context.Context, string, string) error                { return nil }
func (nopStore) RecordFailure(context.Context, string, string, proto.FailureDetails, int) error {
	return nil
}
func (nopStore) DeleteConversation(context.Context, string) error { return nil }
func (nopStore) GetConversation(context.Context, string) (*proto.ConversationSnapshot, error) {
	return nil, errNotStored
}

var errNotStored = errors.New("headless: no store")

type nopEmitter struct{}

func (nopEmitter) Emit(proto.Event) {}
