package orchestrator

import (
	"maps"
	"sync"
	"time"

	"conductor/pkg/proto"
	"conductor/pkg/recovery"
)

// conversation is the orchestrator-owned state of one conversation. Turns
// are serialized by slot; mu guards fields against concurrent readers.
type conversation struct {
	createdAt    time.Time
	lastActivity time.Time
	artifacts    map[string]string
	context      map[string]any
	budget       *recovery.Budget
	lastPlan     *proto.ExecutionPlan
	slot         chan struct{}
	id           string
	mode         proto.Mode
	messages     []proto.Message
	failures     []proto.FailureDetails
	mu           sync.RWMutex
	// persistMu orders store writes against Clear; cleared is set under it.
	persistMu sync.Mutex
	cleared   bool
}

func newConversation(id string, now time.Time, budget *recovery.Budget) *conversation {
	return &conversation{
		id:           id,
		mode:         proto.ModeChat,
		artifacts:    make(map[string]string),
		context:      make(map[string]any),
		budget:       budget,
		slot:         make(chan struct{}, 1),
		createdAt:    now,
		lastActivity: now,
	}
}

// restore loads persisted state into a fresh conversation.
func (c *conversation) restore(snap *proto.ConversationSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Mode.IsValid() {
		c.mode = snap.Mode
	}
	c.messages = append([]proto.Message(nil), snap.Messages...)
	if snap.Artifacts != nil {
		c.artifacts = maps.Clone(snap.Artifacts)
	}
	if !snap.CreatedAt.IsZero() {
		c.createdAt = snap.CreatedAt
	}
	if !snap.LastActivity.IsZero() {
		c.lastActivity = snap.LastActivity
	}
}

func (c *conversation) Mode() proto.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *conversation) setMode(m proto.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

func (c *conversation) append(msg proto.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.lastActivity = msg.Timestamp
}

// history returns the messages before the current turn's user message.
func (c *conversation) history() []proto.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return nil
	}
	return append([]proto.Message(nil), c.messages[:len(c.messages)-1]...)
}

func (c *conversation) artifactsCopy() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.artifacts)
}

func (c *conversation) mergeContext(ctx map[string]any) {
	if len(ctx) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.context, ctx)
}

func (c *conversation) contextCopy() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.context)
}

func (c *conversation) applyChanges(changes []proto.ArtifactChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range changes {
		if changes[i].Operation == proto.OpDelete {
			delete(c.artifacts, changes[i].Path)
			continue
		}
		c.artifacts[changes[i].Path] = changes[i].Content
	}
}

func (c *conversation) recordFailure(f proto.FailureDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

func (c *conversation) setLastPlan(p *proto.ExecutionPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPlan = p
}

func (c *conversation) LastPlan() *proto.ExecutionPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPlan
}

func (c *conversation) snapshot() *proto.ConversationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := &proto.ConversationSnapshot{
		ID:           c.id,
		Mode:         c.mode,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
		Artifacts:    maps.Clone(c.artifacts),
		Messages:     append([]proto.Message(nil), c.messages...),
		ErrorCount:   len(c.failures),
	}
	if c.lastPlan != nil {
		snap.LastPlanID = c.lastPlan.PlanID
	}
	return snap
}

// Registry is the process-wide map of live conversations.
type Registry struct {
	convs map[string]*conversation
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{convs: make(map[string]*conversation)}
}

func (r *Registry) get(id string) (*conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.convs[id]
	return c, ok
}

// getOrAdd returns the existing conversation for c.id, or stores c.
func (r *Registry) getOrAdd(c *conversation) (*conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.convs[c.id]; ok {
		return existing, false
	}
	r.convs[c.id] = c
	return c, true
}

func (r *Registry) remove(id string) (*conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	delete(r.convs, id)
	return c, ok
}

func (r *Registry) all() []*conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conversation, 0, len(r.convs))
	for _, c := range r.convs {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.convs)
}

// persist runs write against the store unless the conversation was cleared.
func (c *conversation) persist(write func()) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if c.cleared {
		return
	}
	write()
}

// markCleared stops later writes and runs drop while holding the write
// order, so no turn write can land after it.
func (c *conversation) markCleared(drop func()) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.cleared = true
	drop()
}
