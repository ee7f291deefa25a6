package orchestrator

import (
	"context"
	"time"

	"conductor/pkg/proto"
)

// ConversationStats summarizes one live conversation.
type ConversationStats struct {
	CreatedAt     time.Time  `json:"created_at"`
	LastActivity  time.Time  `json:"last_activity"`
	ID            string     `json:"conversation_id"`
	Mode          proto.Mode `json:"mode"`
	LastPlanID    string     `json:"last_plan_id,omitempty"`
	MessageCount  int        `json:"message_count"`
	ArtifactCount int        `json:"artifact_count"`
	ErrorCount    int        `json:"error_count"`
	RetryEntries  int        `json:"retry_entries"`
}

// SystemStats summarizes all live conversations.
type SystemStats struct {
	ByMode              map[proto.Mode]int `json:"by_mode"`
	ActiveConversations int                `json:"active_conversations"`
	TotalMessages       int                `json:"total_messages"`
	TotalArtifacts      int                `json:"total_artifacts"`
}

// Get returns a snapshot of a live conversation.
func (o *Orchestrator) Get(id string) (*proto.ConversationSnapshot, bool) {
	c, ok := o.registry.get(id)
	if !ok {
		return nil, false
	}
	return c.snapshot(), true
}

// ConversationStats returns statistics for a live conversation.
func (o *Orchestrator) ConversationStats(id string) (ConversationStats, bool) {
	c, ok := o.registry.get(id)
	if !ok {
		return ConversationStats{}, false
	}
	snap := c.snapshot()
	return ConversationStats{
		ID:            snap.ID,
		Mode:          snap.Mode,
		MessageCount:  len(snap.Messages),
		ArtifactCount: len(snap.Artifacts),
		ErrorCount:    snap.ErrorCount,
		RetryEntries:  c.budget.Len(),
		LastPlanID:    snap.LastPlanID,
		CreatedAt:     snap.CreatedAt,
		LastActivity:  snap.LastActivity,
	}, true
}

// Clear evicts a conversation and deletes its persisted state. Clearing an
// unknown conversation is a no-op that reports false. A turn still running
// on the conversation finishes, but none of its writes reach the store.
func (o *Orchestrator) Clear(ctx context.Context, id string) bool {
	drop := func() {
		o.logStoreErr("delete conversation", o.opts.Store.DeleteConversation(context.WithoutCancel(ctx), id))
	}
	c, removed := o.registry.remove(id)
	if !removed {
		drop()
		return false
	}
	c.markCleared(drop)
	o.opts.Metrics.SetActiveConversations(o.registry.Len())
	o.logger.Info("Cleared conversation %s", id)
	return true
}

// SystemStats returns aggregate statistics.
func (o *Orchestrator) SystemStats() SystemStats {
	stats := SystemStats{ByMode: map[proto.Mode]int{proto.ModeChat: 0, proto.ModeCode: 0}}
	for _, c := range o.registry.all() {
		c.mu.RLock()
		stats.ByMode[c.mode]++
		stats.TotalMessages += len(c.messages)
		stats.TotalArtifacts += len(c.artifacts)
		c.mu.RUnlock()
		stats.ActiveConversations++
	}
	return stats
}

// SweepRetryBudgets drops expired retry entries from every conversation and
// returns how many were removed.
func (o *Orchestrator) SweepRetryBudgets() int {
	removed := 0
	for _, c := range o.registry.all() {
		removed += c.budget.Sweep()
	}
	return removed
}
