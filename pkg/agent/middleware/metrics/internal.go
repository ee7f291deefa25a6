package metrics

import (
	"sync"
	"time"
)

// Usage is the aggregated oracle usage of one conversation.
type Usage struct {
	LastUpdated      time.Time `json:"last_updated"`
	ConversationID   string    `json:"conversation_id"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	FailedCount      int64     `json:"failed_count"`
}

// InternalRecorder aggregates usage in memory per conversation. It backs
// conversation stats without needing a Prometheus server.
type InternalRecorder struct {
	usage map[string]*Usage
	mu    sync.RWMutex
}

// NewInternalRecorder creates an empty in-memory recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{usage: make(map[string]*Usage)}
}

// ObserveRequest aggregates tokens for the request's conversation.
func (r *InternalRecorder) ObserveRequest(
	_, conversationID, _ string,
	promptTokens, completionTokens int,
	success bool,
	_ string,
	_ time.Duration,
) {
	if conversationID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, exists := r.usage[conversationID]
	if !exists {
		u = &Usage{ConversationID: conversationID}
		r.usage[conversationID] = u
	}

	u.RequestCount++
	u.LastUpdated = time.Now()
	if !success {
		u.FailedCount++
		return
	}
	u.PromptTokens += int64(promptTokens)
	u.CompletionTokens += int64(completionTokens)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

func (r *InternalRecorder) IncThrottle(_, _ string) {}

func (r *InternalRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// ConversationUsage returns a copy of the usage for a conversation.
func (r *InternalRecorder) ConversationUsage(conversationID string) (Usage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.usage[conversationID]
	if !ok {
		return Usage{ConversationID: conversationID}, false
	}
	return *u, true
}

// Forget drops usage for a cleared conversation.
func (r *InternalRecorder) Forget(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.usage, conversationID)
}
