package proto

import "time"

// EventType enumerates progress events published per conversation.
type EventType string

const (
	EventAnalyzing  EventType = "analyzing"
	EventPlanning   EventType = "planning"
	EventCoding     EventType = "coding"
	EventValidating EventType = "validating"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Payload keys carried by events.
const (
	KeyArtifacts = "artifacts"
	KeyMessage   = "message"
	KeyMode      = "mode"
	KeyIntent    = "intent"
	KeyStep      = "step"
	KeyPlanID    = "plan_id"
)

// Event is a progress or result notification for one conversation.
type Event struct {
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload,omitempty"`
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversation_id"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, conversationID string, payload map[string]any) Event {
	return Event{
		Type:           t,
		ConversationID: conversationID,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}
}
