package proto

// Metadata keys set on responses.
const (
	MetaNeedsClarification = "needs_clarification"
	MetaExpectedIntent     = "expected_intent"
	MetaAttempt            = "attempt"
	MetaPlanID             = "plan_id"
	MetaConfidence         = "confidence"
	MetaWarnings           = "warnings"
)

// Request is a single user turn as received from a transport.
type Request struct {
	Context        map[string]any `json:"context,omitempty"`
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// Response is always well formed, including on failure.
type Response struct {
	Metadata         map[string]any `json:"metadata,omitempty"`
	Message          string         `json:"message"`
	ConversationID   string         `json:"conversation_id"`
	Mode             Mode           `json:"mode"`
	Intent           Intent         `json:"intent,omitempty"`
	Error            string         `json:"error,omitempty"`
	ArtifactsChanged []string       `json:"artifacts_changed,omitempty"`
}
