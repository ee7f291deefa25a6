// Package proto defines the value types exchanged between the orchestrator,
// its pipeline stages and the transport layer.
package proto

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the routing state of a conversation.
type Mode string

const (
	// ModeChat answers conversationally and never produces artifacts.
	ModeChat Mode = "chat"
	// ModeCode runs the generation pipeline.
	ModeCode Mode = "code"
)

// IsValid reports whether m is one of the two known modes.
func (m Mode) IsValid() bool {
	return m == ModeChat || m == ModeCode
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode converts a case-insensitive string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Intent is the classifier's judgment about what a message asks for.
type Intent string

const (
	IntentChat               Intent = "chat"
	IntentCode               Intent = "code"
	IntentExplain            Intent = "explain"
	IntentErrorClarification Intent = "error_clarification"
)

// IsValid reports whether i is a known intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentChat, IntentCode, IntentExplain, IntentErrorClarification:
		return true
	}
	return false
}

func (i Intent) String() string {
	return string(i)
}

// DefaultMode is the mode an intent naturally belongs to.
func (i Intent) DefaultMode() Mode {
	switch i {
	case IntentCode, IntentErrorClarification:
		return ModeCode
	default:
		return ModeChat
	}
}

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation's append-only history.
type Message struct {
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
}

// IntentClassification is produced fresh for every incoming message.
type IntentClassification struct {
	Intent        Intent  `json:"intent"`
	SuggestedMode Mode    `json:"suggested_mode"`
	Reasoning     string  `json:"reasoning"`
	Confidence    float64 `json:"confidence"`
}

// ConversationSnapshot is a point-in-time copy of a conversation, used for
// persistence and transport reads.
type ConversationSnapshot struct {
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	ID           string            `json:"id"`
	Mode         Mode              `json:"mode"`
	LastPlanID   string            `json:"last_plan_id,omitempty"`
	Messages     []Message         `json:"messages,omitempty"`
	ErrorCount   int               `json:"error_count"`
}

// ArtifactPaths returns the snapshot's artifact paths in no particular order.
func (s *ConversationSnapshot) ArtifactPaths() []string {
	paths := make([]string, 0, len(s.Artifacts))
	for p := range s.Artifacts {
		paths = append(paths, p)
	}
	return paths
}
