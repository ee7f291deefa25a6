package persistence

import (
	"errors"
	"time"

	"conductor/pkg/proto"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// FailureRecord is one recorded pipeline failure.
type FailureRecord struct {
	CreatedAt      time.Time            `json:"created_at"`
	ConversationID string               `json:"conversation_id"`
	PlanID         string               `json:"plan_id"`
	Failure        proto.FailureDetails `json:"failure"`
	Attempt        int                  `json:"attempt"`
	ID             int64                `json:"id"`
}

// ConversationSummary is a listing row.
type ConversationSummary struct {
	UpdatedAt     time.Time  `json:"updated_at"`
	ID            string     `json:"id"`
	Mode          proto.Mode `json:"mode"`
	MessageCount  int        `json:"message_count"`
	ArtifactCount int        `json:"artifact_count"`
	ErrorCount    int        `json:"error_count"`
}

// MessageRequest appends a message to a conversation.
type MessageRequest struct {
	ConversationID string
	Message        proto.Message
}

// ArtifactRequest creates, updates or deletes one artifact.
type ArtifactRequest struct {
	ConversationID string
	Path           string
	Content        string
}
