package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// Operation constants for Request.
const (
	OpUpsertConversation = "upsert_conversation"
	OpInsertMessage      = "insert_message"
	OpUpsertArtifact     = "upsert_artifact"
	OpDeleteArtifact     = "delete_artifact"
	OpInsertFailure      = "insert_failure"
	OpDeleteConversation = "delete_conversation"
)

// DefaultQueueSize is the write queue capacity.
const DefaultQueueSize = 256

// ErrQueueFull is returned when a write cannot be queued without blocking.
var ErrQueueFull = errors.New("persistence queue full")

// ErrStoreClosed is returned for writes after Close.
var ErrStoreClosed = errors.New("persistence store closed")

// Request is a queued write for the persistence worker.
type Request struct {
	Data      any
	Operation string
}

// Store is the write-behind conversation store. Writes are queued and
// applied by a single worker; reads go straight to the database.
type Store struct {
	ops    *DatabaseOperations
	ch     chan *Request
	logger *logx.Logger
	mu     sync.RWMutex
	closed bool
}

// NewStore creates a store over ops with a queue of the given size.
func NewStore(ops *DatabaseOperations, queueSize int) *Store {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Store{
		ops:    ops,
		ch:     make(chan *Request, queueSize),
		logger: logx.NewLogger("persistence"),
	}
}

// Requests is the queue the worker drains. It is closed by Close.
func (s *Store) Requests() <-chan *Request {
	return s.ch
}

// Ops exposes direct database operations.
func (s *Store) Ops() *DatabaseOperations {
	return s.ops
}

// Pending returns the number of queued writes.
func (s *Store) Pending() int {
	return len(s.ch)
}

// Close stops accepting writes and closes the queue. It is idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Store) enqueue(op string, data any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	select {
	case s.ch <- &Request{Operation: op, Data: data}:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, op)
	}
}

// SaveConversation queues a header upsert.
func (s *Store) SaveConversation(_ context.Context, snap *proto.ConversationSnapshot) error {
	header := *snap
	header.Messages = nil
	header.Artifacts = nil
	return s.enqueue(OpUpsertConversation, &header)
}

// AppendMessage queues a history append.
func (s *Store) AppendMessage(_ context.Context, conversationID string, msg proto.Message) error {
	return s.enqueue(OpInsertMessage, &MessageRequest{ConversationID: conversationID, Message: msg})
}

// UpsertArtifact queues an artifact write.
func (s *Store) UpsertArtifact(_ context.Context, conversationID, path, content string) error {
	return s.enqueue(OpUpsertArtifact, &ArtifactRequest{ConversationID: conversationID, Path: path, Content: content})
}

// DeleteArtifact queues an artifact removal.
func (s *Store) DeleteArtifact(_ context.Context, conversationID, path string) error {
	return s.enqueue(OpDeleteArtifact, &ArtifactRequest{ConversationID: conversationID, Path: path})
}

// RecordFailure queues a failure record.
func (s *Store) RecordFailure(_ context.Context, conversationID, planID string, f proto.FailureDetails, attempt int) error {
	return s.enqueue(OpInsertFailure, &FailureRecord{
		ConversationID: conversationID,
		PlanID:         planID,
		Failure:        f,
		Attempt:        attempt,
	})
}

// DeleteConversation queues removal of a conversation and its rows.
func (s *Store) DeleteConversation(_ context.Context, conversationID string) error {
	return s.enqueue(OpDeleteConversation, conversationID)
}

// GetConversation reads a snapshot directly. Queued writes that have not
// been applied yet are not visible.
func (s *Store) GetConversation(ctx context.Context, id string) (*proto.ConversationSnapshot, error) {
	return s.ops.GetConversation(ctx, id)
}

// Apply executes one queued request.
func (ops *DatabaseOperations) Apply(ctx context.Context, req *Request) error {
	switch req.Operation {
	case OpUpsertConversation:
		if snap, ok := req.Data.(*proto.ConversationSnapshot); ok {
			return ops.UpsertConversation(ctx, snap)
		}
	case OpInsertMessage:
		if m, ok := req.Data.(*MessageRequest); ok {
			return ops.InsertMessage(ctx, m.ConversationID, &m.Message)
		}
	case OpUpsertArtifact:
		if a, ok := req.Data.(*ArtifactRequest); ok {
			return ops.UpsertArtifact(ctx, a.ConversationID, a.Path, a.Content)
		}
	case OpDeleteArtifact:
		if a, ok := req.Data.(*ArtifactRequest); ok {
			return ops.DeleteArtifact(ctx, a.ConversationID, a.Path)
		}
	case OpInsertFailure:
		if rec, ok := req.Data.(*FailureRecord); ok {
			_, err := ops.InsertFailure(ctx, rec)
			return err
		}
	case OpDeleteConversation:
		if id, ok := req.Data.(string); ok {
			return ops.DeleteConversation(ctx, id)
		}
	default:
		return fmt.Errorf("unknown persistence operation: %s", req.Operation)
	}
	return fmt.Errorf("invalid payload %T for %s", req.Data, req.Operation)
}
