package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/proto"
)

// DatabaseOperations runs queries against the conversation schema.
type DatabaseOperations struct {
	db  *sql.DB
	now func() time.Time
}

// NewDatabaseOperations wraps db.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ensureConversation inserts a bare conversation row if none exists so that
// child rows never violate foreign keys regardless of arrival order.
func ensureConversation(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, mode, created_at, updated_at)
		VALUES (?, 'chat', ?, ?)
		ON CONFLICT(id) DO NOTHING`, id, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation %s: %w", id, err)
	}
	return nil
}

func (ops *DatabaseOperations) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertConversation writes the conversation header row. Messages and
// artifacts are written separately.
func (ops *DatabaseOperations) UpsertConversation(ctx context.Context, snap *proto.ConversationSnapshot) error {
	created := snap.CreatedAt
	if created.IsZero() {
		created = ops.now()
	}
	updated := snap.LastActivity
	if updated.IsZero() {
		updated = ops.now()
	}
	_, err := ops.db.ExecContext(ctx, `
		INSERT INTO conversations (id, mode, last_plan_id, error_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			last_plan_id = excluded.last_plan_id,
			error_count = excluded.error_count,
			updated_at = excluded.updated_at`,
		snap.ID, string(snap.Mode), snap.LastPlanID, snap.ErrorCount, created.UTC(), updated.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", snap.ID, err)
	}
	return nil
}

// InsertMessage appends msg to the conversation's history.
func (ops *DatabaseOperations) InsertMessage(ctx context.Context, conversationID string, msg *proto.Message) error {
	metadata := "{}"
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode message metadata: %w", err)
		}
		metadata = string(data)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = ops.now()
	}

	return ops.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureConversation(ctx, tx, conversationID, ts); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, metadata, created_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			msg.ID, conversationID, conversationID, string(msg.Role), msg.Content, metadata, ts.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
		}
		return nil
	})
}

// UpsertArtifact stores the latest content of path.
func (ops *DatabaseOperations) UpsertArtifact(ctx context.Context, conversationID, path, content string) error {
	now := ops.now()
	return ops.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureConversation(ctx, tx, conversationID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO artifacts (conversation_id, path, content, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(conversation_id, path) DO UPDATE SET
				content = excluded.content,
				updated_at = excluded.updated_at`,
			conversationID, path, content, now)
		if err != nil {
			return fmt.Errorf("failed to upsert artifact %s: %w", path, err)
		}
		return nil
	})
}

// DeleteArtifact removes path. Deleting a missing artifact is not an error.
func (ops *DatabaseOperations) DeleteArtifact(ctx context.Context, conversationID, path string) error {
	if _, err := ops.db.ExecContext(ctx,
		"DELETE FROM artifacts WHERE conversation_id = ? AND path = ?", conversationID, path); err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", path, err)
	}
	return nil
}

// InsertFailure records a failure and returns its row ID.
func (ops *DatabaseOperations) InsertFailure(ctx context.Context, rec *FailureRecord) (int64, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = ops.now()
	}
	var id int64
	err := ops.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureConversation(ctx, tx, rec.ConversationID, created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO failures (conversation_id, plan_id, kind, severity, message, artifact_path, trace, attempt, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ConversationID, rec.PlanID, string(rec.Failure.Kind), string(rec.Failure.Severity),
			rec.Failure.Message, rec.Failure.ArtifactPath, rec.Failure.Trace, rec.Attempt, created.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert failure: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read failure id: %w", err)
		}
		return nil
	})
	return id, err
}

// GetConversation loads a full snapshot, or ErrNotFound.
func (ops *DatabaseOperations) GetConversation(ctx context.Context, id string) (*proto.ConversationSnapshot, error) {
	snap := &proto.ConversationSnapshot{ID: id, Artifacts: make(map[string]string)}
	var mode string
	err := ops.db.QueryRowContext(ctx, `
		SELECT mode, last_plan_id, error_count, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&mode, &snap.LastPlanID, &snap.ErrorCount, &snap.CreatedAt, &snap.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	snap.Mode = proto.Mode(mode)

	if snap.Messages, err = ops.getMessages(ctx, id); err != nil {
		return nil, err
	}

	rows, err := ops.db.QueryContext(ctx, "SELECT path, content FROM artifacts WHERE conversation_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		snap.Artifacts[path] = content
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts: %w", err)
	}
	return snap, nil
}

func (ops *DatabaseOperations) getMessages(ctx context.Context, conversationID string) ([]proto.Message, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT id, role, content, metadata, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []proto.Message
	for rows.Next() {
		var (
			msg      proto.Message
			role     string
			metadata string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &metadata, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = proto.Role(role)
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of message %s: %w", msg.ID, err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

// GetFailures returns a conversation's failures, oldest first.
func (ops *DatabaseOperations) GetFailures(ctx context.Context, conversationID string) ([]FailureRecord, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT id, plan_id, kind, severity, message, artifact_path, trace, attempt, created_at
		FROM failures WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load failures for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		rec := FailureRecord{ConversationID: conversationID}
		var kind, severity string
		if err := rows.Scan(&rec.ID, &rec.PlanID, &kind, &severity, &rec.Failure.Message,
			&rec.Failure.ArtifactPath, &rec.Failure.Trace, &rec.Attempt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		rec.Failure.Kind = proto.FailureKind(kind)
		rec.Failure.Severity = proto.Severity(severity)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failures: %w", err)
	}
	return out, nil
}

// ListConversations returns the most recently active conversations.
func (ops *DatabaseOperations) ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ops.db.QueryContext(ctx, `
		SELECT c.id, c.mode, c.error_count, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			(SELECT COUNT(*) FROM artifacts a WHERE a.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		var mode string
		if err := rows.Scan(&s.ID, &mode, &s.ErrorCount, &s.UpdatedAt, &s.MessageCount, &s.ArtifactCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation summary: %w", err)
		}
		s.Mode = proto.Mode(mode)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation and, by cascade, its rows.
// Deleting a missing conversation is not an error.
func (ops *DatabaseOperations) DeleteConversation(ctx context.Context, id string) error {
	if _, err := ops.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}
