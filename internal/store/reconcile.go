package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Reconciliation queries. The enrichment pipeline transitions messages
// pending -> committed (vector stored) or pending -> failed (attempts
// exhausted). Status updates are conditional on the row still being
// pending so a concurrent session deletion or duplicate worker never
// resurrects a finished message.

// ListRetryable returns pending messages whose next attempt is due,
// oldest due first, skipping messages that already used up maxAttempts.
func (s *Store) ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.session_id, m.role, m.content, m.created_at, m.embedding_attempts
		 FROM messages m
		 JOIN sessions s ON s.id = m.session_id AND s.deleted_at IS NULL
		 WHERE m.embedding_status = 'pending'
		   AND m.embedding_attempts < $1
		   AND m.next_attempt_at <= $2
		 ORDER BY m.next_attempt_at
		 LIMIT $3`,
		maxAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			id        int64
			sessionID pgtype.UUID
			role      string
			content   string
			created   pgtype.Timestamptz
			attempts  int32
		)
		if err := rows.Scan(&id, &sessionID, &role, &content, &created, &attempts); err != nil {
			return nil, fmt.Errorf("failed to scan retryable message: %w", err)
		}
		messages = append(messages, &Message{
			ID:        id,
			SessionID: fromPgUUID(sessionID),
			Role:      role,
			Content:   content,
			CreatedAt: created.Time,
			Status:    StatusPending,
			Attempts:  int(attempts),
		})
	}
	return messages, rows.Err()
}

// MarkCommitted transitions a pending message to committed and records
// its vector reference. The reference equals the message id by
// construction; storing it keeps the invariant checkable in SQL.
func (s *Store) MarkCommitted(ctx context.Context, messageID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET embedding_status = 'committed', vector_id = id
		 WHERE id = $1 AND embedding_status = 'pending'`,
		messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message %d committed: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %d not pending: %w", messageID, ErrMessageNotFound)
	}
	return nil
}

// RecordAttempt counts a failed enrichment attempt and schedules the next
// one. The message stays pending and visible in history.
func (s *Store) RecordAttempt(ctx context.Context, messageID int64, nextAttempt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE messages
		 SET embedding_attempts = embedding_attempts + 1, next_attempt_at = $2
		 WHERE id = $1 AND embedding_status = 'pending'`,
		messageID, nextAttempt)
	if err != nil {
		return fmt.Errorf("failed to record attempt for message %d: %w", messageID, err)
	}
	return nil
}

// FailExhausted marks every pending message that used up its attempt
// budget as failed. Returns the number of messages transitioned.
func (s *Store) FailExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET embedding_status = 'failed', vector_id = NULL
		 WHERE embedding_status = 'pending' AND embedding_attempts >= $1`,
		maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to expire exhausted messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
