package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config bounds store behavior per deployment.
type Config struct {
	// MaxSessionMessages caps the number of messages a session may hold.
	MaxSessionMessages int

	// SessionTimeout is the inactivity window after which a session is
	// reported expired on access.
	SessionTimeout time.Duration
}

// Store manages sessions and messages on a PostgreSQL pool.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(pool *pgxpool.Pool, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, cfg: cfg, logger: logger}
}

// CreateSession creates a new session with a freshly generated UUID.
// UUIDs are never reused, so a deleted session's identifier can never be
// reassigned to a new one.
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	id := uuid.New()

	var created, updated pgtype.Timestamptz
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id) VALUES ($1) RETURNING created_at, updated_at`,
		toPgUUID(id),
	).Scan(&created, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Debug("created session", "session_id", id)
	return &Session{
		ID:        id,
		CreatedAt: created.Time,
		UpdatedAt: updated.Time,
	}, nil
}

// GetSession retrieves a session by ID.
//
// If the session exists but its last activity is older than the configured
// timeout, the session is returned together with ErrSessionExpired. The
// expiry check is lazy and advisory: nothing is deleted.
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	sess, err := s.getSession(ctx, s.pool, sessionID, false)
	if err != nil {
		return nil, err
	}

	if s.expired(sess.UpdatedAt) {
		return sess, fmt.Errorf("session %s: %w", sessionID, ErrSessionExpired)
	}
	return sess, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) getSession(ctx context.Context, q querier, sessionID uuid.UUID, forUpdate bool) (*Session, error) {
	query := `SELECT created_at, updated_at, message_count FROM sessions
	          WHERE id = $1 AND deleted_at IS NULL`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var created, updated pgtype.Timestamptz
	var count int32
	err := q.QueryRow(ctx, query, toPgUUID(sessionID)).Scan(&created, &updated, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	return &Session{
		ID:           sessionID,
		CreatedAt:    created.Time,
		UpdatedAt:    updated.Time,
		MessageCount: int(count),
	}, nil
}

func (s *Store) expired(lastActivity time.Time) bool {
	return s.cfg.SessionTimeout > 0 && time.Since(lastActivity) > s.cfg.SessionTimeout
}

// AppendMessage durably stores one message in the pending state.
//
// The session row is locked FOR UPDATE for the duration of the insert, so
// appends to the same session are serialized and the created_at column is
// monotonically non-decreasing per session. The new message is visible in
// ListMessages as soon as this method returns, before any embedding work.
func (s *Store) AppendMessage(ctx context.Context, sessionID uuid.UUID, role, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Single-writer-per-session: the row lock is the mutual-exclusion
	// scope, released on every exit path by commit or rollback.
	sess, err := s.getSession(ctx, tx, sessionID, true)
	if err != nil {
		return nil, err
	}

	if sess.MessageCount >= s.cfg.MaxSessionMessages {
		return nil, fmt.Errorf("session %s has %d messages: %w",
			sessionID, sess.MessageCount, ErrSessionFull)
	}

	// GREATEST against the session's current maximum keeps timestamps
	// non-decreasing even if the database clock steps backwards.
	var id int64
	var created pgtype.Timestamptz
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (session_id, role, content, created_at)
		 VALUES ($1, $2, $3, GREATEST(
		     now(),
		     COALESCE((SELECT max(created_at) FROM messages WHERE session_id = $1), now())
		 ))
		 RETURNING id, created_at`,
		toPgUUID(sessionID), role, content,
	).Scan(&id, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now(), message_count = message_count + 1 WHERE id = $1`,
		toPgUUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to update session metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("appended message", "session_id", sessionID, "message_id", id, "role", role)
	return &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: created.Time,
		Status:    StatusPending,
	}, nil
}

// ListMessages returns a session's messages ordered by timestamp ascending.
// limit <= 0 means no limit; offset makes the listing restartable.
func (s *Store) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Message, error) {
	// Reject unknown or tombstoned sessions rather than returning an
	// empty list, so callers can distinguish "no messages" from "gone".
	if _, err := s.getSession(ctx, s.pool, sessionID, false); err != nil {
		return nil, err
	}

	query := `SELECT id, role, content, created_at, embedding_status, vector_id, embedding_attempts
	          FROM messages WHERE session_id = $1 ORDER BY created_at, id OFFSET $2`
	args := []any{toPgUUID(sessionID), offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows, sessionID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return messages, nil
}

// ListRecentSessions returns live sessions ordered by last activity,
// newest first.
func (s *Store) ListRecentSessions(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, created_at, updated_at, message_count FROM sessions
		 WHERE deleted_at IS NULL ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var id pgtype.UUID
		var created, updated pgtype.Timestamptz
		var count int32
		if err := rows.Scan(&id, &created, &updated, &count); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &Session{
			ID:           fromPgUUID(id),
			CreatedAt:    created.Time,
			UpdatedAt:    updated.Time,
			MessageCount: int(count),
		})
	}
	return sessions, rows.Err()
}

// Stats returns per-session counters and first/last message timestamps.
func (s *Store) Stats(ctx context.Context, sessionID uuid.UUID) (*Stats, error) {
	sess, err := s.getSession(ctx, s.pool, sessionID, false)
	if err != nil {
		return nil, err
	}

	var userCount, assistantCount int64
	var first, last pgtype.Timestamptz
	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE role = 'user'),
		        count(*) FILTER (WHERE role = 'assistant'),
		        min(created_at), max(created_at)
		 FROM messages WHERE session_id = $1`,
		toPgUUID(sessionID),
	).Scan(&userCount, &assistantCount, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats for session %s: %w", sessionID, err)
	}

	stats := &Stats{
		SessionID:         sessionID,
		CreatedAt:         sess.CreatedAt,
		UpdatedAt:         sess.UpdatedAt,
		TotalMessages:     int(userCount + assistantCount),
		UserMessages:      int(userCount),
		AssistantMessages: int(assistantCount),
	}
	if first.Valid {
		t := first.Time
		stats.FirstMessageAt = &t
	}
	if last.Valid {
		t := last.Time
		stats.LastMessageAt = &t
	}
	return stats, nil
}

// TombstoneSession marks a session deleted so it disappears from all
// listings synchronously. Rows are removed afterwards by
// DeleteSessionRows; the identifier is never reassigned.
func (s *Store) TombstoneSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		toPgUUID(sessionID))
	if err != nil {
		return fmt.Errorf("failed to tombstone session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	s.logger.Debug("tombstoned session", "session_id", sessionID)
	return nil
}

// DeleteSessionRows removes the session row; messages cascade.
func (s *Store) DeleteSessionRows(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1`, toPgUUID(sessionID)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}

	s.logger.Debug("deleted session rows", "session_id", sessionID)
	return nil
}

func scanMessage(rows pgx.Rows, sessionID uuid.UUID) (*Message, error) {
	var (
		id       int64
		role     string
		content  string
		created  pgtype.Timestamptz
		status   string
		vectorID pgtype.Int8
		attempts int32
	)
	if err := rows.Scan(&id, &role, &content, &created, &status, &vectorID, &attempts); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg := &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: created.Time,
		Status:    EmbeddingStatus(status),
		Attempts:  int(attempts),
	}
	if vectorID.Valid {
		v := vectorID.Int64
		msg.VectorID = &v
	}
	return msg, nil
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
