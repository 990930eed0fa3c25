// Package store persists chat sessions and their messages in PostgreSQL.
//
// Writes to a single session are serialized with a SELECT ... FOR UPDATE
// row lock so message timestamps are monotonically non-decreasing even
// under concurrent appends. Writes to different sessions proceed in
// parallel. Session expiry is a lazy, advisory check performed on access;
// nothing in this package deletes data on its own.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Role constants define valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EmbeddingStatus tracks a message's position in the enrichment pipeline.
type EmbeddingStatus string

const (
	// StatusPending means the row is durable but not yet indexed for
	// semantic search.
	StatusPending EmbeddingStatus = "pending"

	// StatusCommitted means the vector record exists and the message is
	// searchable.
	StatusCommitted EmbeddingStatus = "committed"

	// StatusFailed means retries were exhausted; the message stays in
	// plain history but is permanently excluded from semantic search.
	StatusFailed EmbeddingStatus = "failed"
)

// Session is a bounded conversation identified by a never-reused UUID.
type Session struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// Message is one turn of text within a session. VectorID is non-nil
// exactly when Status is StatusCommitted, and then equals ID.
type Message struct {
	ID        int64
	SessionID uuid.UUID
	Role      string
	Content   string
	CreatedAt time.Time
	Status    EmbeddingStatus
	VectorID  *int64
	Attempts  int
}

// Stats summarizes a session for the stats endpoint.
type Stats struct {
	SessionID         uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TotalMessages     int
	UserMessages      int
	AssistantMessages int
	FirstMessageAt    *time.Time
	LastMessageAt     *time.Time
}

// ValidRole reports whether role is one of the accepted message roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
