// Package pipeline coordinates the two-store write path.
//
// A message becomes durable in PostgreSQL first, in the pending state,
// and is immediately visible in plain history. Enrichment (embedding
// generation plus vector index upsert) happens asynchronously on a
// bounded worker pool; only after the vector record exists is the
// message marked committed and therefore searchable. Enrichment
// failures are retried with exponential backoff by a background
// reconciler until an attempt budget is exhausted, at which point the
// message is marked failed and permanently excluded from search while
// remaining in history.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recallio/recall/internal/store"
	"github.com/recallio/recall/internal/vecindex"
)

// MessageStore is the slice of the relational store the pipeline needs.
type MessageStore interface {
	AppendMessage(ctx context.Context, sessionID uuid.UUID, role, content string) (*store.Message, error)
	MarkCommitted(ctx context.Context, messageID int64) error
	RecordAttempt(ctx context.Context, messageID int64, nextAttempt time.Time) error
	ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*store.Message, error)
	FailExhausted(ctx context.Context, maxAttempts int) (int64, error)
	TombstoneSession(ctx context.Context, sessionID uuid.UUID) error
	DeleteSessionRows(ctx context.Context, sessionID uuid.UUID) error
}

// Embedder generates one embedding per enrichment.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the write-side slice of the vector index.
type Index interface {
	Upsert(ctx context.Context, rec vecindex.Record) error
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

// Config bounds the enrichment worker pool and retry policy.
type Config struct {
	// Workers is the number of concurrent enrichment goroutines.
	Workers int

	// QueueSize bounds the enqueue buffer. When full, new messages stay
	// pending and the reconciler picks them up instead.
	QueueSize int

	// MaxAttempts is the per-message enrichment attempt budget.
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the retry schedule: the delay
	// doubles per attempt from InitialBackoff up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// EnrichTimeout caps a single enrichment attempt.
	EnrichTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = 30 * time.Second
	}
}

// backoffFor returns the delay before the next attempt after `attempts`
// failures, doubling from the initial interval up to the cap.
func (c Config) backoffFor(attempts int) time.Duration {
	delay := c.InitialBackoff
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return delay
}
