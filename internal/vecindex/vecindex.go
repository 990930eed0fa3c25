// Package vecindex stores message embeddings and answers similarity
// queries scoped to a single session.
//
// Two backends implement the Index interface: Postgres (pgvector, the
// production default) and Memory (chromem-go, embedded, for tests and
// single-process deployments). The index is a derived store: the
// message table is the source of truth, records here are rebuilt from
// it, and a failure here never corrupts conversation history.
package vecindex

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable indicates the index backend cannot be reached. Search
// callers degrade to empty results; write callers retry later.
var ErrUnavailable = errors.New("vector index unavailable")

// ErrDimensionMismatch indicates a record's embedding width differs
// from the index's configured dimension.
var ErrDimensionMismatch = errors.New("vector index dimension mismatch")

// Record is a denormalized copy of one message plus its embedding. The
// record ID equals the message ID, which makes upserts idempotent:
// replaying an enrichment overwrites the same record.
type Record struct {
	ID        int64
	SessionID uuid.UUID
	Role      string
	Content   string
	CreatedAt time.Time
	Embedding []float32
}

// Result is one similarity match. Score is cosine similarity in
// [-1, 1]; for unit vectors effectively [0, 1].
type Result struct {
	MessageID int64
	Role      string
	Content   string
	CreatedAt time.Time
	Score     float64
}

// Index is the vector store abstraction. Every query is scoped to one
// session; there is no cross-session search path.
type Index interface {
	// Upsert inserts or replaces the record keyed by Record.ID.
	Upsert(ctx context.Context, rec Record) error

	// Search returns up to topK records from sessionID whose cosine
	// similarity to vector is at least threshold, ordered by score
	// descending with newer records first among ties.
	Search(ctx context.Context, vector []float32, sessionID uuid.UUID, topK int, threshold float64) ([]Result, error)

	// DeleteSession removes every record belonging to sessionID.
	// Best effort: the caller tolerates failure because search is
	// already fenced by the relational tombstone.
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
}

// sortResults orders matches by score descending, breaking ties by
// recency so equally relevant messages surface newest first.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
}
