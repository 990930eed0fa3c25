package vecindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres stores embeddings in the message_vectors table and searches
// them with pgvector's cosine operator. The table deliberately has no
// foreign key to messages so an outage or schema change on one side
// never blocks the other.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger
}

// NewPostgres creates a pgvector-backed index. dim must match the
// vector column width declared in the migration.
func NewPostgres(pool *pgxpool.Pool, dim int, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, dim: dim, logger: logger}
}

func (p *Postgres) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != p.dim {
		return fmt.Errorf("%w: record has %d dimensions, index configured for %d",
			ErrDimensionMismatch, len(rec.Embedding), p.dim)
	}

	embedding := pgvector.NewVector(rec.Embedding)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO message_vectors (id, session_id, role, content, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			role       = EXCLUDED.role,
			content    = EXCLUDED.content,
			created_at = EXCLUDED.created_at,
			embedding  = EXCLUDED.embedding`,
		rec.ID, rec.SessionID, rec.Role, rec.Content, rec.CreatedAt, embedding)
	if err != nil {
		return fmt.Errorf("failed to upsert vector record %d: %w", rec.ID, err)
	}

	p.logger.Debug("upserted vector record",
		"id", rec.ID, "session_id", rec.SessionID)
	return nil
}

func (p *Postgres) Search(ctx context.Context, vector []float32, sessionID uuid.UUID, topK int, threshold float64) ([]Result, error) {
	if len(vector) != p.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index configured for %d",
			ErrDimensionMismatch, len(vector), p.dim)
	}
	if topK <= 0 {
		return nil, nil
	}

	// Cosine distance operator; similarity = 1 - distance. The session
	// filter is mandatory, never an optimization. created_at breaks
	// distance ties so the LIMIT cutoff keeps the newer record.
	rows, err := p.pool.Query(ctx, `
		SELECT id, role, content, created_at, 1 - (embedding <=> $1) AS score
		FROM message_vectors
		WHERE session_id = $2
		ORDER BY embedding <=> $1, created_at DESC
		LIMIT $3`,
		pgvector.NewVector(vector), sessionID, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search query failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.Role, &r.Content, &r.CreatedAt, &r.Score); err != nil {
			return nil, fmt.Errorf("%w: scan search row: %v", ErrUnavailable, err)
		}
		if r.Score >= threshold {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search rows: %v", ErrUnavailable, err)
	}

	// SQL orders by distance only; re-rank here so equal scores break
	// toward recency.
	sortResults(results)
	return results, nil
}

func (p *Postgres) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM message_vectors WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete vectors for session %s: %w", sessionID, err)
	}

	p.logger.Debug("deleted vector records",
		"session_id", sessionID, "count", tag.RowsAffected())
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get fetches a single record by message ID, mainly for tests and
// reconciliation audits.
func (p *Postgres) Get(ctx context.Context, id int64) (*Record, error) {
	var rec Record
	var embedding pgvector.Vector
	err := p.pool.QueryRow(ctx, `
		SELECT id, session_id, role, content, created_at, embedding
		FROM message_vectors WHERE id = $1`, id).
		Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content, &rec.CreatedAt, &embedding)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("vector record %d not found", id)
		}
		return nil, fmt.Errorf("failed to get vector record %d: %w", id, err)
	}
	rec.Embedding = embedding.Slice()
	return &rec, nil
}
