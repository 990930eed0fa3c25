package vecindex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// Memory is an embedded chromem-go backend. Each session maps to its
// own collection, so isolation holds structurally rather than by
// filtering. Used by tests and single-process deployments that have no
// PostgreSQL.
type Memory struct {
	db     *chromem.DB
	dim    int
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[uuid.UUID]*chromem.Collection
}

// NewMemory creates an in-process chromem-go index.
func NewMemory(dim int, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		db:          chromem.NewDB(),
		dim:         dim,
		logger:      logger,
		collections: make(map[uuid.UUID]*chromem.Collection),
	}
}

func (m *Memory) collection(sessionID uuid.UUID, create bool) (*chromem.Collection, error) {
	m.mu.RLock()
	col, ok := m.collections[sessionID]
	m.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if col, ok := m.collections[sessionID]; ok {
		return col, nil
	}

	col, err := m.db.CreateCollection("session-"+sessionID.String(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection for session %s: %w", sessionID, err)
	}
	m.collections[sessionID] = col
	return col, nil
}

func (m *Memory) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != m.dim {
		return fmt.Errorf("%w: record has %d dimensions, index configured for %d",
			ErrDimensionMismatch, len(rec.Embedding), m.dim)
	}

	col, err := m.collection(rec.SessionID, true)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        strconv.FormatInt(rec.ID, 10),
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"role":       rec.Role,
			"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %d: %w", rec.ID, err)
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, sessionID uuid.UUID, topK int, threshold float64) ([]Result, error) {
	if len(vector) != m.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index configured for %d",
			ErrDimensionMismatch, len(vector), m.dim)
	}
	if topK <= 0 {
		return nil, nil
	}

	col, err := m.collection(sessionID, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection.
	n := topK
	if count := col.Count(); count == 0 {
		return nil, nil
	} else if n > count {
		n = count
	}

	matches, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding: %v", ErrUnavailable, err)
	}

	var results []Result
	for _, match := range matches {
		score := float64(match.Similarity)
		if score < threshold {
			continue
		}

		id, err := strconv.ParseInt(match.ID, 10, 64)
		if err != nil {
			m.logger.Warn("skipping record with malformed id", "id", match.ID)
			continue
		}
		createdAt, err := time.Parse(time.RFC3339Nano, match.Metadata["created_at"])
		if err != nil {
			m.logger.Warn("skipping record with malformed timestamp", "id", match.ID)
			continue
		}

		results = append(results, Result{
			MessageID: id,
			Role:      match.Metadata["role"],
			Content:   match.Content,
			CreatedAt: createdAt,
			Score:     score,
		})
	}

	sortResults(results)
	return results, nil
}

func (m *Memory) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[sessionID]; !ok {
		return nil
	}
	if err := m.db.DeleteCollection("session-" + sessionID.String()); err != nil {
		return fmt.Errorf("delete collection for session %s: %w", sessionID, err)
	}
	delete(m.collections, sessionID)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
