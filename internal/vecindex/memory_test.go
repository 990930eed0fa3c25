package vecindex

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallio/recall/internal/testutil"
)

const testDim = 64

func testRecord(t *testing.T, e *testutil.HashEmbedder, id int64, sessionID uuid.UUID, role, content string, at time.Time) Record {
	t.Helper()
	vec, err := e.Embed(context.Background(), content)
	require.NoError(t, err)
	return Record{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
		Embedding: vec,
	}
}

func TestMemorySearchScopedToSession(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(testDim, nil)
	embedder := &testutil.HashEmbedder{Dim: testDim}

	sessionA := uuid.New()
	sessionB := uuid.New()
	now := time.Now()

	// Near-identical content in two sessions. A correctly scoped
	// search must never leak across the boundary no matter how well
	// the other session's content matches.
	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 1, sessionA, "user", "my cat is named whiskers", now)))
	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 2, sessionB, "user", "my cat is named whiskers too", now)))
	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 3, sessionB, "user", "my cat is named whiskers", now)))

	query, err := embedder.Embed(ctx, "what is my cat named")
	require.NoError(t, err)

	results, err := idx.Search(ctx, query, sessionA, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].MessageID)

	results, err = idx.Search(ctx, query, sessionB, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, int64(1), r.MessageID)
	}
}

func TestMemorySearchUnknownSessionReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(testDim, nil)
	embedder := &testutil.HashEmbedder{Dim: testDim}

	query, err := embedder.Embed(ctx, "anything")
	require.NoError(t, err)

	results, err := idx.Search(ctx, query, uuid.New(), 5, 0.0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemorySearchThresholdFiltersResults(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(testDim, nil)
	embedder := &testutil.HashEmbedder{Dim: testDim}
	sessionID := uuid.New()
	now := time.Now()

	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 1, sessionID, "user", "the weather in tokyo is rainy", now)))
	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 2, sessionID, "user", "completely unrelated quantum chromodynamics", now)))

	query, err := embedder.Embed(ctx, "weather in tokyo")
	require.NoError(t, err)

	// With a threshold above any possible similarity nothing matches.
	results, err := idx.Search(ctx, query, sessionID, 10, 1.1)
	require.NoError(t, err)
	assert.Empty(t, results)

	// With a modest threshold the overlapping text survives and the
	// unrelated one is cut.
	results, err = idx.Search(ctx, query, sessionID, 10, 0.3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.3)
		assert.Equal(t, int64(1), r.MessageID)
	}
}

func TestMemorySearchTieBreaksByRecency(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(testDim, nil)
	embedder := &testutil.HashEmbedder{Dim: testDim}
	sessionID := uuid.New()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	// Identical content embeds identically, forcing an exact score tie.
	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 1, sessionID, "user", "same exact words", older)))
	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 2, sessionID, "user", "same exact words", newer)))

	query, err := embedder.Embed(ctx, "same exact words")
	require.NoError(t, err)

	results, err := idx.Search(ctx, query, sessionID, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].MessageID)
	assert.Equal(t, int64(1), results[1].MessageID)
}

func TestMemorySearchRespectsTopK(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(testDim, nil)
	embedder := &testutil.HashEmbedder{Dim: testDim}
	sessionID := uuid.New()
	now := time.Now()

	contents := []string{
		"apples and oranges",
		"apples and pears",
		"apples and grapes",
		"apples and plums",
	}
	for i, content := range contents {
		require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, int64(i+1), sessionID, "user", content, now)))
	}

	query, err := embedder.Embed(ctx, "apples")
	require.NoError(t, err)

	results, err := idx.Search(ctx, query, sessionID, 2, 0.0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// topK larger than the collection clamps instead of erroring.
	results, err = idx.Search(ctx, query, sessionID, 50, 0.0)
	require.NoError(t, err)
	assert.Len(t, results, len(contents))
}

func TestMemoryUpsertRejectsWrongDimension(t *testing.T) {
	idx := NewMemory(testDim, nil)
	err := idx.Upsert(context.Background(), Record{
		ID:        1,
		SessionID: uuid.New(),
		Embedding: make([]float32, testDim+1),
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search(context.Background(), make([]float32, testDim-1), uuid.New(), 5, 0.0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryDeleteSessionRemovesAllRecords(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(testDim, nil)
	embedder := &testutil.HashEmbedder{Dim: testDim}
	sessionID := uuid.New()
	now := time.Now()

	require.NoError(t, idx.Upsert(ctx, testRecord(t, embedder, 1, sessionID, "user", "to be removed", now)))
	require.NoError(t, idx.DeleteSession(ctx, sessionID))

	query, err := embedder.Embed(ctx, "to be removed")
	require.NoError(t, err)
	results, err := idx.Search(ctx, query, sessionID, 5, 0.0)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Deleting an absent session is a no-op.
	require.NoError(t, idx.DeleteSession(ctx, uuid.New()))
}

func TestSortResultsOrdering(t *testing.T) {
	now := time.Now()
	results := []Result{
		{MessageID: 1, Score: 0.5, CreatedAt: now},
		{MessageID: 2, Score: 0.9, CreatedAt: now.Add(-time.Minute)},
		{MessageID: 3, Score: 0.9, CreatedAt: now},
		{MessageID: 4, Score: 0.7, CreatedAt: now},
	}
	sortResults(results)

	got := []int64{results[0].MessageID, results[1].MessageID, results[2].MessageID, results[3].MessageID}
	assert.Equal(t, []int64{3, 2, 4, 1}, got)
}
