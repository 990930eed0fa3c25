package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallio/recall/internal/embed"
	"github.com/recallio/recall/internal/testutil"
	"github.com/recallio/recall/internal/vecindex"
)

const testDim = 64

type fakeSearcher struct {
	results   []vecindex.Result
	err       error
	gotTopK   int
	gotThresh float64
	gotSess   uuid.UUID
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, sessionID uuid.UUID, topK int, threshold float64) ([]vecindex.Result, error) {
	f.gotSess = sessionID
	f.gotTopK = topK
	f.gotThresh = threshold
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedder offline")
}

func match(id int64, role, content string, score float64) vecindex.Result {
	return vecindex.Result{
		MessageID: id,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Score:     score,
	}
}

func newOrchestrator(searcher Searcher, cfg Config) *Orchestrator {
	return New(&testutil.HashEmbedder{Dim: testDim}, searcher, cfg, nil)
}

func TestRetrievePassesConfigToSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	o := newOrchestrator(searcher, Config{TopK: 5, ScoreThreshold: 0.5, MaxContextChars: 2000})
	sessionID := uuid.New()

	_, err := o.Retrieve(context.Background(), sessionID, "what did we discuss")
	require.NoError(t, err)

	assert.Equal(t, sessionID, searcher.gotSess)
	assert.Equal(t, 5, searcher.gotTopK)
	assert.Equal(t, 0.5, searcher.gotThresh)
}

func TestRetrieveAssemblesContextBlock(t *testing.T) {
	searcher := &fakeSearcher{results: []vecindex.Result{
		match(1, "user", "my cat is named whiskers", 0.91),
		match(2, "assistant", "Whiskers is a lovely name!", 0.84),
	}}
	o := newOrchestrator(searcher, Config{TopK: 5, ScoreThreshold: 0.5, MaxContextChars: 2000})

	res, err := o.Retrieve(context.Background(), uuid.New(), "what is my cat named")
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.False(t, res.Degraded)

	assert.True(t, strings.HasPrefix(res.Context, "Previously discussed (relevant context):\n"))
	assert.Contains(t, res.Context, "[User] my cat is named whiskers (relevance: 0.91)")
	assert.Contains(t, res.Context, "[Assistant] Whiskers is a lovely name! (relevance: 0.84)")
	assert.True(t, strings.HasSuffix(res.Context, "---\n"))

	// Best score appears first.
	assert.Less(t,
		strings.Index(res.Context, "whiskers"),
		strings.Index(res.Context, "lovely"))
}

func TestRetrieveEmptyOnNoMatches(t *testing.T) {
	o := newOrchestrator(&fakeSearcher{}, Config{TopK: 5, ScoreThreshold: 0.5, MaxContextChars: 2000})

	res, err := o.Retrieve(context.Background(), uuid.New(), "anything at all")
	require.NoError(t, err)
	assert.Empty(t, res.Context)
	assert.Empty(t, res.Matches)
	assert.False(t, res.Degraded)
}

func TestRetrieveRejectsBlankQuery(t *testing.T) {
	searcher := &fakeSearcher{results: []vecindex.Result{match(1, "user", "something", 0.9)}}
	o := newOrchestrator(searcher, Config{TopK: 5, ScoreThreshold: 0.5, MaxContextChars: 2000})

	_, err := o.Retrieve(context.Background(), uuid.New(), "   ")
	assert.ErrorIs(t, err, embed.ErrEmptyInput)
	assert.Equal(t, uuid.Nil, searcher.gotSess, "search should not run for a blank query")
}

func TestRetrieveDegradesWhenIndexUnavailable(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("%w: connection refused", vecindex.ErrUnavailable)}
	o := newOrchestrator(searcher, Config{TopK: 5, ScoreThreshold: 0.5, MaxContextChars: 2000})

	res, err := o.Retrieve(context.Background(), uuid.New(), "query")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Context)
}

func TestRetrieveDegradesWhenEmbedderFails(t *testing.T) {
	o := New(failingEmbedder{}, &fakeSearcher{}, Config{TopK: 5, ScoreThreshold: 0.5, MaxContextChars: 2000}, nil)

	res, err := o.Retrieve(context.Background(), uuid.New(), "query")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Context)
}

func TestAssembleRespectsBudget(t *testing.T) {
	long := strings.Repeat("x", 500)
	matches := []vecindex.Result{
		match(1, "user", long, 0.95),
		match(2, "user", "short and sweet", 0.90),
		match(3, "user", long, 0.85),
	}

	budget := 200
	block, included := assemble(matches, budget)

	// The oversized entries are dropped whole; the short one still fits.
	require.Len(t, included, 1)
	assert.Equal(t, int64(2), included[0].MessageID)
	assert.LessOrEqual(t, len(block), budget)
	assert.Contains(t, block, "short and sweet")
}

func TestAssembleNothingFits(t *testing.T) {
	matches := []vecindex.Result{match(1, "user", strings.Repeat("x", 100), 0.9)}

	block, included := assemble(matches, 50)
	assert.Empty(t, block)
	assert.Empty(t, included)
}

func TestAssembleBudgetPropertyAcrossSizes(t *testing.T) {
	var matches []vecindex.Result
	for i := 0; i < 20; i++ {
		matches = append(matches, match(int64(i+1), "user",
			strings.Repeat("word ", i+1), 0.9-float64(i)*0.01))
	}

	for _, budget := range []int{0, 50, 100, 250, 500, 1000, 5000} {
		block, _ := assemble(matches, budget)
		assert.LessOrEqual(t, len(block), budget, "budget %d violated", budget)
	}
}

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "User", roleLabel("user"))
	assert.Equal(t, "Assistant", roleLabel("assistant"))
	assert.Equal(t, "", roleLabel(""))
}
