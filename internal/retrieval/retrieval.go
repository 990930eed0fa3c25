// Package retrieval turns a user query into a bounded block of
// relevant conversation history.
//
// The orchestrator embeds the query, searches the vector index scoped
// to the session, filters by similarity threshold and assembles the
// matches into a context block no larger than the configured character
// budget. Retrieval is best effort: when the index or the embedder is
// unavailable the orchestrator returns an empty block instead of an
// error, so a chat turn always proceeds on plain history.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/recallio/recall/internal/embed"
	"github.com/recallio/recall/internal/vecindex"
)

const (
	contextHeader = "Previously discussed (relevant context):\n"
	separator     = "---\n"
)

// Embedder embeds the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read-side slice of the vector index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, sessionID uuid.UUID, topK int, threshold float64) ([]vecindex.Result, error)
}

// Config bounds what a retrieval may return.
type Config struct {
	// TopK caps the number of candidate matches.
	TopK int

	// ScoreThreshold is the minimum cosine similarity for inclusion.
	ScoreThreshold float64

	// MaxContextChars is the character budget for the assembled block,
	// including the header and separators.
	MaxContextChars int
}

// Result is the outcome of one retrieval.
type Result struct {
	// Context is the assembled block, empty when nothing qualified.
	Context string

	// Matches are the candidates that made it into Context, in order.
	Matches []vecindex.Result

	// Degraded is true when the index or embedder was unavailable and
	// an empty Context was returned instead of an error.
	Degraded bool
}

// Orchestrator performs semantic retrieval over one session's history.
//
// Orchestrator is safe for concurrent use by multiple goroutines.
type Orchestrator struct {
	embedder Embedder
	index    Searcher
	cfg      Config
	logger   *slog.Logger
}

// New creates an Orchestrator. A nil logger falls back to slog.Default().
func New(embedder Embedder, index Searcher, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{embedder: embedder, index: index, cfg: cfg, logger: logger}
}

// Retrieve finds history relevant to query within sessionID. Only
// committed messages are searchable; pending and failed ones never
// appear. An unreachable backend degrades to an empty result.
func (o *Orchestrator) Retrieve(ctx context.Context, sessionID uuid.UUID, query string) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, embed.ErrEmptyInput
	}

	vector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		o.logger.Warn("query embedding failed, skipping retrieval",
			"session_id", sessionID, "error", err)
		return &Result{Degraded: true}, nil
	}

	matches, err := o.index.Search(ctx, vector, sessionID, o.cfg.TopK, o.cfg.ScoreThreshold)
	if err != nil {
		o.logger.Warn("vector search failed, skipping retrieval",
			"session_id", sessionID, "error", err)
		return &Result{Degraded: true}, nil
	}
	if len(matches) == 0 {
		return &Result{}, nil
	}

	block, included := assemble(matches, o.cfg.MaxContextChars)
	o.logger.Debug("retrieval complete",
		"session_id", sessionID,
		"candidates", len(matches),
		"included", len(included),
		"context_chars", len(block))

	return &Result{Context: block, Matches: included}, nil
}

// assemble greedily packs matches into the context block, best score
// first, within the character budget. A candidate that does not fit is
// dropped whole and packing continues with the next one; entries are
// never truncated mid-text.
func assemble(matches []vecindex.Result, budget int) (string, []vecindex.Result) {
	var b strings.Builder
	var included []vecindex.Result

	used := len(contextHeader) + len(separator)
	for _, m := range matches {
		entry := formatEntry(m)
		if used+len(entry) > budget {
			continue
		}
		b.WriteString(entry)
		used += len(entry)
		included = append(included, m)
	}
	if len(included) == 0 {
		return "", nil
	}

	return contextHeader + b.String() + separator, included
}

func formatEntry(m vecindex.Result) string {
	return fmt.Sprintf("%s[%s] %s (relevance: %.2f)\n",
		separator, roleLabel(m.Role), m.Content, m.Score)
}

func roleLabel(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
