// Package embed turns text into fixed-dimension unit vectors.
//
// The Embedder interface is implemented by the Ollama and OpenAI
// providers and composed with decorators: Normalized enforces L2
// normalization and the deployment dimension, Cached memoizes results
// (embeddings are deterministic per deployment), and Lazy defers
// provider construction to first use behind a sync.Once guard.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

var (
	// ErrEmptyInput indicates blank or whitespace-only text.
	ErrEmptyInput = errors.New("cannot embed empty text")

	// ErrDimensionMismatch indicates the model produced a vector whose
	// width differs from the deployment configuration. Not retryable:
	// the configuration is wrong and vectors are never truncated or
	// padded to hide it.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts to embeddings, preserving input order
	// one-to-one. Implementations batch into a single provider round
	// trip where the backend supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Normalized wraps an Embedder, L2-normalizing every vector and
// validating its dimension after every call.
type Normalized struct {
	inner Embedder
	dim   int
}

// NewNormalized wraps inner with normalization and a post-call dimension
// check against dim, the deployment-configured vector width.
func NewNormalized(inner Embedder, dim int) *Normalized {
	return &Normalized{inner: inner, dim: dim}
}

func (n *Normalized) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	vec, err := n.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return n.check(vec)
}

func (n *Normalized) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyInput
		}
	}

	vecs, err := n.inner.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	for i, vec := range vecs {
		checked, err := n.check(vec)
		if err != nil {
			return nil, err
		}
		vecs[i] = checked
	}
	return vecs, nil
}

func (n *Normalized) Dimensions() int { return n.dim }

func (n *Normalized) check(vec []float32) ([]float32, error) {
	if len(vec) != n.dim {
		return nil, fmt.Errorf("%w: model produced %d dimensions, deployment configured for %d",
			ErrDimensionMismatch, len(vec), n.dim)
	}
	return normalize(vec), nil
}

// normalize scales vec to unit length so cosine similarity reduces to a
// dot product. A zero vector is returned unchanged.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Lazy defers construction of the underlying embedder until first use.
// Construction happens exactly once; afterwards the instance is treated
// as read-only for the process lifetime. This replaces a process-wide
// singleton with an injectable, lifecycle-managed component.
type Lazy struct {
	construct func() (Embedder, error)
	dim       int

	once  sync.Once
	inner Embedder
	err   error
}

// NewLazy wraps a constructor. dim must match what the constructed
// embedder will report, so Dimensions() works before first use.
func NewLazy(dim int, construct func() (Embedder, error)) *Lazy {
	return &Lazy{construct: construct, dim: dim}
}

func (l *Lazy) get() (Embedder, error) {
	l.once.Do(func() {
		l.inner, l.err = l.construct()
	})
	return l.inner, l.err
}

func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	inner, err := l.get()
	if err != nil {
		return nil, fmt.Errorf("embedder initialization: %w", err)
	}
	return inner.Embed(ctx, text)
}

func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	inner, err := l.get()
	if err != nil {
		return nil, fmt.Errorf("embedder initialization: %w", err)
	}
	return inner.EmbedBatch(ctx, texts)
}

func (l *Lazy) Dimensions() int { return l.dim }

// VerifyDimension embeds a probe text and confirms the model's output
// width matches the deployment configuration. Called once at startup; a
// mismatch is fatal and the process must refuse to serve.
func VerifyDimension(ctx context.Context, e Embedder) error {
	vec, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("dimension probe failed: %w", err)
	}
	if len(vec) != e.Dimensions() {
		return fmt.Errorf("%w: probe produced %d dimensions, configured %d",
			ErrDimensionMismatch, len(vec), e.Dimensions())
	}
	return nil
}
