package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is a deterministic, dependency-free embedder for tests.
// Each whitespace token is hashed into a bucket of the vector, then the
// vector is L2-normalized, so texts sharing words get higher cosine
// similarity and identical texts embed identically.
type HashEmbedder struct {
	Dim int
}

// Embed converts text to a deterministic unit vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty input")
	}

	vec := make([]float32, e.Dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%e.Dim] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// EmbedBatch embeds texts one by one, preserving order.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured vector width.
func (e *HashEmbedder) Dimensions() int {
	return e.Dim
}
