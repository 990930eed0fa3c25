package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"
)

// Ollama generates embeddings through a local Ollama server. The batch
// endpoint accepts a list of inputs, so EmbedBatch is a single round
// trip regardless of batch size.
type Ollama struct {
	client  *api.Client
	model   string
	dim     int
	limiter *rate.Limiter
}

// NewOllama creates an Ollama-backed embedder. host is the base URL of
// the Ollama server (e.g. http://localhost:11434).
func NewOllama(host, model string, dim int) (*Ollama, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return &Ollama{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
		dim:    dim,
		// Local models saturate quickly; cap request rate rather than
		// queueing unbounded work on the server.
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}, nil
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs",
			len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}

func (o *Ollama) Dimensions() int { return o.dim }
