package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI generates embeddings through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAI creates an OpenAI-backed embedder.
func NewOpenAI(apiKey, model string, dim int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedder requires an API key")
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
		dim:    dim,
	}, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      o.model,
		Dimensions: o.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs",
			len(resp.Data), len(texts))
	}

	// The API reports an index per embedding; respect it so output
	// order always matches input order.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (o *OpenAI) Dimensions() int { return o.dim }
