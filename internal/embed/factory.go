package embed

import (
	"fmt"

	"github.com/recallio/recall/internal/config"
)

// FromConfig builds the production embedder stack from configuration:
// provider -> Normalized -> Cached, wrapped in Lazy so the provider
// client is constructed on first use.
func FromConfig(cfg *config.Config) (Embedder, error) {
	construct := func() (Embedder, error) {
		var provider Embedder
		var err error

		switch cfg.EmbeddingProvider {
		case config.ProviderOllama:
			provider, err = NewOllama(cfg.OllamaHost, cfg.EmbeddingModel, cfg.EmbeddingDimension)
		case config.ProviderOpenAI:
			provider, err = NewOpenAI(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension)
		default:
			err = fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
		}
		if err != nil {
			return nil, err
		}

		return NewCached(NewNormalized(provider, cfg.EmbeddingDimension), 4096)
	}

	return NewLazy(cfg.EmbeddingDimension, construct), nil
}
