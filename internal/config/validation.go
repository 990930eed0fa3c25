package config

import "fmt"

// MaxEmbeddingDimension bounds the configurable vector width. pgvector
// indexes degrade well before this, so anything larger is a config typo.
const MaxEmbeddingDimension = 8192

// Validate checks all configuration values and returns the first problem
// found, wrapped around the matching sentinel error.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	switch c.EmbeddingProvider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidEmbeddingProvider, c.EmbeddingProvider, ProviderOllama, ProviderOpenAI)
	}

	if c.EmbeddingDimension < 1 || c.EmbeddingDimension > MaxEmbeddingDimension {
		return fmt.Errorf("%w: %d out of range 1-%d",
			ErrInvalidEmbeddingDimension, c.EmbeddingDimension, MaxEmbeddingDimension)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > 100 {
		return fmt.Errorf("%w: %d out of range 1-100", ErrInvalidTopK, c.RetrievalTopK)
	}

	// Cosine similarity of unit vectors lives in [-1, 1]. A threshold
	// above 1 is allowed: it deliberately filters everything.
	if c.RetrievalScoreThreshold < -1 {
		return fmt.Errorf("%w: %f below -1", ErrInvalidScoreThreshold, c.RetrievalScoreThreshold)
	}

	if c.RetrievalMaxContext < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxContextChars, c.RetrievalMaxContext)
	}

	if c.MaxSessionMessages < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidSessionLimit, c.MaxSessionMessages)
	}

	if c.EnrichmentWorkers < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.EnrichmentWorkers)
	}

	return nil
}
