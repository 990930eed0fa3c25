// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (RECALL_* prefix, DATABASE_URL override)
//  2. Config file (recall.yaml in the working directory or /etc/recall)
//  3. Default values
//
// Error handling uses sentinel errors so callers can branch with
// errors.Is(); validation wraps them with context via fmt.Errorf.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidEmbeddingDimension indicates the configured vector dimension
	// is out of range.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrInvalidEmbeddingProvider indicates an unsupported embedding provider.
	ErrInvalidEmbeddingProvider = errors.New("invalid embedding provider")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidTopK indicates retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidScoreThreshold indicates the score threshold is outside the
	// cosine range.
	ErrInvalidScoreThreshold = errors.New("invalid score threshold")

	// ErrInvalidMaxContextChars indicates the context budget is not positive.
	ErrInvalidMaxContextChars = errors.New("invalid max context chars")

	// ErrInvalidSessionLimit indicates max messages per session is not positive.
	ErrInvalidSessionLimit = errors.New("invalid session message limit")

	// ErrInvalidWorkers indicates the enrichment worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count")
)

// Embedding provider names accepted by embedding.provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config holds all recall settings.
type Config struct {
	// Server
	ListenAddr string
	LogLevel   string
	LogJSON    bool

	// PostgreSQL
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDBName   string
	PostgresSSLMode  string

	// Embedding
	EmbeddingProvider  string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingTimeout   time.Duration
	OllamaHost         string
	OpenAIAPIKey       string

	// LLM backend
	ChatModel   string
	ChatTimeout time.Duration

	// Retrieval
	RetrievalTopK           int
	RetrievalScoreThreshold float32
	RetrievalMaxContext     int

	// Sessions
	SessionTimeout     time.Duration
	MaxSessionMessages int

	// Enrichment pipeline
	EnrichmentWorkers   int
	EnrichmentQueueSize int
	ReconcileInterval   time.Duration
	ReconcileBatchSize  int
	MaxEmbedAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("recall")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/recall")

	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults plus env apply.
	}

	cfg := fromViper(v)

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults without touching files or env.
// Intended for tests.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "recall")
	v.SetDefault("postgres.password", "recall")
	v.SetDefault("postgres.dbname", "recall")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("embedding.provider", ProviderOllama)
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimension", 768)
	v.SetDefault("embedding.timeout", 15*time.Second)
	v.SetDefault("ollama.host", "http://localhost:11434")
	v.SetDefault("openai.api_key", "")

	v.SetDefault("chat.model", "llama3")
	v.SetDefault("chat.timeout", 60*time.Second)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.score_threshold", 0.5)
	v.SetDefault("retrieval.max_context_chars", 2000)

	v.SetDefault("session.timeout", 24*time.Hour)
	v.SetDefault("session.max_messages", 1000)

	v.SetDefault("enrichment.workers", 4)
	v.SetDefault("enrichment.queue_size", 256)
	v.SetDefault("enrichment.reconcile_interval", 15*time.Second)
	v.SetDefault("enrichment.reconcile_batch", 32)
	v.SetDefault("enrichment.max_attempts", 5)
	v.SetDefault("enrichment.initial_backoff", time.Second)
	v.SetDefault("enrichment.max_backoff", time.Minute)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ListenAddr: v.GetString("listen_addr"),
		LogLevel:   v.GetString("log.level"),
		LogJSON:    v.GetBool("log.json"),

		PostgresHost:     v.GetString("postgres.host"),
		PostgresPort:     v.GetInt("postgres.port"),
		PostgresUser:     v.GetString("postgres.user"),
		PostgresPassword: v.GetString("postgres.password"),
		PostgresDBName:   v.GetString("postgres.dbname"),
		PostgresSSLMode:  v.GetString("postgres.sslmode"),

		EmbeddingProvider:  v.GetString("embedding.provider"),
		EmbeddingModel:     v.GetString("embedding.model"),
		EmbeddingDimension: v.GetInt("embedding.dimension"),
		EmbeddingTimeout:   v.GetDuration("embedding.timeout"),
		OllamaHost:         v.GetString("ollama.host"),
		OpenAIAPIKey:       v.GetString("openai.api_key"),

		ChatModel:   v.GetString("chat.model"),
		ChatTimeout: v.GetDuration("chat.timeout"),

		RetrievalTopK:           v.GetInt("retrieval.top_k"),
		RetrievalScoreThreshold: float32(v.GetFloat64("retrieval.score_threshold")),
		RetrievalMaxContext:     v.GetInt("retrieval.max_context_chars"),

		SessionTimeout:     v.GetDuration("session.timeout"),
		MaxSessionMessages: v.GetInt("session.max_messages"),

		EnrichmentWorkers:   v.GetInt("enrichment.workers"),
		EnrichmentQueueSize: v.GetInt("enrichment.queue_size"),
		ReconcileInterval:   v.GetDuration("enrichment.reconcile_interval"),
		ReconcileBatchSize:  v.GetInt("enrichment.reconcile_batch"),
		MaxEmbedAttempts:    v.GetInt("enrichment.max_attempts"),
		RetryInitialBackoff: v.GetDuration("enrichment.initial_backoff"),
		RetryMaxBackoff:     v.GetDuration("enrichment.max_backoff"),
	}
}

// Summary returns configuration values safe for logging. The password is
// always masked.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"listen_addr":         c.ListenAddr,
		"postgres_host":       c.PostgresHost,
		"postgres_db":         c.PostgresDBName,
		"embedding_provider":  c.EmbeddingProvider,
		"embedding_model":     c.EmbeddingModel,
		"embedding_dimension": c.EmbeddingDimension,
		"chat_model":          c.ChatModel,
		"retrieval_top_k":     c.RetrievalTopK,
		"score_threshold":     c.RetrievalScoreThreshold,
		"max_context_chars":   c.RetrievalMaxContext,
		"session_timeout":     c.SessionTimeout.String(),
		"log_level":           c.LogLevel,
	}
}
