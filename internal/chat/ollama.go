package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"
)

const systemPrompt = "You are a helpful assistant. Use the provided " +
	"conversation context when it is relevant to the user's question."

// OllamaLLM generates replies through a local Ollama server with rate
// limiting and retry on transient failures.
type OllamaLLM struct {
	client      *api.Client
	model       string
	timeout     time.Duration
	retry       RetryConfig
	rateLimiter *rate.Limiter
}

// NewOllamaLLM creates an Ollama chat backend. host is the base URL of
// the Ollama server. timeout caps a whole Generate call including
// retries; zero means no cap beyond the caller's context.
func NewOllamaLLM(host, model string, timeout time.Duration, retry RetryConfig) (*OllamaLLM, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return &OllamaLLM{
		client:      api.NewClient(base, http.DefaultClient),
		model:       model,
		timeout:     timeout,
		retry:       retry,
		rateLimiter: rate.NewLimiter(rate.Limit(5), 2),
	}, nil
}

func (o *OllamaLLM) Generate(ctx context.Context, contextText, userText string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	messages := []api.Message{{Role: "system", Content: o.system(contextText)}}
	messages = append(messages, api.Message{Role: "user", Content: userText})

	reply, err := executeWithRetry(ctx, o.retry, o.rateLimiter, func(ctx context.Context) (string, error) {
		stream := false
		var b strings.Builder
		err := o.client.Chat(ctx, &api.ChatRequest{
			Model:    o.model,
			Messages: messages,
			Stream:   &stream,
		}, func(resp api.ChatResponse) error {
			b.WriteString(resp.Message.Content)
			return nil
		})
		if err != nil {
			return "", err
		}
		return b.String(), nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("ollama returned an empty reply")
	}
	return reply, nil
}

func (o *OllamaLLM) system(contextText string) string {
	if contextText == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\n" + contextText
}
