package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig configures retry behavior for LLM calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category, matched
// case-insensitively against err.Error(). String matching is the only
// option here: the provider SDKs expose no typed errors for transient
// failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "connection refused", "timeout", "temporary"},
}

// retryableError reports whether err is transient and worth retrying.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// executeWithRetry runs fn with exponential backoff on transient
// errors. Each attempt, including retries, passes through the rate
// limiter first.
func executeWithRetry(ctx context.Context, cfg RetryConfig, limiter *rate.Limiter, fn func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	delay := cfg.InitialInterval

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryableError(err) {
			return "", err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return "", fmt.Errorf("after %d retries: %w", cfg.MaxRetries, lastErr)
}
