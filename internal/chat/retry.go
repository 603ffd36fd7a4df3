package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// RetryConfig configures transient-error retry for model calls. This is
// independent of the session layer's history repair, which handles
// semantic rejections rather than transport failures.
type RetryConfig struct {
	MaxRetries      int           // maximum retry attempts
	InitialInterval time.Duration // first backoff interval
	MaxInterval     time.Duration // backoff cap
}

// DefaultRetryConfig returns defaults suited to LLM provider APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups transient error substrings by category, matched
// case-insensitively. String matching is required because the provider SDKs
// expose no typed errors for these failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

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

// shouldRetry reports whether a failed attempt may be repeated. Partial
// streams are terminal: chunks already emitted cannot be taken back.
func shouldRetry(err error, streamed bool) bool {
	return retryableError(err) && !streamed
}

// executeWithRetry runs the generation with exponential backoff on
// transient errors. Each attempt waits on the rate limiter when one is
// configured. streamed (optional) reports whether the current attempt
// already emitted chunks; once it has, no further attempts are made.
func (b *GenkitBackend) executeWithRetry(ctx context.Context, opts []ai.GenerateOption, streamed func() bool) (*ai.ModelResponse, error) {
	var lastErr error
	delay := b.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= b.retryConfig.MaxRetries; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, b.g, opts...)
		if err == nil {
			b.logger.Debug("generation completed",
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return resp, nil
		}

		lastErr = err
		if !shouldRetry(err, streamed != nil && streamed()) {
			return nil, err
		}
		if attempt == b.retryConfig.MaxRetries {
			break
		}

		b.logger.Debug("retrying after transient error",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("generation canceled: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > b.retryConfig.MaxInterval {
			delay = b.retryConfig.MaxInterval
		}
	}

	return nil, fmt.Errorf("generation failed after %d attempts: %w",
		b.retryConfig.MaxRetries+1, lastErr)
}
