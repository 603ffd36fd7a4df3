// Package chat adapts the Genkit model plugins to the conversation layer.
//
// The Backend interface is what sessions call: one batch and one streaming
// generation entry point, both taking the full request (history, grounding
// documents, temperature) as parameters. Backends hold no per-conversation
// state, so one instance serves every room and user concurrently.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/luna-chat/luna/internal/retrieval"
)

// Message roles on the wire to the model.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one prior conversation turn handed to the backend.
type Message struct {
	Role string
	Text string
}

// Request carries everything one generation call needs.
type Request struct {
	// Prompt is the fully templated user prompt for this turn.
	Prompt string

	// History is the prior turns, oldest first, excluding Prompt.
	History []Message

	// Documents ground the response; empty means ungrounded.
	Documents []retrieval.PromptDoc

	// Temperature is the sampling temperature.
	Temperature float32

	// WebSearch requests the web-search directive instead of local
	// grounding; WebSearchSite scopes it to one domain.
	WebSearch     bool
	WebSearchSite string
}

// StreamFunc receives each incremental text chunk as it arrives.
// Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, text string) error

// Backend generates chat responses.
type Backend interface {
	// Generate produces the complete response text in one call.
	Generate(ctx context.Context, req Request) (string, error)

	// Stream produces the response incrementally through emit and
	// returns the full concatenated text.
	Stream(ctx context.Context, req Request, emit StreamFunc) (string, error)
}

// GenkitBackend implements Backend on a Genkit model.
type GenkitBackend struct {
	g           *genkit.Genkit
	modelName   string
	retryConfig RetryConfig
	limiter     *rate.Limiter // nil disables proactive rate limiting
	logger      *slog.Logger
}

// Config holds GenkitBackend construction parameters.
type Config struct {
	Genkit      *genkit.Genkit
	ModelName   string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	RetryConfig RetryConfig   // zero value uses defaults
	RateLimiter *rate.Limiter // optional
	Logger      *slog.Logger
}

// NewGenkitBackend creates a backend for the configured model.
func NewGenkitBackend(cfg Config) (*GenkitBackend, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.RetryConfig.MaxRetries == 0 {
		cfg.RetryConfig = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &GenkitBackend{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		retryConfig: cfg.RetryConfig,
		limiter:     cfg.RateLimiter,
		logger:      cfg.Logger,
	}, nil
}

// Generate implements Backend.
func (b *GenkitBackend) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := b.generate(ctx, req, nil, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Stream implements Backend.
func (b *GenkitBackend) Stream(ctx context.Context, req Request, emit StreamFunc) (string, error) {
	// Once a chunk has reached the client, a transparent retry would
	// replay output the client already rendered, so retry is disabled
	// from the first emission on.
	var streamed atomic.Bool
	cb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		text := chunk.Text()
		if text == "" {
			return nil
		}
		streamed.Store(true)
		return emit(ctx, text)
	}

	resp, err := b.generate(ctx, req, cb, streamed.Load)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (b *GenkitBackend) generate(ctx context.Context, req Request, cb ai.ModelStreamCallback, streamed func() bool) (*ai.ModelResponse, error) {
	if err := validateHistory(req.History); err != nil {
		return nil, err
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(b.modelName),
		ai.WithMessages(buildMessages(req)...),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature: float64(req.Temperature),
		}),
	}

	if len(req.Documents) > 0 && !req.WebSearch {
		opts = append(opts, ai.WithDocs(groundingDocs(req.Documents)...))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(cb))
	}

	resp, err := b.executeWithRetry(ctx, opts, streamed)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

// buildMessages converts history plus the current prompt into model
// messages. The web-search directive is carried as a system message since
// the directive's execution is the provider's concern.
func buildMessages(req Request) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(req.History)+2)

	if req.WebSearch {
		msgs = append(msgs, ai.NewSystemTextMessage(fmt.Sprintf(
			"Use web search restricted to the site %s to ground your answer.",
			req.WebSearchSite)))
	}

	for _, m := range req.History {
		switch m.Role {
		case RoleModel:
			msgs = append(msgs, ai.NewModelTextMessage(m.Text))
		default:
			msgs = append(msgs, ai.NewUserTextMessage(m.Text))
		}
	}

	msgs = append(msgs, ai.NewUserTextMessage(req.Prompt))
	return msgs
}

func groundingDocs(docs []retrieval.PromptDoc) []*ai.Document {
	out := make([]*ai.Document, len(docs))
	for i, d := range docs {
		out[i] = ai.DocumentFromText(d.Snippet, map[string]any{"title": d.Title})
	}
	return out
}
