package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/luna-chat/luna/db"
	"github.com/luna-chat/luna/internal/channel"
	"github.com/luna-chat/luna/internal/chat"
	"github.com/luna-chat/luna/internal/config"
	"github.com/luna-chat/luna/internal/log"
	"github.com/luna-chat/luna/internal/postgres"
	"github.com/luna-chat/luna/internal/retrieval"
	"github.com/luna-chat/luna/internal/session"
	"github.com/luna-chat/luna/internal/topic"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool
	a.Queries = postgres.New(pool)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.TopicStore = topic.NewStore(a.Queries, embedder, logger)

	a.Pipeline = retrieval.New(retrieval.Config{
		Store:      a.TopicStore,
		Reranker:   provideReranker(cfg, logger),
		CandidateK: cfg.CandidateK,
		RerankTopN: cfg.RerankTopN,
		Logger:     logger,
	})

	backend, err := chat.NewGenkitBackend(chat.Config{
		Genkit:      g,
		ModelName:   cfg.FullModelName(),
		RateLimiter: rate.NewLimiter(rate.Limit(2), 4),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat backend: %w", err)
	}
	a.Backend = backend

	a.Sessions = session.NewManager(session.ManagerConfig{
		Backend:     backend,
		Retriever:   a.Pipeline,
		Personas:    cfg,
		Transcripts: a.Queries,
		Temperature: &cfg.Temperature,
		Logger:      logger,
	})

	a.Channels = channel.NewRegistry(cfg.ChannelList(), a.TopicStore, cfg, logger)
	if err := provideSeedCollections(ctx, a.Channels, a.TopicStore); err != nil {
		return nil, err
	}

	return a, nil
}

// provideOtelShutdown wires OTLP trace export when an endpoint is configured.
// Returns a shutdown func; a disabled or failed exporter yields a no-op.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)
	logger.Debug("trace export enabled", "endpoint", cfg.OTLPEndpoint)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	dsn := cfg.PostgresConnectionString()

	if err := db.Migrate(dsn); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the configured provider plugin. The
// provider set is closed: config.Validate has already rejected anything
// outside it, so the default branch here is unreachable in practice.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models and embedders must be
		// registered explicitly.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}

	case config.ProviderGoogleAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}

	logger.Info("genkit initialized", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Ollama embedders are keyed by server address (registered in
		// provideGenkit).
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideReranker builds the Cohere reranker when an API key is configured.
// No key means similarity order is used as-is.
func provideReranker(cfg *config.Config, logger log.Logger) retrieval.Reranker {
	if cfg.CohereAPIKey == "" {
		logger.Debug("rerank disabled, no API key configured")
		return nil
	}
	return retrieval.NewCohereReranker(cfg.CohereAPIKey, cfg.RerankModel)
}

// provideSeedCollections ensures a topic collection exists for every channel
// already in the registry, so configured channels are searchable before
// their first ingest.
func provideSeedCollections(ctx context.Context, reg *channel.Registry, store *topic.Store) error {
	for _, name := range reg.List() {
		if err := store.Ensure(ctx, topic.ID(name)); err != nil {
			return fmt.Errorf("ensuring collection for channel %q: %w", name, err)
		}
	}
	return nil
}
