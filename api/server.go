// Package api provides the HTTP interface for Luna.
//
// Endpoints:
//
//	GET  /health                     liveness probe
//	GET  /ready                      readiness probe (pings the database)
//	POST /api/join                   bind a (user, room) session
//	POST /api/chat                   synchronous chat (JSON request/response)
//	POST /api/chat/stream            streaming chat (Server-Sent Events)
//	GET  /api/channels               list channels
//	POST /api/channels               create a channel
//	POST /api/ingest                 ingest a document into a channel
//	GET  /api/history/{user}/{room}  persisted conversation transcript
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - chat.go: join, chat, and SSE streaming endpoints
//   - channels.go: channel registry endpoints
//   - ingest.go: document ingestion endpoint
//   - history.go: transcript endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luna-chat/luna/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:5050"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to prevent Slowloris abuse.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. SSE
	// responses can stream for the full duration of a generation.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for Luna's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health   *HealthHandler
	chat     *ChatHandler
	channels *ChannelHandler
	ingest   *IngestHandler
	history  *HistoryHandler
}

// ServerConfig holds the handler dependencies.
type ServerConfig struct {
	Pool     *pgxpool.Pool
	Sessions SessionService
	Channels ChannelService
	Ingestor Ingestor
	Logger   log.Logger
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:      mux,
		logger:   cfg.Logger,
		health:   NewHealthHandler(cfg.Pool, cfg.Logger),
		chat:     NewChatHandler(cfg.Sessions, cfg.Logger),
		channels: NewChannelHandler(cfg.Channels, cfg.Logger),
		ingest:   NewIngestHandler(cfg.Ingestor, cfg.Channels, cfg.Logger),
		history:  NewHistoryHandler(cfg.Sessions, cfg.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.channels.RegisterRoutes(mux)
	s.ingest.RegisterRoutes(mux)
	s.history.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, then logging, then the mux.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is canceled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
