// Package app wires the application together: configuration, database pool,
// Genkit provider plugins, the topic store and retrieval pipeline, the
// session manager, and the channel registry.
//
// Setup builds everything from an explicit Config; components receive their
// dependencies as construction parameters and hold no global state.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luna-chat/luna/internal/channel"
	"github.com/luna-chat/luna/internal/chat"
	"github.com/luna-chat/luna/internal/config"
	"github.com/luna-chat/luna/internal/postgres"
	"github.com/luna-chat/luna/internal/retrieval"
	"github.com/luna-chat/luna/internal/session"
	"github.com/luna-chat/luna/internal/topic"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Queries  *postgres.Queries

	TopicStore *topic.Store
	Pipeline   *retrieval.Pipeline
	Backend    chat.Backend
	Sessions   *session.Manager
	Channels   *channel.Registry

	otelCleanup func()
	dbCleanup   func()
}

// Close releases every resource Setup acquired, in reverse order.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.dbCleanup != nil {
		a.dbCleanup()
		a.logger().Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
