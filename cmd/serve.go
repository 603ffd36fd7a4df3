package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luna-chat/luna/api"
	"github.com/luna-chat/luna/internal/app"
	"github.com/luna-chat/luna/internal/chunk"
	"github.com/luna-chat/luna/internal/config"
	"github.com/luna-chat/luna/internal/topic"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting luna", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	ingestor := topic.NewIngestor(a.TopicStore, chunk.NewSplitter(cfg.ChunkSize), logger)

	srv := api.NewServer(api.ServerConfig{
		Pool:     a.DBPool,
		Sessions: a.Sessions,
		Channels: a.Channels,
		Ingestor: ingestor,
		Logger:   logger,
	})

	addr := flagAddr
	if addr == "" {
		addr = cfg.Addr
	}
	return srv.Run(ctx, addr)
}
