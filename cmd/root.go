// Package cmd defines the luna command-line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/luna-chat/luna/internal/log"
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "luna",
	Short: "Luna - retrieval-augmented chat rooms",
	Long: `Luna serves multi-room chat where each room is grounded in its own
document collection. Responses stream back with source citations.

Run "luna serve" to start the HTTP server, "luna ingest" to index
documents into a channel.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "emit logs as JSON")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLog})
}
