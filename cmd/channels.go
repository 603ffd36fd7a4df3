package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luna-chat/luna/internal/app"
	"github.com/luna-chat/luna/internal/config"
	"github.com/luna-chat/luna/internal/topic"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage chat channels",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered channels",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			for _, name := range a.Channels.List() {
				count, err := a.TopicStore.Count(ctx, topic.ID(name))
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%d passages\n", name, count)
			}
			return nil
		})
	},
}

var channelsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			name, err := a.Channels.Create(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created channel %q\n", name)
			return nil
		})
	},
}

func init() {
	channelsCmd.AddCommand(channelsListCmd, channelsCreateCmd)
	rootCmd.AddCommand(channelsCmd)
}

// withApp runs fn against a fully initialized application and tears it down
// afterwards.
func withApp(parent context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	return fn(ctx, a)
}
