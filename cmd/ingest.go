package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luna-chat/luna/internal/app"
	"github.com/luna-chat/luna/internal/chunk"
	"github.com/luna-chat/luna/internal/topic"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <channel> <file>...",
	Short: "Index documents into a channel's collection",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return runIngest(ctx, a, args[0], args[1:])
		})
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, a *app.App, channelName string, paths []string) error {
	name, err := a.Channels.Create(ctx, channelName)
	if err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}

	ingestor := topic.NewIngestor(a.TopicStore, chunk.NewSplitter(a.Config.ChunkSize), a.Logger)

	total := 0
	for _, path := range paths {
		n, err := ingestor.IngestFile(ctx, topic.ID(name), path)
		if err != nil {
			return fmt.Errorf("ingesting %q: %w", path, err)
		}
		fmt.Printf("%s: %d passages\n", path, n)
		total += n
	}

	fmt.Printf("indexed %d passages into %q\n", total, name)
	return nil
}
