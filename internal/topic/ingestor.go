package topic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luna-chat/luna/internal/chunk"
	"github.com/luna-chat/luna/internal/document"
)

// Ingestor runs the ingestion pipeline for one file: load, split into
// passages, embed, and store under a topic collection.
type Ingestor struct {
	store    *Store
	splitter *chunk.Splitter
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor. A nil splitter uses the default passage
// size.
func NewIngestor(store *Store, splitter *chunk.Splitter, logger *slog.Logger) *Ingestor {
	if splitter == nil {
		splitter = chunk.NewSplitter(chunk.DefaultMaxSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, splitter: splitter, logger: logger}
}

// IngestFile loads the document at path, splits it, and appends the
// resulting passages to the topic's collection. Returns the passage count.
func (in *Ingestor) IngestFile(ctx context.Context, t ID, path string) (int, error) {
	docs, err := document.Load(path)
	if err != nil {
		return 0, fmt.Errorf("loading %q: %w", path, err)
	}

	passages := in.splitter.Split(docs)
	if len(passages) == 0 {
		in.logger.Warn("document produced no passages", "path", path, "topic", t)
		return 0, nil
	}

	if err := in.store.AddPassages(ctx, t, passages); err != nil {
		return 0, err
	}

	in.logger.Info("document ingested",
		"path", path, "topic", t, "documents", len(docs), "passages", len(passages))
	return len(passages), nil
}
