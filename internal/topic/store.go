package topic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/luna-chat/luna/internal/chunk"
	"github.com/luna-chat/luna/internal/document"
	"github.com/luna-chat/luna/internal/postgres"
)

// Querier defines the database operations Store needs. The interface is
// defined here, on the consumer side, so tests can substitute a mock for
// the pgx-backed implementation in internal/postgres.
type Querier interface {
	// EnsureCollection registers a topic collection (idempotent).
	EnsureCollection(ctx context.Context, topic string) error

	// ListCollections returns all registered topics.
	ListCollections(ctx context.Context) ([]string, error)

	// UpsertPassage inserts or replaces an embedded passage.
	UpsertPassage(ctx context.Context, arg postgres.UpsertPassageParams) error

	// SearchPassages performs vector similarity search within a topic.
	SearchPassages(ctx context.Context, arg postgres.SearchPassagesParams) ([]postgres.SearchPassagesRow, error)

	// CountPassages counts the passages stored for a topic.
	CountPassages(ctx context.Context, topic string) (int64, error)
}

// Result is a retrieved passage with its similarity score.
type Result struct {
	Passage    chunk.Passage
	Similarity float32
}

// SearchOption configures Search behavior.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	timeout time.Duration
}

// WithTopK sets the maximum number of results. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithTimeout bounds the embedding and search round trip. Default 10s.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Store embeds passages and persists them per topic. Safe for concurrent
// use; the append-only collection model needs no coordination beyond the
// database's own.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a Store. A nil logger falls back to slog.Default.
func NewStore(queries Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  queries,
		embedder: embedder,
		logger:   logger,
	}
}

// Ensure registers the topic's collection. Idempotent; returns nil when
// the collection already exists.
func (s *Store) Ensure(ctx context.Context, topic ID) error {
	if err := s.queries.EnsureCollection(ctx, topic.String()); err != nil {
		return fmt.Errorf("ensuring collection %q: %w", topic, err)
	}
	return nil
}

// Topics lists all registered topic collections.
func (s *Store) Topics(ctx context.Context) ([]ID, error) {
	names, err := s.queries.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	ids := make([]ID, len(names))
	for i, n := range names {
		ids[i] = ID(n)
	}
	return ids, nil
}

// AddPassages embeds each passage and appends it to the topic's collection.
// Passages are not deduplicated; re-ingesting identical content upserts the
// same content-hash ID instead of multiplying rows.
func (s *Store) AddPassages(ctx context.Context, topic ID, passages []chunk.Passage) error {
	if err := s.Ensure(ctx, topic); err != nil {
		return err
	}

	for i, p := range passages {
		embedding, err := s.embed(ctx, p.Text)
		if err != nil {
			return fmt.Errorf("embedding passage %d: %w", i, err)
		}

		metadataJSON, err := json.Marshal(metadataRecord{
			Source:   p.Metadata.Source,
			Page:     p.Metadata.Page,
			FilePath: p.Metadata.FilePath,
		})
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}

		err = s.queries.UpsertPassage(ctx, postgres.UpsertPassageParams{
			ID:        passageID(topic, p),
			Topic:     topic.String(),
			Content:   p.Text,
			Embedding: embedding,
			Metadata:  metadataJSON,
			CreatedAt: pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("storing passage %d: %w", i, err)
		}
	}

	s.logger.Debug("passages added", "topic", topic, "count", len(passages))
	return nil
}

// Search returns up to topK passages nearest to the query, most similar
// first. An empty or unknown topic collection yields an empty slice, not
// an error.
func (s *Store) Search(ctx context.Context, topic ID, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.queries.SearchPassages(queryCtx, postgres.SearchPassagesParams{
		Topic:          topic.String(),
		QueryEmbedding: embedding,
		ResultLimit:    cfg.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("searching topic %q: %w", topic, err)
	}

	return s.rowsToResults(rows), nil
}

// Count returns the number of passages stored for the topic.
func (s *Store) Count(ctx context.Context, topic ID) (int, error) {
	n, err := s.queries.CountPassages(ctx, topic.String())
	if err != nil {
		return 0, fmt.Errorf("counting topic %q: %w", topic, err)
	}
	return int(n), nil
}

func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	if got := len(resp.Embeddings[0].Embedding); got != postgres.EmbeddingDim {
		return nil, fmt.Errorf("embedder %q returned %d dimensions, schema expects %d: configure an embedder model matching the passages schema",
			s.embedder.Name(), got, postgres.EmbeddingDim)
	}

	v := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &v, nil
}

func (s *Store) rowsToResults(rows []postgres.SearchPassagesRow) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var md metadataRecord
		if err := json.Unmarshal(row.Metadata, &md); err != nil {
			s.logger.Warn("failed to parse passage metadata", "passage_id", row.ID, "error", err)
		}

		results = append(results, Result{
			Passage: chunk.Passage{
				Text: row.Content,
				Metadata: document.Metadata{
					Source:   md.Source,
					Page:     md.Page,
					FilePath: md.FilePath,
				},
			},
			Similarity: row.Similarity,
		})
	}
	return results
}

// metadataRecord is the JSONB shape of passage metadata.
type metadataRecord struct {
	Source   string `json:"source"`
	Page     *int   `json:"page,omitempty"`
	FilePath string `json:"file_path"`
}

// passageID derives a stable ID from topic, provenance and content, so the
// same passage re-ingested lands on the same row.
func passageID(topic ID, p chunk.Passage) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write([]byte(p.Metadata.Source))
	h.Write([]byte{0})
	if p.Metadata.Page != nil {
		fmt.Fprintf(h, "%d", *p.Metadata.Page)
	}
	h.Write([]byte{0})
	h.Write([]byte(p.Text))
	return hex.EncodeToString(h.Sum(nil))
}
