// Package postgres implements the database layer for topic collections and
// conversation transcripts on PostgreSQL + pgvector.
//
// The param/row struct naming follows the sqlc convention so callers read
// the same whether queries are generated or hand-written.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the dimensionality of the passages.embedding column.
// The configured embedder model must produce vectors of exactly this size;
// pgvector rejects inserts with any other dimension.
const EmbeddingDim = 768

// Queries executes the application's SQL against a pgx pool.
type Queries struct {
	pool *pgxpool.Pool
}

// New creates a Queries bound to the given pool.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// EnsureCollection registers a topic collection. Idempotent.
func (q *Queries) EnsureCollection(ctx context.Context, topic string) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO collections (topic) VALUES ($1) ON CONFLICT (topic) DO NOTHING`,
		topic)
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	return nil
}

// ListCollections returns all registered topics in creation order.
func (q *Queries) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT topic FROM collections ORDER BY created_at, topic`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// UpsertPassageParams holds the columns for one embedded passage.
type UpsertPassageParams struct {
	ID        string
	Topic     string
	Content   string
	Embedding *pgvector.Vector
	Metadata  []byte
	CreatedAt pgtype.Timestamptz
}

// UpsertPassage inserts or replaces an embedded passage.
func (q *Queries) UpsertPassage(ctx context.Context, arg UpsertPassageParams) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO passages (id, topic, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`,
		arg.ID, arg.Topic, arg.Content, arg.Embedding, arg.Metadata, arg.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert passage: %w", err)
	}
	return nil
}

// SearchPassagesParams holds the inputs for a similarity search.
type SearchPassagesParams struct {
	Topic          string
	QueryEmbedding *pgvector.Vector
	ResultLimit    int
}

// SearchPassagesRow is one similarity search result.
type SearchPassagesRow struct {
	ID         string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float32
}

// SearchPassages returns the passages of a topic nearest to the query
// embedding, most similar first. Cosine distance; similarity = 1 - distance.
func (q *Queries) SearchPassages(ctx context.Context, arg SearchPassagesParams) ([]SearchPassagesRow, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, content, metadata, created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM passages
		WHERE topic = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		arg.Topic, arg.QueryEmbedding, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	var out []SearchPassagesRow
	for rows.Next() {
		var r SearchPassagesRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountPassages counts the passages stored for a topic.
func (q *Queries) CountPassages(ctx context.Context, topic string) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM passages WHERE topic = $1`, topic).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}
