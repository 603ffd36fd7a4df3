package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/luna-chat/luna/db"
)

// setupTestDB starts a pgvector-enabled PostgreSQL container, applies the
// migrations, and returns a ready Queries. Skipped unless LUNA_INTEGRATION
// is set; the container needs a local Docker daemon.
func setupTestDB(t *testing.T) *Queries {
	t.Helper()

	if os.Getenv("LUNA_INTEGRATION") == "" {
		t.Skip("set LUNA_INTEGRATION=1 to run container-backed tests")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("luna_test"),
		tcpostgres.WithUsername("luna_test"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return New(pool)
}

func testVector(fill float32) *pgvector.Vector {
	values := make([]float32, EmbeddingDim)
	for i := range values {
		values[i] = fill
	}
	v := pgvector.NewVector(values)
	return &v
}

func now() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
}

func TestCollectionsRoundTrip(t *testing.T) {
	q := setupTestDB(t)
	ctx := context.Background()

	if err := q.EnsureCollection(ctx, "general"); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	// Idempotent.
	if err := q.EnsureCollection(ctx, "general"); err != nil {
		t.Fatalf("EnsureCollection again: %v", err)
	}
	if err := q.EnsureCollection(ctx, "vrp"); err != nil {
		t.Fatalf("EnsureCollection vrp: %v", err)
	}

	topics, err := q.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(topics) != 2 {
		t.Errorf("expected 2 collections, got %v", topics)
	}
}

func TestPassageUpsertAndSearch(t *testing.T) {
	q := setupTestDB(t)
	ctx := context.Background()

	if err := q.EnsureCollection(ctx, "general"); err != nil {
		t.Fatal(err)
	}

	passages := []UpsertPassageParams{
		{ID: "near", Topic: "general", Content: "close match", Embedding: testVector(0.5), Metadata: []byte(`{"source":"a.txt"}`), CreatedAt: now()},
		{ID: "far", Topic: "general", Content: "distant", Embedding: testVector(-0.5), Metadata: []byte(`{"source":"b.txt"}`), CreatedAt: now()},
	}
	for _, p := range passages {
		if err := q.UpsertPassage(ctx, p); err != nil {
			t.Fatalf("UpsertPassage %s: %v", p.ID, err)
		}
	}

	rows, err := q.SearchPassages(ctx, SearchPassagesParams{
		Topic:          "general",
		QueryEmbedding: testVector(0.5),
		ResultLimit:    10,
	})
	if err != nil {
		t.Fatalf("SearchPassages: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "near" {
		t.Errorf("most similar first: got %q", rows[0].ID)
	}
	if rows[0].Similarity <= rows[1].Similarity {
		t.Errorf("similarity not descending: %v then %v", rows[0].Similarity, rows[1].Similarity)
	}

	// Upsert replaces content on ID conflict instead of adding a row.
	updated := passages[0]
	updated.Content = "rewritten"
	if err := q.UpsertPassage(ctx, updated); err != nil {
		t.Fatalf("UpsertPassage update: %v", err)
	}
	count, err := q.CountPassages(ctx, "general")
	if err != nil {
		t.Fatalf("CountPassages: %v", err)
	}
	if count != 2 {
		t.Errorf("count after upsert = %d, want 2", count)
	}
}

func TestSearchScopedToTopic(t *testing.T) {
	q := setupTestDB(t)
	ctx := context.Background()

	for _, topic := range []string{"general", "python"} {
		if err := q.EnsureCollection(ctx, topic); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.UpsertPassage(ctx, UpsertPassageParams{
		ID: "p1", Topic: "python", Content: "python only",
		Embedding: testVector(0.1), Metadata: []byte(`{}`), CreatedAt: now(),
	}); err != nil {
		t.Fatal(err)
	}

	rows, err := q.SearchPassages(ctx, SearchPassagesParams{
		Topic:          "general",
		QueryEmbedding: testVector(0.1),
		ResultLimit:    10,
	})
	if err != nil {
		t.Fatalf("SearchPassages: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("search must not cross topics, got %d rows", len(rows))
	}
}

func TestConversationTurns(t *testing.T) {
	q := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	at := func(offset time.Duration) pgtype.Timestamptz {
		return pgtype.Timestamptz{Time: base.Add(offset), Valid: true}
	}
	turns := []AppendTurnParams{
		{ID: "t1", Username: "ada", Room: "general", Role: "USER", Text: "q1", CreatedAt: at(0)},
		{ID: "t2", Username: "ada", Room: "general", Role: "ASSISTANT", Text: "a1", CreatedAt: at(time.Second)},
		{ID: "t3", Username: "ada", Room: "general", Role: "USER", Text: "q2", CreatedAt: at(2 * time.Second)},
		{ID: "t4", Username: "bob", Room: "general", Role: "USER", Text: "other user", CreatedAt: at(3 * time.Second)},
	}
	for _, turn := range turns {
		if err := q.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn %s: %v", turn.ID, err)
		}
	}

	rows, err := q.ListTurns(ctx, ListTurnsParams{Username: "ada", Room: "general", ResultLimit: 2})
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Most recent N, returned oldest first.
	if rows[0].Text != "a1" || rows[1].Text != "q2" {
		t.Errorf("unexpected window: %q, %q", rows[0].Text, rows[1].Text)
	}
}
