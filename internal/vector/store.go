// Package vector stores and retrieves knowledge base chunks in PostgreSQL
// with pgvector similarity search.
//
// Retrieval is best-effort: a failed similarity query degrades to an empty
// result instead of an error, so the chat pipeline can still answer without
// knowledge base context.
package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/tidewater/ragchat/internal/log"
)

// queryTimeout bounds a single similarity search.
const queryTimeout = 30 * time.Second

// Querier is the subset of pgxpool.Pool the store needs. Consumer-defined
// so tests can substitute a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Chunk is one knowledge base excerpt with its similarity score.
// Score is cosine similarity in [0, 1]; higher is more relevant.
type Chunk struct {
	ID     string
	Source string
	Text   string
	Score  float64
}

// Document is a chunk being written into the knowledge base.
type Document struct {
	ID        string
	Source    string
	Content   string
	Embedding []float32
}

// Store persists and searches embeddings.
type Store struct {
	db     Querier
	logger log.Logger
}

// NewStore creates a vector store on the given connection pool.
func NewStore(db Querier, logger log.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "vector"),
	}
}

// Query returns up to topK chunks ordered by descending cosine similarity.
//
// Failures degrade to an empty result: the knowledge base being unreachable
// must not take chat down with it. The error is logged, never returned.
func (s *Store) Query(ctx context.Context, embedding []float32, topK int) []Chunk {
	if len(embedding) == 0 || topK <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT id, source, content, 1 - (embedding <=> $1) AS score
		FROM documents
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), topK)
	if err != nil {
		s.logger.Warn("similarity search failed, degrading to empty result", "error", err)
		return nil
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Text, &c.Score); err != nil {
			s.logger.Warn("scanning chunk failed, degrading to empty result", "error", err)
			return nil
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("reading chunks failed, degrading to empty result", "error", err)
		return nil
	}

	return chunks
}

// Upsert writes a document chunk, replacing any existing row with the same
// ID. A document without an ID gets a fresh one.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("upsert document: empty embedding")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO documents (id, source, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET source = EXCLUDED.source,
		    content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    updated_at = now()`,
		doc.ID, doc.Source, doc.Content, pgvector.NewVector(doc.Embedding))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteBySource removes every chunk ingested from the given source,
// returning how many rows were deleted.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("delete documents for source %q: %w", source, err)
	}
	return tag.RowsAffected(), nil
}
