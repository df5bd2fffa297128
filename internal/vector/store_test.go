package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tidewater/ragchat/internal/log"
)

// failingQuerier always errors, standing in for an unreachable database.
type failingQuerier struct{}

func (failingQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("connection refused")
}

func (failingQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("connection refused")
}

func TestQuery_DegradesToEmptyOnFailure(t *testing.T) {
	store := NewStore(failingQuerier{}, log.NewNop())

	chunks := store.Query(context.Background(), []float32{0.1, 0.2}, 10)
	if chunks != nil {
		t.Errorf("Query on failing db = %v, want nil", chunks)
	}
}

func TestQuery_EmptyEmbeddingShortCircuits(t *testing.T) {
	store := NewStore(failingQuerier{}, log.NewNop())

	if chunks := store.Query(context.Background(), nil, 10); chunks != nil {
		t.Errorf("Query with nil embedding = %v, want nil", chunks)
	}
	if chunks := store.Query(context.Background(), []float32{0.1}, 0); chunks != nil {
		t.Errorf("Query with topK 0 = %v, want nil", chunks)
	}
}

func TestUpsert_RejectsEmptyEmbedding(t *testing.T) {
	store := NewStore(failingQuerier{}, log.NewNop())

	err := store.Upsert(context.Background(), Document{Source: "faq", Content: "text"})
	if err == nil {
		t.Fatal("Upsert with empty embedding succeeded")
	}
}

func TestUpsert_PropagatesDBError(t *testing.T) {
	store := NewStore(failingQuerier{}, log.NewNop())

	err := store.Upsert(context.Background(), Document{
		Source:    "faq",
		Content:   "text",
		Embedding: []float32{0.1, 0.2},
	})
	if err == nil {
		t.Fatal("Upsert on failing db succeeded")
	}
}

func TestDeleteBySource_PropagatesDBError(t *testing.T) {
	store := NewStore(failingQuerier{}, log.NewNop())

	if _, err := store.DeleteBySource(context.Background(), "faq"); err == nil {
		t.Fatal("DeleteBySource on failing db succeeded")
	}
}
