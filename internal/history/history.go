// Package history archives ended conversations in PostgreSQL.
//
// The archive is append-only: a conversation is written once, when its
// session ends, and is never updated afterwards. Reads are date-scoped for
// review tooling.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/log"
)

// Querier is the subset of pgxpool.Pool the archive needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Archive persists ended conversations.
type Archive struct {
	db     Querier
	logger log.Logger
}

// NewArchive creates an archive on the given connection pool.
func NewArchive(db Querier, logger log.Logger) *Archive {
	return &Archive{
		db:     db,
		logger: logger.With("component", "history"),
	}
}

// Append writes one ended conversation. The row is never touched again.
func (a *Archive) Append(ctx context.Context, conv *conversation.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages for session %s: %w", conv.SessionID, err)
	}
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata for session %s: %w", conv.SessionID, err)
	}

	_, err = a.db.Exec(ctx, `
		INSERT INTO conversations (id, session_id, started_at, ended_at, messages, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), conv.SessionID, conv.StartTime, conv.EndTime, messages, metadata)
	if err != nil {
		return fmt.Errorf("archiving session %s: %w", conv.SessionID, err)
	}
	return nil
}

// ListByDate returns conversations that ended on the given calendar day
// (UTC).
func (a *Archive) ListByDate(ctx context.Context, day time.Time) ([]*conversation.Conversation, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return a.ListBetween(ctx, start, start.AddDate(0, 0, 1))
}

// ListBetween returns conversations that ended in [from, to), oldest first.
func (a *Archive) ListBetween(ctx context.Context, from, to time.Time) ([]*conversation.Conversation, error) {
	rows, err := a.db.Query(ctx, `
		SELECT session_id, started_at, ended_at, messages, metadata
		FROM conversations
		WHERE ended_at >= $1 AND ended_at < $2
		ORDER BY ended_at`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*conversation.Conversation
	for rows.Next() {
		var (
			conv    conversation.Conversation
			rawMsgs []byte
			rawMeta []byte
		)
		if err := rows.Scan(&conv.SessionID, &conv.StartTime, &conv.EndTime, &rawMsgs, &rawMeta); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if err := json.Unmarshal(rawMsgs, &conv.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages for session %s: %w", conv.SessionID, err)
		}
		if err := json.Unmarshal(rawMeta, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for session %s: %w", conv.SessionID, err)
		}
		convs = append(convs, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}
	return convs, nil
}
