// Package session keeps live conversations in Redis.
//
// A session lives for the configured TTL after its last write (sliding
// expiry), so active conversations stay warm and abandoned ones vanish on
// their own. Ending a session is the one atomic operation: GETDEL hands the
// final conversation to exactly one caller, which is what makes the
// persistence handoff exactly-once.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/log"
)

// ErrNotFound indicates no live session exists for the given ID. Also
// returned by End when the session already ended.
var ErrNotFound = errors.New("session: not found")

// keyPrefix namespaces sessions in the shared Redis keyspace.
const keyPrefix = "ragchat:session:"

// KV is the key-value port the store needs. GetDel must be atomic: the
// value is returned to exactly one caller.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
}

// Store manages live conversations.
type Store struct {
	kv     KV
	ttl    time.Duration
	logger log.Logger
}

// NewStore creates a session store with the given TTL.
func NewStore(kv KV, ttl time.Duration, logger log.Logger) *Store {
	return &Store{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "session"),
	}
}

func key(id string) string {
	return keyPrefix + id
}

// Get loads the live conversation for the session, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	raw, err := s.kv.Get(ctx, key(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return decode(id, raw)
}

// Put stores the conversation and resets the full TTL. Every write slides
// the expiry: a session stays alive for the TTL after its latest exchange.
// Concurrent writers for the same ID race; the last Put wins.
func (s *Store) Put(ctx context.Context, conv *conversation.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", conv.SessionID, err)
	}
	if err := s.kv.Set(ctx, key(conv.SessionID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("storing session %s: %w", conv.SessionID, err)
	}
	return nil
}

// End atomically removes the session and returns the final conversation
// with its end time stamped. A second End for the same ID (or an End for an
// expired session) returns ErrNotFound, making the handoff exactly-once.
func (s *Store) End(ctx context.Context, id string) (*conversation.Conversation, error) {
	raw, err := s.kv.GetDel(ctx, key(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ending session %s: %w", id, err)
	}

	conv, err := decode(id, raw)
	if err != nil {
		return nil, err
	}
	conv.End()
	return conv, nil
}

func decode(id, raw string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &conv, nil
}
