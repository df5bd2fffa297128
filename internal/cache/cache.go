// Package cache provides a content-addressed cache for complete answers.
//
// Keys are derived from the query text alone, so identical questions hit the
// same entry regardless of session. Entries expire after the configured TTL
// (default one hour), bounding staleness after knowledge base updates.
//
// The cache is advisory: lookup and store failures are logged and treated as
// misses. Redis being down slows chat, it never breaks it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/log"
)

// ErrNotFound indicates the key has no value. KV implementations map their
// native miss signal to this.
var ErrNotFound = errors.New("cache: key not found")

// keyPrefix namespaces cache entries in the shared Redis keyspace.
const keyPrefix = "ragchat:cache:"

// KV is the key-value port the cache needs. Satisfied by the Redis adapter
// in redis.go; tests use an in-memory map.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Entry is one cached answer with the confidence it was produced with.
type Entry struct {
	Answer     string                  `json:"answer"`
	Confidence conversation.Confidence `json:"confidence"`
}

// Cache caches answers keyed by query content.
type Cache struct {
	kv     KV
	ttl    time.Duration
	logger log.Logger
}

// New creates a cache with the given TTL.
func New(kv KV, ttl time.Duration, logger log.Logger) *Cache {
	return &Cache{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// Key derives the deterministic cache key for a query. Leading and trailing
// whitespace is ignored; the rest of the text participates verbatim, so
// casing and punctuation produce distinct keys.
func Key(query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached entry for the query, or (nil, false) on miss.
// Errors count as misses.
func (c *Cache) Get(ctx context.Context, query string) (*Entry, bool) {
	raw, err := c.kv.Get(ctx, Key(query))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache lookup failed, treating as miss", "error", err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("cached entry corrupt, treating as miss", "error", err)
		return nil, false
	}
	return &entry, true
}

// Put stores an entry for the query. Best effort: a failed store is logged
// and otherwise ignored.
func (c *Cache) Put(ctx context.Context, query string, entry Entry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("encoding cache entry failed", "error", err)
		return
	}
	if err := c.kv.Set(ctx, Key(query), string(raw), c.ttl); err != nil {
		c.logger.Warn("cache store failed", "error", err)
	}
}
