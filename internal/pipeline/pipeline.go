// Package pipeline orchestrates one chat exchange end to end:
//
//	cache lookup → embed → retrieve → threshold filter → rerank →
//	context assembly → generate → cache store → session persistence
//
// Every stage that touches the knowledge base degrades gracefully: if
// embedding or retrieval fails, the answer is generated without context and
// the confidence metadata says so. Only generation failures surface to the
// caller, because without an answer there is nothing to return.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidewater/ragchat/internal/cache"
	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/llm"
	"github.com/tidewater/ragchat/internal/log"
	"github.com/tidewater/ragchat/internal/rerank"
	"github.com/tidewater/ragchat/internal/session"
	"github.com/tidewater/ragchat/internal/vector"
)

// persistTimeout bounds a background session write after the request
// context is gone.
const persistTimeout = 10 * time.Second

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds candidate chunks for an embedding. Implementations
// degrade to an empty result instead of failing.
type Retriever interface {
	Query(ctx context.Context, embedding []float32, topK int) []vector.Chunk
}

// Reranker reorders candidate documents by relevance. Never fails.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) []rerank.Result
}

// Generator produces answers. Satisfied by llm.Provider.
type Generator interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
	StreamChat(ctx context.Context, req llm.ChatRequest, fn llm.StreamFunc) error
}

// AnswerCache caches complete answers by query content.
type AnswerCache interface {
	Get(ctx context.Context, query string) (*cache.Entry, bool)
	Put(ctx context.Context, query string, entry cache.Entry)
}

// Sessions manages live conversations.
type Sessions interface {
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	Put(ctx context.Context, conv *conversation.Conversation) error
	End(ctx context.Context, id string) (*conversation.Conversation, error)
}

// Archive persists ended conversations durably.
type Archive interface {
	Append(ctx context.Context, conv *conversation.Conversation) error
}

// Config carries the pipeline's collaborators and tunables.
type Config struct {
	Embedder  Embedder
	Retriever Retriever
	Reranker  Reranker
	Generator Generator
	Cache     AnswerCache
	Sessions  Sessions
	Archive   Archive
	Logger    log.Logger

	TopK      int
	TopN      int
	Threshold float64

	EmbedTimeout    time.Duration
	RetrieveTimeout time.Duration
	GenerateTimeout time.Duration
}

func (c *Config) validate() error {
	switch {
	case c.Embedder == nil:
		return errors.New("pipeline: Embedder is required")
	case c.Retriever == nil:
		return errors.New("pipeline: Retriever is required")
	case c.Reranker == nil:
		return errors.New("pipeline: Reranker is required")
	case c.Generator == nil:
		return errors.New("pipeline: Generator is required")
	case c.Cache == nil:
		return errors.New("pipeline: Cache is required")
	case c.Sessions == nil:
		return errors.New("pipeline: Sessions is required")
	case c.Archive == nil:
		return errors.New("pipeline: Archive is required")
	case c.Logger == nil:
		return errors.New("pipeline: Logger is required")
	case c.TopK < 1:
		return errors.New("pipeline: TopK must be at least 1")
	case c.TopN < 1:
		return errors.New("pipeline: TopN must be at least 1")
	case c.Threshold < 0 || c.Threshold > 1:
		return errors.New("pipeline: Threshold must be in [0, 1]")
	}
	return nil
}

// Answer is the result of one exchange.
type Answer struct {
	SessionID  string
	Response   string
	Confidence conversation.Confidence
	Cached     bool
}

// Pipeline runs chat exchanges.
type Pipeline struct {
	cfg    Config
	logger log.Logger

	// bgCtx outlives request contexts so fire-and-forget persistence can
	// finish after the response is sent. Close cancels it and waits.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a pipeline. Timeouts left zero default to 30s/30s/60s.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = 30 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "pipeline"),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}, nil
}

// Close waits for in-flight background persistence, then releases the
// background context.
func (p *Pipeline) Close() {
	p.wg.Wait()
	p.bgCancel()
}

// Ask runs one buffered exchange.
func (p *Pipeline) Ask(ctx context.Context, sessionID, message string) (*Answer, error) {
	conv := p.loadConversation(ctx, sessionID)

	if entry, ok := p.cfg.Cache.Get(ctx, message); ok {
		p.logger.Debug("cache hit", "session_id", sessionID)
		answer := &Answer{
			SessionID:  sessionID,
			Response:   entry.Answer,
			Confidence: entry.Confidence,
			Cached:     true,
		}
		p.recordTurn(conv, message, answer)
		return answer, nil
	}

	retrieval := p.retrieve(ctx, message)

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	response, err := p.cfg.Generator.Chat(genCtx, llm.ChatRequest{
		History:     conv.Messages,
		UserMessage: message,
		Context:     retrieval.context,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	answer := &Answer{
		SessionID:  sessionID,
		Response:   response,
		Confidence: retrieval.confidence,
	}
	p.cfg.Cache.Put(ctx, message, cache.Entry{Answer: response, Confidence: answer.Confidence})
	p.recordTurn(conv, message, answer)
	return answer, nil
}

// Stream runs one exchange, delivering the answer incrementally through fn.
// The returned Answer holds the fully assembled response. A cache hit is
// delivered as a single chunk.
func (p *Pipeline) Stream(ctx context.Context, sessionID, message string, fn llm.StreamFunc) (*Answer, error) {
	conv := p.loadConversation(ctx, sessionID)

	if entry, ok := p.cfg.Cache.Get(ctx, message); ok {
		p.logger.Debug("cache hit", "session_id", sessionID, "streaming", true)
		if err := fn(entry.Answer); err != nil {
			return nil, fmt.Errorf("stream callback: %w", err)
		}
		answer := &Answer{
			SessionID:  sessionID,
			Response:   entry.Answer,
			Confidence: entry.Confidence,
			Cached:     true,
		}
		p.recordTurn(conv, message, answer)
		return answer, nil
	}

	retrieval := p.retrieve(ctx, message)

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	var full strings.Builder
	err := p.cfg.Generator.StreamChat(genCtx, llm.ChatRequest{
		History:     conv.Messages,
		UserMessage: message,
		Context:     retrieval.context,
	}, func(chunk string) error {
		full.WriteString(chunk)
		return fn(chunk)
	})
	if err != nil {
		return nil, fmt.Errorf("streaming answer: %w", err)
	}

	answer := &Answer{
		SessionID:  sessionID,
		Response:   full.String(),
		Confidence: retrieval.confidence,
	}
	p.cfg.Cache.Put(ctx, message, cache.Entry{Answer: answer.Response, Confidence: answer.Confidence})
	p.recordTurn(conv, message, answer)
	return answer, nil
}

// ErrSessionNotFound is returned by EndSession when nothing was archived
// because no live session existed. Callers may treat it as success.
var ErrSessionNotFound = session.ErrNotFound

// EndSession atomically closes the session and archives its conversation.
// Ending an absent or already-ended session returns ErrSessionNotFound;
// the archive write happens exactly once per session.
func (p *Pipeline) EndSession(ctx context.Context, sessionID string) error {
	conv, err := p.cfg.Sessions.End(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("ending session %s: %w", sessionID, err)
	}

	if err := p.cfg.Archive.Append(ctx, conv); err != nil {
		// The session is already gone from Redis; losing the archive row is
		// the caller's signal to retry ingestion elsewhere.
		return fmt.Errorf("archiving session %s: %w", sessionID, err)
	}

	p.logger.Info("session ended",
		"session_id", sessionID,
		"messages", len(conv.Messages),
		"duration", conv.Duration())
	return nil
}

// retrievalResult carries the assembled context and its confidence.
type retrievalResult struct {
	context    string
	confidence conversation.Confidence
}

// retrieve embeds the query, fetches candidates, filters by the similarity
// threshold, reranks the survivors, and assembles the context block.
// Failures degrade to an empty context.
func (p *Pipeline) retrieve(ctx context.Context, message string) retrievalResult {
	embedCtx, cancelEmbed := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancelEmbed()

	embedding, err := p.cfg.Embedder.Embed(embedCtx, message)
	if err != nil {
		p.logger.Warn("embedding failed, answering without context", "error", err)
		return retrievalResult{}
	}

	retrieveCtx, cancelRetrieve := context.WithTimeout(ctx, p.cfg.RetrieveTimeout)
	defer cancelRetrieve()

	chunks := p.cfg.Retriever.Query(retrieveCtx, embedding, p.cfg.TopK)

	// Drop weak matches before reranking.
	relevant := make([]vector.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= p.cfg.Threshold {
			relevant = append(relevant, c)
		}
	}

	if len(relevant) == 0 {
		p.logger.Debug("no chunks above threshold",
			"retrieved", len(chunks), "threshold", p.cfg.Threshold)
		return retrievalResult{
			confidence: conversation.Confidence{ChunksRetrieved: len(chunks)},
		}
	}

	documents := make([]string, len(relevant))
	for i, c := range relevant {
		documents[i] = c.Text
	}

	ranked := p.cfg.Reranker.Rerank(ctx, message, documents, p.cfg.TopN)

	var (
		parts []string
		sum   float64
	)
	for _, r := range ranked {
		parts = append(parts, documents[r.Index])
		sum += r.Score
	}

	var score float64
	if len(ranked) > 0 {
		score = sum / float64(len(ranked))
	}

	return retrievalResult{
		context: strings.Join(parts, "\n\n"),
		confidence: conversation.Confidence{
			Score:           score,
			ChunksUsed:      len(ranked),
			ChunksRetrieved: len(chunks),
			HasContext:      len(ranked) > 0,
			Reranked:        true,
		},
	}
}

type clientMetaKey struct{}

// WithClientMeta returns a context carrying transport metadata to record on
// conversations created during this request. Metadata on an existing
// conversation is never overwritten.
func WithClientMeta(ctx context.Context, meta conversation.Metadata) context.Context {
	return context.WithValue(ctx, clientMetaKey{}, meta)
}

func clientMeta(ctx context.Context) conversation.Metadata {
	meta, _ := ctx.Value(clientMetaKey{}).(conversation.Metadata)
	return meta
}

// loadConversation fetches the live conversation or starts a fresh one.
// A session store failure downgrades to a fresh conversation so the
// exchange can still happen, at the cost of history.
func (p *Pipeline) loadConversation(ctx context.Context, sessionID string) *conversation.Conversation {
	conv, err := p.cfg.Sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			p.logger.Warn("loading session failed, starting fresh", "session_id", sessionID, "error", err)
		}
		conv = conversation.New(sessionID)
		conv.Metadata = clientMeta(ctx)
	}
	return conv
}

// recordTurn appends the exchange to the conversation and persists it in
// the background. The response never waits on Redis.
func (p *Pipeline) recordTurn(conv *conversation.Conversation, message string, answer *Answer) {
	conf := answer.Confidence
	conv.AppendTurn(message, answer.Response, &conf)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.bgCtx, persistTimeout)
		defer cancel()
		if err := p.cfg.Sessions.Put(ctx, conv); err != nil {
			p.logger.Error("persisting session failed", "session_id", conv.SessionID, "error", err)
		}
	}()
}
