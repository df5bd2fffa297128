// Package llm abstracts the model provider behind a single Provider
// interface covering embeddings, buffered chat, and token streaming.
//
// Two implementations exist: OpenAI (sashabaranov/go-openai) and Gemini
// (google.golang.org/genai). The pipeline depends only on Provider, so the
// provider is a deployment choice, not a code change.
//
// Error Handling:
//   - Provider failures are mapped to the sentinel errors below so callers
//     can classify them with errors.Is() without knowing which SDK produced
//     them. Anything unclassified is wrapped as-is.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidewater/ragchat/internal/config"
	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/log"
)

var (
	// ErrAuth indicates the provider rejected our credentials.
	ErrAuth = errors.New("provider authentication failed")

	// ErrRateLimited indicates the provider returned 429.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrUnavailable indicates a provider-side failure (5xx).
	ErrUnavailable = errors.New("provider temporarily unavailable")

	// ErrEmptyResponse indicates the provider returned no content.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// ChatRequest carries everything a provider needs to produce one answer.
// Context is the assembled knowledge-base excerpt; empty means the model
// answers from general knowledge with the degraded persona.
type ChatRequest struct {
	History     []conversation.Message
	UserMessage string
	Context     string
}

// StreamFunc receives each generated token chunk in order. Returning an
// error aborts the stream.
type StreamFunc func(chunk string) error

// Provider is the model-provider port used by the pipeline.
type Provider interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Chat produces a complete answer.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// StreamChat produces an answer incrementally, calling fn for each
	// token chunk. fn is never called concurrently.
	StreamChat(ctx context.Context, req ChatRequest, fn StreamFunc) error
}

// New builds the Provider selected by cfg.Provider.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg, logger), nil
	case config.ProviderGemini:
		return NewGemini(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}
}
