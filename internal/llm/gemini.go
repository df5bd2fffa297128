package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/tidewater/ragchat/internal/config"
	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/log"
)

// Gemini implements Provider on the Gemini API.
type Gemini struct {
	client      *genai.Client
	chatModel   string
	embedModel  string
	dimensions  int32
	temperature float32
	maxTokens   int32
	logger      log.Logger
}

// NewGemini creates a Gemini-backed provider from configuration.
func NewGemini(ctx context.Context, cfg *config.Config, logger log.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &Gemini{
		client:      client,
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		dimensions:  int32(cfg.EmbeddingDimensions),
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
		logger:      logger.With("component", "llm.gemini"),
	}, nil
}

// Embed returns the embedding for text. OutputDimensionality truncates the
// model's native vector to the store's dimensionality.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel,
		genai.Text(text),
		&genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(g.dimensions)},
	)
	if err != nil {
		return nil, classifyGeminiError("embed content", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed content: %w", ErrEmptyResponse)
	}
	return resp.Embeddings[0].Values, nil
}

// Chat produces a complete answer for the request.
func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel,
		g.contents(req), g.generateConfig(req))
	if err != nil {
		return "", classifyGeminiError("generate content", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generate content: %w", ErrEmptyResponse)
	}
	return text, nil
}

// StreamChat streams the answer token chunks to fn in order.
func (g *Gemini) StreamChat(ctx context.Context, req ChatRequest, fn StreamFunc) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.chatModel,
		g.contents(req), g.generateConfig(req)) {
		if err != nil {
			return classifyGeminiError("generate stream", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		if err := fn(chunk); err != nil {
			return fmt.Errorf("stream callback: %w", err)
		}
	}
	return nil
}

func (g *Gemini) generateConfig(req ChatRequest) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   g.maxTokens,
		SystemInstruction: genai.NewContentFromText(systemPrompt(req.Context), genai.RoleUser),
	}
}

// contents converts history plus the current message to Gemini turns.
// Gemini has no assistant role; model output uses RoleModel.
func (g *Gemini) contents(req ChatRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	contents = append(contents, genai.NewContentFromText(req.UserMessage, genai.RoleUser))
	return contents
}

// classifyGeminiError maps SDK errors to the package sentinels by HTTP
// status class. Unrecognized errors pass through wrapped.
func classifyGeminiError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%s: %w: %s", op, ErrAuth, apiErr.Message)
		case apiErr.Code == 429:
			return fmt.Errorf("%s: %w", op, ErrRateLimited)
		case apiErr.Code >= 500:
			return fmt.Errorf("%s: %w", op, ErrUnavailable)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
