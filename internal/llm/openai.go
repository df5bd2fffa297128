package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tidewater/ragchat/internal/config"
	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/log"
)

// OpenAI implements Provider on the OpenAI API.
type OpenAI struct {
	client      *openai.Client
	chatModel   string
	embedModel  string
	dimensions  int
	temperature float32
	maxTokens   int
	logger      log.Logger
}

// NewOpenAI creates an OpenAI-backed provider from configuration.
func NewOpenAI(cfg *config.Config, logger log.Logger) *OpenAI {
	return newOpenAI(openai.NewClient(cfg.OpenAIAPIKey), cfg, logger)
}

// newOpenAI lets tests inject a client pointed at a fake server.
func newOpenAI(client *openai.Client, cfg *config.Config, logger log.Logger) *OpenAI {
	return &OpenAI{
		client:      client,
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		dimensions:  cfg.EmbeddingDimensions,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.With("component", "llm.openai"),
	}
}

// Embed returns the embedding for text, truncated server-side to the
// configured dimensionality.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.embedModel),
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, classifyOpenAIError("create embedding", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("create embedding: %w", ErrEmptyResponse)
	}
	return resp.Data[0].Embedding, nil
}

// Chat produces a complete answer for the request.
func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(req))
	if err != nil {
		return "", classifyOpenAIError("chat completion", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completion: %w", ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamChat streams the answer token chunks to fn in order.
func (o *OpenAI) StreamChat(ctx context.Context, req ChatRequest, fn StreamFunc) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.chatRequest(req))
	if err != nil {
		return classifyOpenAIError("chat stream", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyOpenAIError("chat stream recv", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		if err := fn(chunk); err != nil {
			return fmt.Errorf("stream callback: %w", err)
		}
	}
}

// chatRequest converts the provider-neutral request to the OpenAI wire
// shape: system prompt first, then history, then the current message.
func (o *OpenAI) chatRequest(req ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(req.Context),
	})
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserMessage,
	})

	return openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Messages:    messages,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
}

func openAIRole(r conversation.Role) string {
	switch r {
	case conversation.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case conversation.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// classifyOpenAIError maps SDK errors to the package sentinels by HTTP
// status class. Unrecognized errors pass through wrapped.
func classifyOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return fmt.Errorf("%s: %w: %s", op, ErrAuth, apiErr.Message)
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%s: %w", op, ErrRateLimited)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%s: %w", op, ErrUnavailable)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
