package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tidewater/ragchat/internal/config"
	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/log"
)

func testConfig() *config.Config {
	return &config.Config{
		Provider:            config.ProviderOpenAI,
		ChatModel:           "gpt-4o-mini",
		EmbedModel:          "text-embedding-3-small",
		Temperature:         0.7,
		MaxTokens:           256,
		OpenAIAPIKey:        "sk-test",
		EmbeddingDimensions: 4,
	}
}

// fakeOpenAI builds a provider pointed at the given handler.
func fakeOpenAI(t *testing.T, handler http.Handler) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clientCfg := openai.DefaultConfig("sk-test")
	clientCfg.BaseURL = srv.URL + "/v1"
	return newOpenAI(openai.NewClientWithConfig(clientCfg), testConfig(), log.NewNop())
}

func TestOpenAI_Embed(t *testing.T) {
	provider := fakeOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openai.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Dimensions != 4 {
			t.Errorf("dimensions = %d, want 4", req.Dimensions)
		}

		resp := openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3, 0.4}}},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))

	vec, err := provider.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("got %d dimensions, want 4", len(vec))
	}
}

func TestOpenAI_Chat_BuildsSystemPromptWithContext(t *testing.T) {
	var gotMessages []openai.ChatCompletionMessage

	provider := fakeOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotMessages = req.Messages

		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "the answer"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))

	answer, err := provider.Chat(context.Background(), ChatRequest{
		History: []conversation.Message{
			{Role: conversation.RoleUser, Content: "earlier question"},
			{Role: conversation.RoleAssistant, Content: "earlier answer"},
		},
		UserMessage: "current question",
		Context:     "relevant excerpt one\n\nrelevant excerpt two",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer != "the answer" {
		t.Errorf("answer = %q", answer)
	}

	if len(gotMessages) != 4 {
		t.Fatalf("got %d messages, want 4 (system + 2 history + user)", len(gotMessages))
	}
	if gotMessages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first message role = %q, want system", gotMessages[0].Role)
	}
	if !strings.Contains(gotMessages[0].Content, "relevant excerpt one") {
		t.Error("system prompt missing knowledge base context")
	}
	if gotMessages[1].Role != openai.ChatMessageRoleUser || gotMessages[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("history roles = %q, %q", gotMessages[1].Role, gotMessages[2].Role)
	}
	if gotMessages[3].Content != "current question" {
		t.Errorf("last message = %q", gotMessages[3].Content)
	}
}

func TestOpenAI_Chat_NoContextUsesDegradedPrompt(t *testing.T) {
	provider := fakeOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if strings.Contains(req.Messages[0].Content, "Knowledge base excerpts:") {
			t.Error("system prompt claims context when none was given")
		}
		if !strings.Contains(req.Messages[0].Content, "No knowledge base excerpts") {
			t.Error("system prompt missing degraded note")
		}

		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "ok"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))

	if _, err := provider.Chat(context.Background(), ChatRequest{UserMessage: "q"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestOpenAI_StreamChat(t *testing.T) {
	provider := fakeOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hel", "lo ", "world"} {
			payload, _ := json.Marshal(openai.ChatCompletionStreamResponse{
				Choices: []openai.ChatCompletionStreamChoice{
					{Delta: openai.ChatCompletionStreamChoiceDelta{Content: chunk}},
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	var got strings.Builder
	err := provider.StreamChat(context.Background(), ChatRequest{UserMessage: "hi"}, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if got.String() != "Hello world" {
		t.Errorf("reassembled stream = %q, want %q", got.String(), "Hello world")
	}
}

func TestOpenAI_StreamChat_CallbackErrorAborts(t *testing.T) {
	provider := fakeOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		payload, _ := json.Marshal(openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{
				{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "chunk"}},
			},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	sentinel := errors.New("client went away")
	err := provider.StreamChat(context.Background(), ChatRequest{UserMessage: "hi"}, func(string) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("StreamChat = %v, want callback error", err)
	}
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"401 maps to auth", http.StatusUnauthorized, ErrAuth},
		{"403 maps to auth", http.StatusForbidden, ErrAuth},
		{"429 maps to rate limit", http.StatusTooManyRequests, ErrRateLimited},
		{"500 maps to unavailable", http.StatusInternalServerError, ErrUnavailable},
		{"503 maps to unavailable", http.StatusServiceUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := fakeOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": {"message": "boom", "type": "server_error"}}`)
			}))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := provider.Chat(ctx, ChatRequest{UserMessage: "q"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Chat error = %v, want errors.Is(%v)", err, tt.want)
			}
		})
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	provider := fakeOpenAI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": []}`)
	}))

	_, err := provider.Chat(context.Background(), ChatRequest{UserMessage: "q"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("Chat = %v, want ErrEmptyResponse", err)
	}
}
