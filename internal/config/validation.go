package config

import (
	"fmt"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and credentials
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, ProviderOpenAI)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, ProviderGemini)
		}
	default:
		return fmt.Errorf("%w: %q (must be %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderOpenAI, ProviderGemini)
	}

	if c.ChatModel == "" {
		return fmt.Errorf("%w: chat_model cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedModel == "" {
		return fmt.Errorf("%w: embed_model cannot be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 128000 {
		return fmt.Errorf("%w: must be between 1 and 128,000, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 2. Retrieval
	// pgvector indexes cap out at 2000 dimensions.
	if c.EmbeddingDimensions < 1 || c.EmbeddingDimensions > 2000 {
		return fmt.Errorf("%w: must be between 1 and 2000, got %d", ErrInvalidDimensions, c.EmbeddingDimensions)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidTopK, c.RetrievalTopK)
	}

	if c.SimilarityThreshold < 0.0 || c.SimilarityThreshold > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidThreshold, c.SimilarityThreshold)
	}

	// 3. Rerank
	if c.RerankTopN < 1 || c.RerankTopN > c.RetrievalTopK {
		return fmt.Errorf("%w: must be between 1 and retrieval_top_k (%d), got %d",
			ErrInvalidTopN, c.RetrievalTopK, c.RerankTopN)
	}
	if c.RerankEndpoint != "" && c.RerankModel == "" {
		return fmt.Errorf("%w: rerank_model cannot be empty when rerank_endpoint is set", ErrInvalidModelName)
	}

	// 4. Redis
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: redis_addr cannot be empty", ErrInvalidRedisAddr)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl must be positive, got %s", ErrInvalidTTL, c.CacheTTL)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: session_ttl must be positive, got %s", ErrInvalidTTL, c.SessionTTL)
	}

	// 5. PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 6. Server
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidServerPort, c.ServerPort)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("%w: rate_limit_rps must be positive, got %.2f", ErrInvalidRateLimit, c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: rate_limit_burst must be at least 1, got %d", ErrInvalidRateLimit, c.RateLimitBurst)
	}

	// 7. Timeouts
	if c.EmbedTimeout <= 0 || c.RetrieveTimeout <= 0 || c.GenerateTimeout <= 0 {
		return fmt.Errorf("%w: pipeline timeouts must be positive", ErrInvalidTTL)
	}

	return nil
}
