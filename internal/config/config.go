// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./ragchat.yaml or /etc/ragchat/ragchat.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Provider: chat/embedding model selection (OpenAI or Gemini)
//   - Retrieval: top-K, similarity threshold, embedding dimensions
//   - Rerank: cross-encoder endpoint and candidate budget
//   - Redis: query cache and session store (TTLs)
//   - Postgres: knowledge base vectors and conversation archive (see storage.go)
//   - Server: listen address, CORS, rate limiting, per-stage timeouts
//
// Security: sensitive fields (API keys, passwords) are masked in MarshalJSON.
// Validation: fail-fast range checks in validation.go with sentinel errors
// usable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates a model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidDimensions indicates the embedding dimensions are out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidTopN indicates the rerank top-N is out of range.
	ErrInvalidTopN = errors.New("invalid rerank top_n")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTTL indicates a TTL is zero or negative.
	ErrInvalidTTL = errors.New("invalid TTL")

	// ErrInvalidRedisAddr indicates the Redis address is empty.
	ErrInvalidRedisAddr = errors.New("invalid Redis address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidServerPort indicates the HTTP listen port is out of range.
	ErrInvalidServerPort = errors.New("invalid server port")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// Model provider selection
	Provider    string  `mapstructure:"provider" json:"provider"` // "openai" (default) or "gemini"
	ChatModel   string  `mapstructure:"chat_model" json:"chat_model"`
	EmbedModel  string  `mapstructure:"embed_model" json:"embed_model"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Provider credentials (environment only, never in the config file)
	OpenAIAPIKey string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON

	// Retrieval configuration
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions" json:"embedding_dimensions"`
	RetrievalTopK       int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`

	// Rerank configuration. An empty endpoint disables the remote call;
	// the reranker then always takes its deterministic fallback path.
	RerankEndpoint string `mapstructure:"rerank_endpoint" json:"rerank_endpoint"`
	RerankAPIKey   string `mapstructure:"rerank_api_key" json:"rerank_api_key"` // SENSITIVE: masked in MarshalJSON
	RerankModel    string `mapstructure:"rerank_model" json:"rerank_model"`
	RerankTopN     int    `mapstructure:"rerank_top_n" json:"rerank_top_n"`

	// Redis configuration (query cache + session store)
	RedisAddr     string        `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
	RedisDB       int           `mapstructure:"redis_db" json:"redis_db"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" json:"session_ttl"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration
	ServerHost  string   `mapstructure:"server_host" json:"server_host"`
	ServerPort  int      `mapstructure:"server_port" json:"server_port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Rate limiting (per client IP)
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Per-stage pipeline timeouts
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	RetrieveTimeout time.Duration `mapstructure:"retrieve_timeout" json:"retrieve_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"` // "debug", "info", "warn", "error"
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability (optional OTLP/HTTP trace export; empty endpoint disables)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("ragchat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ragchat")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus environment suffice.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", "/etc/ragchat"},
			"config_name", "ragchat.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: validate immediately (fail-fast).
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Provider defaults
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("chat_model", "gpt-4o-mini")
	v.SetDefault("embed_model", "text-embedding-3-small")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 1024)

	// Retrieval defaults
	v.SetDefault("embedding_dimensions", 1024)
	v.SetDefault("retrieval_top_k", 10)
	v.SetDefault("similarity_threshold", 0.60)

	// Rerank defaults
	v.SetDefault("rerank_endpoint", "")
	v.SetDefault("rerank_model", "rerank-english-v3.0")
	v.SetDefault("rerank_top_n", 3)

	// Redis defaults
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", time.Hour)
	v.SetDefault("session_ttl", time.Hour)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragchat")
	v.SetDefault("postgres_password", "ragchat_dev_password")
	v.SetDefault("postgres_db_name", "ragchat")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_limit_rps", 1.0)
	v.SetDefault("rate_limit_burst", 10)

	// Timeout defaults
	v.SetDefault("embed_timeout", 30*time.Second)
	v.SetDefault("retrieve_timeout", 30*time.Second)
	v.SetDefault("generate_timeout", 60*time.Second)

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	// Observability defaults
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "ragchat")
	v.SetDefault("environment", "dev")
}

// bindEnvVariables binds environment variables explicitly. Secrets are
// environment-only; everything else can also live in the config file.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Secrets
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("rerank_api_key", "RERANK_API_KEY")
	mustBind("redis_password", "REDIS_PASSWORD")

	// Runtime overrides
	mustBind("provider", "RAGCHAT_PROVIDER")
	mustBind("chat_model", "RAGCHAT_CHAT_MODEL")
	mustBind("embed_model", "RAGCHAT_EMBED_MODEL")
	mustBind("rerank_endpoint", "RAGCHAT_RERANK_ENDPOINT")
	mustBind("redis_addr", "RAGCHAT_REDIS_ADDR")
	mustBind("server_host", "RAGCHAT_SERVER_HOST")
	mustBind("server_port", "RAGCHAT_SERVER_PORT")
	mustBind("cors_origins", "RAGCHAT_CORS_ORIGINS")
	mustBind("trust_proxy", "RAGCHAT_TRUST_PROXY")
	mustBind("log_level", "RAGCHAT_LOG_LEVEL")
	mustBind("otlp_endpoint", "RAGCHAT_OTLP_ENDPOINT")
	mustBind("environment", "RAGCHAT_ENVIRONMENT")

	// NOTE: DATABASE_URL is read directly in parseDatabaseURL, not via viper,
	// because it fans out into five postgres_* fields.
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against
// real secret material.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 bytes or fewer are fully masked; longer ones keep the first
// and last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// If logs are compromised, rotate the secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - OpenAIAPIKey, GeminiAPIKey, RerankAPIKey
//   - RedisPassword, PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.RerankAPIKey = maskSecret(a.RerankAPIKey)
	a.RedisPassword = maskSecret(a.RedisPassword)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
