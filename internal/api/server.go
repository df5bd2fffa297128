// Package api exposes the chat pipeline over HTTP: a JSON endpoint, an SSE
// streaming variant, and session teardown, behind a middleware stack of
// recovery, request IDs, logging, CORS, and per-IP rate limiting.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tidewater/ragchat/internal/llm"
	"github.com/tidewater/ragchat/internal/log"
	"github.com/tidewater/ragchat/internal/pipeline"
)

// Chatter is the pipeline port the handlers need.
type Chatter interface {
	Ask(ctx context.Context, sessionID, message string) (*pipeline.Answer, error)
	Stream(ctx context.Context, sessionID, message string, fn llm.StreamFunc) (*pipeline.Answer, error)
	EndSession(ctx context.Context, sessionID string) error
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Chat        Chatter       // Required
	Pool        *pgxpool.Pool // Optional: nil disables the database check in /ready
	Redis       redis.Cmdable // Optional: nil disables the session-store check in /ready
	CORSOrigins []string      // Allowed origins for CORS
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateRPS     float64       // Token refill rate per IP (0 = default 1/sec)
	RateBurst   int           // Rate limiter burst size per IP (0 = default 10)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	ch := &chatHandler{
		chat:       cfg.Chat,
		logger:     logger,
		trustProxy: cfg.TrustProxy,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("POST /api/v1/end-session", ch.endSession)

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	var final http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})
	// Server spans for every API request, exported by whatever tracer
	// provider observability.Setup installed. Health probes stay untraced.
	final = otelhttp.NewHandler(final, "ragchat.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool, cfg.Redis))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
