package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tidewater/ragchat/internal/conversation"
	"github.com/tidewater/ragchat/internal/llm"
	"github.com/tidewater/ragchat/internal/log"
	"github.com/tidewater/ragchat/internal/pipeline"
)

// Request validation limits.
const (
	maxMessageLen  = 4000
	maxRequestBody = 1024 * 1024
)

// sessionIDPattern constrains IDs to a safe keyspace-friendly charset.
var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// User-facing error messages. Provider failures that the user can act on
// (retry later) keep a specific message; everything else gets the generic
// apology so internals never leak.
const (
	msgRateLimited = "The service is receiving too many requests. Please try again in a moment."
	msgUnavailable = "The AI service is temporarily unavailable. Please try again shortly."
	msgMisconfig   = "The service is not configured correctly. Please contact support."
	msgGeneric     = "I apologize, but I'm having trouble processing your request right now. Please try again."
)

// sanitizeMessage strips control characters, keeping newlines and tabs.
func sanitizeMessage(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Response   string                  `json:"response"`
	SessionID  string                  `json:"sessionId"`
	Cached     bool                    `json:"cached"`
	Confidence conversation.Confidence `json:"confidence"`
}

type endSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// chatHandler serves the chat endpoints.
type chatHandler struct {
	chat       Chatter
	logger     log.Logger
	trustProxy bool
}

// requestContext attaches client metadata for new conversations.
func (h *chatHandler) requestContext(r *http.Request) context.Context {
	return pipeline.WithClientMeta(r.Context(), conversation.Metadata{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r, h.trustProxy),
	})
}

// parseChatRequest decodes and validates the request body. On failure it
// returns a user-facing message suitable for a 400.
func parseChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, string) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, "Invalid request body."
	}

	req.Message = strings.TrimSpace(sanitizeMessage(req.Message))
	if req.Message == "" {
		return req, "Message is required."
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLen {
		return req, "Message must be 4000 characters or fewer."
	}
	if req.SessionID == "" {
		// First message of a new conversation: mint an id for the client
		// to carry forward.
		req.SessionID = uuid.NewString()
	} else if !sessionIDPattern.MatchString(req.SessionID) {
		return req, "Session ID must be 1-128 characters of letters, digits, hyphen or underscore."
	}
	return req, ""
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, problem := parseChatRequest(w, r)
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem, req.SessionID, false, h.logger)
		return
	}

	answer, err := h.chat.Ask(h.requestContext(r), req.SessionID, req.Message)
	if err != nil {
		status, message, canRetry := classifyChatError(err)
		h.logger.Error("chat failed", "session_id", req.SessionID, "status", status, "error", err)
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		writeError(w, status, message, req.SessionID, canRetry, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:   answer.Response,
		SessionID:  answer.SessionID,
		Cached:     answer.Cached,
		Confidence: answer.Confidence,
	}, h.logger)
}

// stream handles POST /api/v1/chat/stream with Server-Sent Events.
//
// Events: "chunk" for each text fragment, then "done" with the full answer
// and its metadata, or "error" if the exchange fails. Validation failures
// before streaming starts use plain JSON status codes.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, problem := parseChatRequest(w, r)
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem, req.SessionID, false, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported.", req.SessionID, false, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-Id", req.SessionID)

	ctx := h.requestContext(r)
	h.logger.Debug("SSE stream started", "session_id", req.SessionID)

	answer, err := h.chat.Stream(ctx, req.SessionID, req.Message, func(chunk string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return writeEvent(w, flusher, eventChunk, chunkPayload{Text: chunk})
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "session_id", req.SessionID)
			return
		}
		_, message, canRetry := classifyChatError(err)
		h.logger.Error("chat stream failed", "session_id", req.SessionID, "error", err)
		_ = writeEvent(w, flusher, eventError, errorResponse{
			Error:     message,
			SessionID: req.SessionID,
			CanRetry:  canRetry,
		})
		return
	}

	_ = writeEvent(w, flusher, eventDone, chatResponse{
		Response:   answer.Response,
		SessionID:  answer.SessionID,
		Cached:     answer.Cached,
		Confidence: answer.Confidence,
	})
	h.logger.Debug("SSE stream completed", "session_id", req.SessionID)
}

// endSession handles POST /api/v1/end-session. Ending an unknown or
// already-ended session is success: the endpoint is idempotent from the
// client's point of view.
func (h *chatHandler) endSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.", "", false, h.logger)
		return
	}
	if !sessionIDPattern.MatchString(req.SessionID) {
		writeError(w, http.StatusBadRequest, "Session ID must be 1-128 characters of letters, digits, hyphen or underscore.", req.SessionID, false, h.logger)
		return
	}

	err := h.chat.EndSession(r.Context(), req.SessionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ended",
			"sessionId": req.SessionID,
		}, h.logger)
	case errors.Is(err, pipeline.ErrSessionNotFound):
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "already_ended",
			"sessionId": req.SessionID,
		}, h.logger)
	default:
		h.logger.Error("end session failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, msgGeneric, req.SessionID, true, h.logger)
	}
}

// classifyChatError maps pipeline errors to an HTTP status, user-facing
// message, and retry hint.
func classifyChatError(err error) (status int, message string, canRetry bool) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, msgRateLimited, true
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusInternalServerError, msgUnavailable, true
	case errors.Is(err, llm.ErrAuth):
		return http.StatusInternalServerError, msgMisconfig, false
	default:
		return http.StatusInternalServerError, msgGeneric, true
	}
}
