package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tidewater/ragchat/internal/log"
)

// errorResponse is the JSON error shape for all chat endpoints.
type errorResponse struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
	CanRetry  bool   `json:"canRetry"`
}

// writeJSON writes a JSON response with the given status code.
// Buffer-first: headers are only sent after successful encoding, so an
// encoding failure can still produce a proper 500.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("failed to write response body", "error", err)
	}
}

// writeError writes the standard error body.
func writeError(w http.ResponseWriter, status int, message, sessionID string, canRetry bool, logger log.Logger) {
	writeJSON(w, status, errorResponse{
		Error:     message,
		SessionID: sessionID,
		CanRetry:  canRetry,
	}, logger)
}
