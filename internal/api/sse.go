package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSE event types for chat streaming.
const (
	eventChunk = "chunk" // Partial response text
	eventDone  = "done"  // Stream completed successfully
	eventError = "error" // Error occurred during streaming
)

// chunkPayload is the SSE data payload for streaming text chunks.
type chunkPayload struct {
	Text string `json:"text"`
}

// writeEvent writes a single SSE event with JSON-encoded data and flushes
// it to the client. SSE format: "event: <type>\ndata: <json>\n\n".
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
