// Package conversation defines the domain types for a chat exchange:
// messages, per-turn confidence metadata, and the full conversation record
// that gets archived when a session ends.
package conversation

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Confidence describes how grounded a single assistant answer is.
// Score is the mean relevance of the chunks actually used; it is 0 when the
// answer was produced without knowledge-base context.
type Confidence struct {
	Score           float64 `json:"score"`
	ChunksUsed      int     `json:"chunksUsed"`
	ChunksRetrieved int     `json:"chunksRetrieved"`
	HasContext      bool    `json:"hasContext"`
	Reranked        bool    `json:"reranked"`
}

// Message is a single turn in a conversation. Confidence is only set on
// assistant messages.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	Confidence *Confidence `json:"confidence,omitempty"`
}

// Metadata records transport-level facts about the client that opened the
// conversation. Captured once at creation, never updated mid-session.
type Metadata struct {
	UserAgent string `json:"userAgent,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// Conversation is the append-only record of a session's exchanges. EndTime
// is zero while the session is live and set exactly once when it ends.
type Conversation struct {
	SessionID string    `json:"sessionId"`
	Messages  []Message `json:"messages"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitzero"`
	Metadata  Metadata  `json:"metadata,omitzero"`
}

// New creates a conversation for the given session, started now.
func New(sessionID string) *Conversation {
	return &Conversation{
		SessionID: sessionID,
		StartTime: time.Now().UTC(),
	}
}

// Append adds a message to the conversation. Messages are never mutated or
// removed after this point.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// AppendTurn records one user/assistant exchange in order.
func (c *Conversation) AppendTurn(userText, assistantText string, conf *Confidence) {
	now := time.Now().UTC()
	c.Append(Message{Role: RoleUser, Content: userText, Timestamp: now})
	c.Append(Message{Role: RoleAssistant, Content: assistantText, Timestamp: now, Confidence: conf})
}

// Ended reports whether the conversation has been closed.
func (c *Conversation) Ended() bool {
	return !c.EndTime.IsZero()
}

// End stamps the conversation's end time. Idempotent: a second call keeps
// the original end time.
func (c *Conversation) End() {
	if c.EndTime.IsZero() {
		c.EndTime = time.Now().UTC()
	}
}

// Duration returns how long the conversation lasted. For a live
// conversation it measures up to now.
func (c *Conversation) Duration() time.Duration {
	if c.Ended() {
		return c.EndTime.Sub(c.StartTime)
	}
	return time.Since(c.StartTime)
}
