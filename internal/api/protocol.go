package api

import (
	"encoding/json"
	"time"
)

// CreateSessionResponse is returned by the session-creation endpoint.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SendMessageRequest is the body for posting a chat message.
type SendMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatMessage is one request/response record from the chat API. Citations,
// visualizations and agent activity are carried through unmodified as raw
// JSON; the presentation layer interprets them. TransactionID ties the reply
// to the progress snapshots that describe its production.
type ChatMessage struct {
	MessageID      string          `json:"message_id"`
	SessionID      string          `json:"session_id"`
	Content        string          `json:"content"`
	TransactionID  string          `json:"transaction_id"`
	Citations      json.RawMessage `json:"citations,omitempty"`
	Visualizations json.RawMessage `json:"visualizations,omitempty"`
	AgentActivity  json.RawMessage `json:"agent_activity,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// HistoryResponse is one page of conversation history.
type HistoryResponse struct {
	Messages []ChatMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}
