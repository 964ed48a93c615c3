package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(srv.URL, logger, nil, nil)
	require.NoError(t, err)
	return client
}

func TestCreateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(CreateSessionResponse{
			SessionID: "sess_1",
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(24 * time.Hour),
		})
	})

	client := newTestClient(t, mux)

	resp, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess_1", resp.SessionID)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestSendMessagePreservesTransactionID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sess_1", req.SessionID)
		assert.Equal(t, "how is AAPL doing?", req.Message)

		json.NewEncoder(w).Encode(ChatMessage{
			MessageID:     "msg_1",
			SessionID:     req.SessionID,
			Content:       "AAPL is up 2% today.",
			TransactionID: "txn_7",
			Citations:     json.RawMessage(`[{"source":"alpha_vantage"}]`),
			Timestamp:     time.Now(),
		})
	})

	client := newTestClient(t, mux)

	msg, err := client.SendMessage(context.Background(), "sess_1", "how is AAPL doing?")
	require.NoError(t, err)
	assert.Equal(t, "txn_7", msg.TransactionID)
	assert.Equal(t, "AAPL is up 2% today.", msg.Content)
	assert.JSONEq(t, `[{"source":"alpha_vantage"}]`, string(msg.Citations))
}

func TestGetHistoryPaging(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions/sess_1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		json.NewEncoder(w).Encode(HistoryResponse{
			Messages: []ChatMessage{{MessageID: "msg_20"}, {MessageID: "msg_21"}},
			HasMore:  true,
		})
	})

	client := newTestClient(t, mux)

	resp, err := client.GetHistory(context.Background(), "sess_1", 10, 20)
	require.NoError(t, err)
	assert.True(t, resp.HasMore)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "msg_20", resp.Messages[0].MessageID)
}

func TestServerErrorSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent pipeline unavailable", http.StatusBadGateway)
	})

	client := newTestClient(t, mux)

	_, err := client.SendMessage(context.Background(), "sess_1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
