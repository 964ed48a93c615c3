// Package api talks to the analysis service's HTTP endpoints: session
// creation, chat, and paged history. The streaming telemetry channel is a
// separate concern handled by internal/stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Client is the HTTP client for the analysis service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}, nil
}

// CreateSession asks the server for a fresh conversation session.
func (c *Client) CreateSession(ctx context.Context) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	if err := c.doJSON(ctx, "create_session", http.MethodPost, "/api/sessions", nil, &resp); err != nil {
		return CreateSessionResponse{}, fmt.Errorf("create session failed: %w", err)
	}
	c.logger.Info("session created", "session_id", resp.SessionID, "expires_at", resp.ExpiresAt)
	return resp, nil
}

// SendMessage posts a user message and returns the assistant reply. The
// reply's transaction id correlates it with the progress snapshots streamed
// while it was produced.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (ChatMessage, error) {
	req := SendMessageRequest{SessionID: sessionID, Message: text}

	var resp ChatMessage
	if err := c.doJSON(ctx, "send_message", http.MethodPost, "/api/chat", req, &resp); err != nil {
		return ChatMessage{}, fmt.Errorf("send message failed: %w", err)
	}
	c.logger.Info("message sent", "session_id", sessionID, "transaction_id", resp.TransactionID)
	return resp, nil
}

// GetHistory fetches one page of conversation history.
func (c *Client) GetHistory(ctx context.Context, sessionID string, limit, offset int) (HistoryResponse, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	path := fmt.Sprintf("/api/sessions/%s/messages?%s", url.PathEscape(sessionID), query.Encode())

	var resp HistoryResponse
	if err := c.doJSON(ctx, "get_history", http.MethodGet, path, nil, &resp); err != nil {
		return HistoryResponse{}, fmt.Errorf("get history failed: %w", err)
	}
	return resp, nil
}

// doJSON performs one JSON request/response round trip with a span and a
// duration histogram around it.
func (c *Client) doJSON(ctx context.Context, operation, method, path string, body, result interface{}) error {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, operation)
		defer span.End()
	}

	start := time.Now()

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	c.recordDuration(ctx, time.Since(start))
	return nil
}

func (c *Client) recordDuration(ctx context.Context, d time.Duration) {
	if c.meter == nil {
		return
	}
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(d.Milliseconds()))
	}
}
