// ABOUTME: HTTP client for the gateway's streaming and history endpoints
// ABOUTME: Opens SSE bodies for streaming ids and fetches persisted transcripts

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coven-console/internal/chat"
)

// Client talks to the gateway HTTP API. The bearer token is passed through
// opaquely; the client does no token handling of its own.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the given base URL. Pass nil logger for
// default.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// Streaming responses have no overall deadline; reads are
		// bounded by context cancellation instead.
		httpc:  &http.Client{},
		logger: logger.With("component", "api"),
	}
}

// OpenStream opens the event stream for a streaming session and returns its
// body. The caller owns the body; cancelling ctx aborts in-flight reads.
// The signature matches stream.Opener.
func (c *Client) OpenStream(ctx context.Context, streamingID string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/api/stream/%s", c.baseURL, url.PathEscape(streamingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("opening stream: unexpected status %s", resp.Status)
	}

	c.logger.Debug("stream opened", "streaming_id", streamingID)
	return resp.Body, nil
}

// historyResponse is the JSON body of GET /api/sessions/{id}/messages.
type historyResponse struct {
	Messages []*chat.ChatMessage `json:"messages"`
}

// History fetches the full ordered message history for a session, used to
// rebuild the transcript and tool correlation state on resume.
func (c *Client) History(ctx context.Context, sessionID string) ([]*chat.ChatMessage, error) {
	u := fmt.Sprintf("%s/api/sessions/%s/messages", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building history request: %w", err)
	}
	c.authorize(req)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching history: unexpected status %s", resp.Status)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	c.logger.Debug("history fetched", "session_id", sessionID, "messages", len(body.Messages))
	return body.Messages, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
