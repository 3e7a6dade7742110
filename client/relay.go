package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/pathos/service/metrics"
)

// Chat roles accepted by the relay.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrMethodNotAllowed means the relay rejected the request method,
	// which points at a deployment misconfiguration rather than a bad request.
	ErrMethodNotAllowed = errors.New("relay rejected request method")

	// ErrUnexpectedResponse means the relay answered 2xx without any text.
	ErrUnexpectedResponse = errors.New("unexpected API response format")
)

// RelayError is a non-2xx response from the chat relay.
type RelayError struct {
	StatusCode int
	Body       string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("API error: %d %s", e.StatusCode, e.Body)
}

// Is matches ErrMethodNotAllowed for 405 responses.
func (e *RelayError) Is(target error) bool {
	return target == ErrMethodNotAllowed && e.StatusCode == http.StatusMethodNotAllowed
}

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the relay request body.
type CompletionRequest struct {
	Messages []Message `json:"messages"`
	System   string    `json:"system,omitempty"`
}

// ContentBlock is one block of a model reply.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CompletionResponse is the relay success body.
type CompletionResponse struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content"`
}

// Text returns the text of the first content block.
func (r *CompletionResponse) Text() (string, error) {
	if len(r.Content) == 0 || r.Content[0].Text == "" {
		return "", ErrUnexpectedResponse
	}
	return r.Content[0].Text, nil
}

// Client is the HTTP client for the chat relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a new relay client. baseURL is the relay's API root,
// e.g. http://localhost:3001/api.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// WithMetrics records call counts and latency on m.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// Complete sends the conversation and system prompt to the relay and
// returns the model's reply text.
func (c *Client) Complete(ctx context.Context, messages []Message, system string) (string, error) {
	start := time.Now()
	text, err := c.complete(ctx, messages, system)
	if c.metrics != nil {
		c.metrics.RecordRelayClientCall(callStatus(err), time.Since(start).Seconds())
	}
	return text, err
}

func (c *Client) complete(ctx context.Context, messages []Message, system string) (string, error) {
	body, err := json.Marshal(CompletionRequest{Messages: messages, System: system})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/claude", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.parseErrorResponse(resp)
	}

	var completion CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	text, err := completion.Text()
	if err != nil {
		return "", err
	}

	c.logger.DebugContext(ctx, "relay completion received",
		"messages", len(messages),
		"reply_chars", len(text),
	)
	return text, nil
}

// parseErrorResponse turns a non-2xx response into a RelayError, preferring
// the relay's JSON error message over the raw body.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	c.logger.Warn("relay request failed", "status", resp.StatusCode, "error", msg)
	return &RelayError{StatusCode: resp.StatusCode, Body: msg}
}

func callStatus(err error) string {
	var relayErr *RelayError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &relayErr):
		return fmt.Sprintf("http_%d", relayErr.StatusCode)
	case errors.Is(err, ErrUnexpectedResponse):
		return "bad_response"
	default:
		return "transport_error"
	}
}
