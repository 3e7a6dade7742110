package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/pathos/client"
	"github.com/brojonat/pathos/service/config"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRelayConfig(apiURL string) config.RelayConfig {
	return config.RelayConfig{
		APIURL:           apiURL,
		APIKey:           "test-key",
		Model:            "test-model",
		AnthropicVersion: "2023-06-01",
		MaxTokens:        1000,
		Temperature:      0.7,
		UpstreamTimeout:  5 * time.Second,
	}
}

// upstreamCapture records what the relay forwarded to the fake model API.
type upstreamCapture struct {
	mu      sync.Mutex
	headers http.Header
	body    upstreamRequest
	calls   int
}

func (c *upstreamCapture) snapshot() (http.Header, upstreamRequest, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers, c.body, c.calls
}

func newUpstream(t *testing.T, status int, reply string) (*httptest.Server, *upstreamCapture) {
	t.Helper()
	capture := &upstreamCapture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.mu.Lock()
		capture.calls++
		capture.headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&capture.body))
		capture.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, capture
}

func postClaude(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/claude", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleClaude_InvalidMessages(t *testing.T) {
	upstream, capture := newUpstream(t, http.StatusOK, `{}`)
	h := handleClaude(testRelayConfig(upstream.URL), upstream.Client(), nil, testLogger())

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed JSON", body: `{"messages":`},
		{name: "missing messages", body: `{"system":"hi"}`},
		{name: "messages not an array", body: `{"messages":"hello"}`},
		{name: "empty messages", body: `{"messages":[]}`},
		{name: "oversized body", body: `{"messages":[{"role":"user","content":"` + strings.Repeat("a", maxRequestBodySize) + `"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postClaude(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "Missing or invalid messages array", resp["error"])
		})
	}
	_, _, calls := capture.snapshot()
	assert.Zero(t, calls, "invalid requests must not reach the model API")
}

func TestHandleClaude_Passthrough(t *testing.T) {
	reply := `{"content":[{"type":"text","text":"Hello! <check_balance>"}]}`
	upstream, capture := newUpstream(t, http.StatusOK, reply)
	h := handleClaude(testRelayConfig(upstream.URL), upstream.Client(), nil, testLogger())

	rec := postClaude(t, h, `{"messages":[{"role":"user","content":"balance?"}],"system":"be helpful"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, reply, rec.Body.String())

	headers, body, _ := capture.snapshot()
	assert.Equal(t, "test-key", headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", headers.Get("anthropic-version"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, upstreamRequest{
		Model:       "test-model",
		Messages:    []client.Message{{Role: "user", Content: "balance?"}},
		System:      "be helpful",
		MaxTokens:   1000,
		Temperature: 0.7,
	}, body)
}

func TestHandleClaude_UpstreamError(t *testing.T) {
	upstream, _ := newUpstream(t, http.StatusUnauthorized, `{"type":"error","error":{"message":"invalid x-api-key"}}`)
	cfg := testRelayConfig(upstream.URL)
	h := handleClaude(cfg, upstream.Client(), nil, testLogger())

	rec := postClaude(t, h, `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp upstreamErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "invalid x-api-key")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "Unauthorized", resp.StatusText)
	assert.Equal(t, http.MethodPost, resp.Method)
	assert.Equal(t, cfg.APIURL, resp.URL)
}

func TestHandleClaude_UpstreamUnreachable(t *testing.T) {
	upstream, _ := newUpstream(t, http.StatusOK, `{}`)
	url := upstream.URL
	upstream.Close()

	h := handleClaude(testRelayConfig(url), &http.Client{Timeout: time.Second}, nil, testLogger())
	rec := postClaude(t, h, `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fetch_error", resp["type"])
	assert.True(t, strings.HasPrefix(resp["error"], "Error communicating with Claude API: "))
}

func TestHandleClaude_InvalidUpstreamJSON(t *testing.T) {
	upstream, _ := newUpstream(t, http.StatusOK, `<html>oops</html>`)
	h := handleClaude(testRelayConfig(upstream.URL), upstream.Client(), nil, testLogger())

	rec := postClaude(t, h, `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Internal server error", resp["error"])
	assert.Equal(t, "server_error", resp["type"])
	assert.NotEmpty(t, resp["message"])
}

func TestHandlePaymentRequest(t *testing.T) {
	h := handlePaymentRequest("devnet", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payment-requests?recipient="+wallet.DefaultFeeCollector+"&amount=0.5&label=Tips", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp wallet.PaymentRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, wallet.DefaultFeeCollector, resp.Recipient)
	assert.Equal(t, "devnet", resp.Network)
	assert.Equal(t, uint64(500_000_000), resp.AmountLamports)
	assert.Contains(t, resp.PaymentURL, "amount=0.5")
	assert.Contains(t, resp.PaymentURL, "label=Tips")
	assert.NotEmpty(t, resp.QRCodeData)
}

func TestHandlePaymentRequest_Invalid(t *testing.T) {
	h := handlePaymentRequest("devnet", testLogger())

	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{name: "missing recipient", query: "", wantErr: "invalid Solana address"},
		{name: "bad recipient", query: "recipient=abc", wantErr: "invalid Solana address"},
		{name: "non-numeric amount", query: "recipient=" + wallet.DefaultFeeCollector + "&amount=lots", wantErr: "invalid amount"},
		{name: "negative amount", query: "recipient=" + wallet.DefaultFeeCollector + "&amount=-2", wantErr: "positive number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payment-requests?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
		})
	}
}
