package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/pathos/client"
	"github.com/brojonat/pathos/service/config"
	"github.com/brojonat/pathos/service/metrics"
	"github.com/brojonat/pathos/service/wallet"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB
	maxUpstreamBodySize = 4 << 20
)

// claudeRequest is what the agent posts to the relay.
type claudeRequest struct {
	Messages []client.Message `json:"messages"`
	System   string           `json:"system"`
}

// upstreamRequest is the body sent to the model API.
type upstreamRequest struct {
	Model       string           `json:"model"`
	Messages    []client.Message `json:"messages"`
	System      string           `json:"system,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

// upstreamErrorResponse passes a non-2xx upstream answer through to the caller.
type upstreamErrorResponse struct {
	Error      string `json:"error"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Method     string `json:"method"`
	URL        string `json:"url"`
}

// handleClaude returns a handler that forwards a conversation to the model API.
// POST /api/claude
func handleClaude(cfg config.RelayConfig, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req claudeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			logger.DebugContext(r.Context(), "invalid relay request", "error", err)
			writeError(w, "Missing or invalid messages array", http.StatusBadRequest)
			return
		}

		body, err := json.Marshal(upstreamRequest{
			Model:       cfg.Model,
			Messages:    req.Messages,
			System:      req.System,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			writeServerError(w, logger, r, err)
			return
		}

		upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, cfg.APIURL, bytes.NewReader(body))
		if err != nil {
			writeServerError(w, logger, r, err)
			return
		}
		upstreamReq.Header.Set("Content-Type", "application/json")
		upstreamReq.Header.Set("x-api-key", cfg.APIKey)
		upstreamReq.Header.Set("anthropic-version", cfg.AnthropicVersion)

		logger.DebugContext(r.Context(), "forwarding to model API",
			"model", cfg.Model,
			"messages", len(req.Messages),
			"body_size", len(body),
		)

		start := time.Now()
		resp, err := httpClient.Do(upstreamReq)
		if err != nil {
			if m != nil {
				m.RecordRelayUpstream(0, time.Since(start).Seconds())
			}
			logger.ErrorContext(r.Context(), "error during model API call", "error", err)
			writeJSON(w, map[string]string{
				"error": fmt.Sprintf("Error communicating with Claude API: %s", err),
				"type":  "fetch_error",
			}, http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodySize))
		if m != nil {
			m.RecordRelayUpstream(resp.StatusCode, time.Since(start).Seconds())
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to read model API response", "error", err)
			writeJSON(w, map[string]string{
				"error": fmt.Sprintf("Error communicating with Claude API: %s", err),
				"type":  "fetch_error",
			}, http.StatusBadGateway)
			return
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logger.ErrorContext(r.Context(), "model API error",
				"status", resp.StatusCode,
				"body", string(respBody),
			)
			writeJSON(w, upstreamErrorResponse{
				Error:      string(respBody),
				Status:     resp.StatusCode,
				StatusText: http.StatusText(resp.StatusCode),
				Method:     r.Method,
				URL:        cfg.APIURL,
			}, resp.StatusCode)
			return
		}

		if !json.Valid(respBody) {
			writeServerError(w, logger, r, fmt.Errorf("model API returned invalid JSON"))
			return
		}

		logger.DebugContext(r.Context(), "model API response received", "status", resp.StatusCode)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(respBody)
	})
}

// handlePaymentRequest returns a handler that builds a Solana Pay request.
// GET /api/v1/payment-requests?recipient={address}&amount={sol}&label=&message=&memo=
func handlePaymentRequest(network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var amount float64
		if raw := q.Get("amount"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, fmt.Sprintf("invalid amount: %q", raw), http.StatusBadRequest)
				return
			}
			amount = v
		}

		req, err := wallet.NewPaymentRequest(wallet.PaymentRequestParams{
			Recipient: q.Get("recipient"),
			AmountSol: amount,
			Label:     q.Get("label"),
			Message:   q.Get("message"),
			Memo:      q.Get("memo"),
		}, network)
		if err != nil {
			if errors.Is(err, wallet.ErrInvalidAddress) || errors.Is(err, wallet.ErrInvalidAmount) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeServerError(w, logger, r, err)
			return
		}

		logger.DebugContext(r.Context(), "payment request created",
			"id", req.ID,
			"recipient", req.Recipient,
			"amount_lamports", req.AmountLamports,
		)
		writeJSON(w, req, http.StatusOK)
	})
}

func writeServerError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	logger.ErrorContext(r.Context(), "relay server error", "error", err)
	writeJSON(w, map[string]string{
		"error":   "Internal server error",
		"message": err.Error(),
		"type":    "server_error",
	}, http.StatusInternalServerError)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
