package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/pathos/service/config"
	"github.com/brojonat/pathos/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the chat relay: it forwards conversations to the model API so
// the API key never leaves the backend.
type Server struct {
	addr       string
	cfg        config.RelayConfig
	network    string
	httpClient *http.Client
	limiter    *ClientLimiter
	events     *EventStream
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *slog.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a relay server. events is optional; without it the streaming
// endpoints are not registered. If metrics is nil, no metrics are recorded
// and /metrics is not served.
func New(addr string, cfg config.RelayConfig, network string, events *EventStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{
		addr:       addr,
		cfg:        cfg,
		network:    network,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
		events:     events,
		metrics:    m,
		gatherer:   prometheus.DefaultGatherer,
		logger:     logger,
	}
}

// WithGatherer sets the registry served on /metrics.
func (s *Server) WithGatherer(g prometheus.Gatherer) *Server {
	s.gatherer = g
	return s
}

// Handler builds the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat relay
	mux.Handle("POST /api/claude", s.instrument("claude", s.rateLimit(handleClaude(s.cfg, s.httpClient, s.metrics, s.logger))))

	// Payment requests
	mux.Handle("GET /api/v1/payment-requests", s.instrument("payment_request", handlePaymentRequest(s.network, s.logger)))

	// Event streaming (if NATS is configured)
	if s.events != nil {
		mux.Handle("GET /api/v1/stream/events", handleStreamEvents(s.events, s.logger))
		mux.Handle("GET /api/v1/stream/transfers/{address}", handleStreamEvents(s.events, s.logger))
		s.logger.Info("event streaming endpoints enabled")
	} else {
		s.logger.Warn("NATS not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return logRequests(s.logger, corsMiddleware(mux))
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.httpClient.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting relay server", "addr", s.addr, "model", s.cfg.Model)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down relay server")

	// Close the event stream first (disconnects all clients)
	if s.events != nil {
		s.events.Close()
	}

	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(next)
}

// rateLimit rejects clients that exceed their per-IP budget with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.Allow(ip, time.Now()) {
			s.logger.WarnContext(r.Context(), "rate limit exceeded", "client_ip", ip)
			if s.metrics != nil {
				s.metrics.RecordRelayRateLimited()
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs every request at debug level.
func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.DebugContext(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
