package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCLimiterWait  *prometheus.HistogramVec
	confirmationPolls     *prometheus.HistogramVec

	// Retry Metrics
	retriesTotal *prometheus.CounterVec

	// Wallet Metrics
	walletEventsTotal   *prometheus.CounterVec
	walletDesyncsTotal  prometheus.Counter
	walletBalanceLamps  prometheus.Gauge
	transfersTotal      *prometheus.CounterVec
	transferDuration    *prometheus.HistogramVec
	transferFeeLamports prometheus.Histogram

	// Intent Metrics
	actionsExtractedTotal  *prometheus.CounterVec
	actionsSuppressedTotal *prometheus.CounterVec
	dispatchTotal          *prometheus.CounterVec
	dispatchDuration       *prometheus.HistogramVec

	// Relay Metrics
	relayUpstreamTotal     *prometheus.CounterVec
	relayUpstreamDuration  prometheus.Histogram
	relayRateLimitedTotal  prometheus.Counter
	relayClientCallsTotal  *prometheus.CounterVec
	relayClientCallSeconds prometheus.Histogram

	// Poller Metrics
	pollerRunsTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCLimiterWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_limiter_wait_seconds",
				Help:    "Time spent waiting on the client side RPC rate limiter",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"endpoint"},
		),
		confirmationPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_confirmation_polls",
				Help:    "Number of signature status polls needed to confirm a transaction",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"status"},
		),

		// Retry Metrics
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pathos_retries_total",
				Help: "Total number of retry attempts by operation and reason",
			},
			[]string{"operation", "reason"},
		),

		// Wallet Metrics
		walletEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_events_total",
				Help: "Total number of wallet provider events mirrored into local state",
			},
			[]string{"event"},
		),
		walletDesyncsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_desyncs_total",
				Help: "Total number of connection desyncs healed by reconciliation",
			},
		),
		walletBalanceLamps: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_balance_lamports",
				Help: "Last observed balance of the connected wallet in lamports",
			},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_total",
				Help: "Total number of SOL transfers by outcome",
			},
			[]string{"status"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_duration_seconds",
				Help:    "Duration of SOL transfers including signing and confirmation",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		transferFeeLamports: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transfer_fee_lamports",
				Help:    "Service fee charged per confirmed transfer in lamports",
				Buckets: []float64{0, 1e6, 5e6, 1e7, 2.5e7, 5e7, 1e8},
			},
		),

		// Intent Metrics
		actionsExtractedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_actions_extracted_total",
				Help: "Total number of actions extracted from model replies",
			},
			[]string{"action"},
		),
		actionsSuppressedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_actions_suppressed_total",
				Help: "Total number of extracted actions suppressed as redundant",
			},
			[]string{"action"},
		),
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_dispatch_total",
				Help: "Total number of dispatched actions by outcome",
			},
			[]string{"action", "status"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_dispatch_duration_seconds",
				Help:    "Duration of dispatched actions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"action"},
		),

		// Relay Metrics
		relayUpstreamTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_upstream_requests_total",
				Help: "Total number of requests forwarded to the model API",
			},
			[]string{"status"},
		),
		relayUpstreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_upstream_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		relayRateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_rate_limited_total",
				Help: "Total number of relay requests rejected by the per-client rate limiter",
			},
		),
		relayClientCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_client_calls_total",
				Help: "Total number of chat relay calls made by the agent",
			},
			[]string{"status"},
		),
		relayClientCallSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_client_call_duration_seconds",
				Help:    "Duration of chat relay calls made by the agent",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		// Poller Metrics
		pollerRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poller_runs_total",
				Help: "Total number of background poller runs by job and status",
			},
			[]string{"job", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 30},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordLimiterWait records time spent blocked on the RPC rate limiter.
func (m *Metrics) RecordLimiterWait(endpoint string, seconds float64) {
	m.solanaRPCLimiterWait.WithLabelValues(endpoint).Observe(seconds)
}

// RecordConfirmationPolls records how many status polls a confirmation took.
func (m *Metrics) RecordConfirmationPolls(status string, polls int) {
	m.confirmationPolls.WithLabelValues(status).Observe(float64(polls))
}

// RecordRetry records a retry attempt.
func (m *Metrics) RecordRetry(operation, reason string) {
	m.retriesTotal.WithLabelValues(operation, reason).Inc()
}

// Wallet metric helpers

// RecordWalletEvent records a provider event or connection state change.
func (m *Metrics) RecordWalletEvent(event string) {
	m.walletEventsTotal.WithLabelValues(event).Inc()
}

// RecordDesync records a reconciliation that forced the wallet to Disconnected.
func (m *Metrics) RecordDesync() {
	m.walletDesyncsTotal.Inc()
}

// RecordBalance records the latest balance of the connected wallet.
func (m *Metrics) RecordBalance(lamports uint64) {
	m.walletBalanceLamps.Set(float64(lamports))
}

// RecordTransfer records a finished transfer and its duration.
func (m *Metrics) RecordTransfer(status string, duration float64) {
	m.transfersTotal.WithLabelValues(status).Inc()
	m.transferDuration.WithLabelValues(status).Observe(duration)
}

// RecordTransferFee records the service fee of a confirmed transfer.
func (m *Metrics) RecordTransferFee(lamports uint64) {
	m.transferFeeLamports.Observe(float64(lamports))
}

// Intent metric helpers

// RecordActionExtracted records an action parsed out of a model reply.
func (m *Metrics) RecordActionExtracted(action string) {
	m.actionsExtractedTotal.WithLabelValues(action).Inc()
}

// RecordActionSuppressed records an action dropped by the redundancy filter.
func (m *Metrics) RecordActionSuppressed(action string) {
	m.actionsSuppressedTotal.WithLabelValues(action).Inc()
}

// RecordDispatch records a dispatched action with its outcome.
func (m *Metrics) RecordDispatch(action, status string, duration float64) {
	m.dispatchTotal.WithLabelValues(action, status).Inc()
	m.dispatchDuration.WithLabelValues(action).Observe(duration)
}

// Relay metric helpers

// RecordRelayUpstream records a request forwarded to the model API.
func (m *Metrics) RecordRelayUpstream(statusCode int, duration float64) {
	m.relayUpstreamTotal.WithLabelValues(statusCodeToString(statusCode)).Inc()
	m.relayUpstreamDuration.Observe(duration)
}

// RecordRelayRateLimited records a request rejected with 429.
func (m *Metrics) RecordRelayRateLimited() {
	m.relayRateLimitedTotal.Inc()
}

// RecordRelayClientCall records a chat relay call made by the agent.
func (m *Metrics) RecordRelayClientCall(status string, duration float64) {
	m.relayClientCallsTotal.WithLabelValues(status).Inc()
	m.relayClientCallSeconds.Observe(duration)
}

// RecordPollerRun records one run of a background poller.
func (m *Metrics) RecordPollerRun(job, status string) {
	m.pollerRunsTotal.WithLabelValues(job, status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
