package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/pathos/service/agent"
	"github.com/brojonat/pathos/service/config"
	"github.com/brojonat/pathos/service/db"
	"github.com/brojonat/pathos/service/metrics"
	natspkg "github.com/brojonat/pathos/service/nats"
	"github.com/brojonat/pathos/service/solana"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

// runtime holds the components shared by the chat and wallet commands.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	chain    *solana.Client
	provider *wallet.KeypairProvider // nil when no keypair file exists
	fees     wallet.FeeConfig

	store     *db.Store
	publisher natspkg.Publisher

	metricsAddr string // bound address of the optional /metrics listener
	closers     []func()
}

// loadConfig reads the environment and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v := c.String("database-url"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := c.String("nats-url"); v != "" {
		cfg.NATSURL = v
	}
	if v := c.String("keypair"); v != "" {
		cfg.WalletKeypairPath = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// newRuntime builds the chain client and loads the keypair. With
// withRecorder it also connects to the optional database and NATS.
func newRuntime(c *cli.Context, approver wallet.Approver, withRecorder bool) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	fees, err := cfg.WalletFeeConfig()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	chain, err := newChainClient(cfg, m, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		chain:   chain,
		fees:    fees,
	}

	if addr := c.String("metrics-addr"); addr != "" {
		bound, stop, err := startMetricsServer(addr, registry, logger)
		if err != nil {
			return nil, err
		}
		rt.metricsAddr = bound
		rt.closers = append(rt.closers, stop)
	}

	provider, err := wallet.LoadKeypairProvider(cfg.WalletKeypairPath, approver)
	switch {
	case err == nil:
		rt.provider = provider
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("no keypair found, wallet unavailable", "path", cfg.WalletKeypairPath)
	default:
		rt.Close()
		return nil, err
	}

	if !withRecorder {
		return rt, nil
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(c.Context, cfg.DatabaseURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		if err := pool.Ping(c.Context); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		rt.store = db.NewStore(pool, m)
	}

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { publisher.Close() })
		rt.publisher = publisher
	}

	return rt, nil
}

// walletProvider returns the provider as the interface the manager takes,
// keeping a missing keypair a true nil.
func (rt *runtime) walletProvider() wallet.Provider {
	if rt.provider == nil {
		return nil
	}
	return rt.provider
}

// newManager wires a connection manager around the runtime's provider.
func (rt *runtime) newManager(notifier wallet.Notifier) *wallet.Manager {
	return wallet.NewManager(rt.walletProvider(), rt.chain, notifier, rt.metrics, rt.logger,
		wallet.WithMaxRetries(rt.cfg.MaxRetries))
}

// newTransferEngine wires a transfer engine for manager.
func (rt *runtime) newTransferEngine(manager *wallet.Manager) *wallet.TransferEngine {
	return wallet.NewTransferEngine(manager, rt.walletProvider(), rt.chain, rt.fees, rt.metrics, rt.logger,
		wallet.WithMaxRetries(rt.cfg.MaxRetries))
}

// newRecorder returns a recorder, or nil when neither a store nor a
// publisher is configured.
func (rt *runtime) newRecorder() *agent.Recorder {
	if rt.store == nil && rt.publisher == nil {
		return nil
	}
	var store agent.Store
	if rt.store != nil {
		store = rt.store
	}
	return agent.NewRecorder(store, rt.publisher, rt.cfg.SolanaNetwork, rt.logger)
}

// Close releases connections in reverse order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// newChainClient picks one of the configured RPC endpoints and wraps it with
// rate limiting and the configured commitment.
func newChainClient(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*solana.Client, error) {
	endpoint, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(cfg.SolanaRPCURL))
	if err != nil {
		return nil, err
	}
	commitment, err := solana.ParseCommitment(cfg.SolanaCommitment)
	if err != nil {
		return nil, err
	}
	logger.Debug("using solana RPC endpoint", "endpoint", solana.EndpointLabel(endpoint))
	return solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), m, logger,
		solana.WithRateLimit(cfg.SolanaRPCRPS, cfg.SolanaRPCBurst),
		solana.WithCommitment(commitment),
	), nil
}

// startMetricsServer serves g on addr/metrics until the returned stop func
// is called. It listens before returning so a bad address fails the command.
func startMetricsServer(addr string, g prometheus.Gatherer, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
	}
	return ln.Addr().String(), stop, nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// requireProvider fails commands that need a keypair.
func (rt *runtime) requireProvider() error {
	if rt.provider == nil {
		return fmt.Errorf("%w: no keypair at %s (use --keypair or WALLET_KEYPAIR_PATH)", wallet.ErrWalletUnavailable, rt.cfg.WalletKeypairPath)
	}
	return nil
}
