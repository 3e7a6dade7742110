package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/pathos/service/wallet"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Optional persistence and eventing. Empty disables the feature.
	DatabaseURL string
	NATSURL     string

	// Solana configuration
	SolanaRPCURL      string
	SolanaNetwork     string
	SolanaCommitment  string
	SolanaRPCRPS      float64
	SolanaRPCBurst    int
	WalletKeypairPath string

	// Transfer policy
	Fee        FeeConfig
	MaxRetries int

	// Session background jobs
	SlotPollInterval  time.Duration
	ReconcileInterval time.Duration

	// Chat relay client
	RelayURL     string
	RelayTimeout time.Duration

	// Chat relay server
	Relay RelayConfig
}

// FeeConfig is the service fee policy as read from the environment.
type FeeConfig struct {
	Percentage       float64
	CollectorAddress string
	MinFeeLamports   uint64
	MaxFeeLamports   uint64
}

// RelayConfig configures the relay server's upstream model API.
type RelayConfig struct {
	APIURL           string
	APIKey           string
	Model            string
	AnthropicVersion string
	MaxTokens        int
	Temperature      float64
	RateLimitRPS     float64
	RateLimitBurst   int
	UpstreamTimeout  time.Duration
}

// Load reads a .env file if one exists, then configuration from environment
// variables, and validates it. Returns an error if any configuration is
// invalid.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	env := &envParser{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":3001")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "devnet")
	switch cfg.SolanaNetwork {
	case "mainnet", "devnet", "testnet":
	default:
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be one of mainnet, devnet, testnet, got %q", cfg.SolanaNetwork))
	}
	cfg.SolanaCommitment = getEnvOrDefault("SOLANA_COMMITMENT", "confirmed")
	switch cfg.SolanaCommitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Errorf("SOLANA_COMMITMENT must be one of processed, confirmed, finalized, got %q", cfg.SolanaCommitment))
	}
	cfg.SolanaRPCRPS = env.getFloat("SOLANA_RPC_RPS", 5)
	cfg.SolanaRPCBurst = env.getInt("SOLANA_RPC_BURST", 5)
	cfg.WalletKeypairPath = getEnvOrDefault("WALLET_KEYPAIR_PATH", "~/.config/solana/id.json")

	// Transfer policy
	cfg.Fee.Percentage = env.getFloat("FEE_PERCENTAGE", 2.5)
	cfg.Fee.CollectorAddress = getEnvOrDefault("FEE_COLLECTOR_ADDRESS", wallet.DefaultFeeCollector)
	cfg.Fee.MinFeeLamports = env.getUint("MIN_FEE_LAMPORTS", 1_000_000)
	cfg.Fee.MaxFeeLamports = env.getUint("MAX_FEE_LAMPORTS", 100_000_000)
	if _, err := cfg.WalletFeeConfig(); err != nil {
		errs = append(errs, err)
	}
	cfg.MaxRetries = env.getInt("MAX_RETRIES", 2)
	if cfg.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES cannot be negative, got %d", cfg.MaxRetries))
	}

	// Session background jobs
	cfg.SlotPollInterval = env.getDuration("SLOT_POLL_INTERVAL", "30s")
	cfg.ReconcileInterval = env.getDuration("RECONCILE_INTERVAL", "15s")

	// Chat relay client
	cfg.RelayURL = getEnvOrDefault("RELAY_URL", "http://localhost:3001/api")
	cfg.RelayTimeout = env.getDuration("RELAY_TIMEOUT", "60s")

	// Chat relay server
	cfg.Relay.APIURL = getEnvOrDefault("CLAUDE_API_URL", "https://api.anthropic.com/v1/messages")
	cfg.Relay.APIKey = os.Getenv("CLAUDE_API_KEY")
	cfg.Relay.Model = getEnvOrDefault("CLAUDE_MODEL", "claude-3-5-sonnet-latest")
	cfg.Relay.AnthropicVersion = getEnvOrDefault("ANTHROPIC_VERSION", "2023-06-01")
	cfg.Relay.MaxTokens = env.getInt("CLAUDE_MAX_TOKENS", 1000)
	cfg.Relay.Temperature = env.getFloat("CLAUDE_TEMPERATURE", 0.7)
	cfg.Relay.RateLimitRPS = env.getFloat("RELAY_RATE_LIMIT_RPS", 2)
	cfg.Relay.RateLimitBurst = env.getInt("RELAY_RATE_LIMIT_BURST", 5)
	cfg.Relay.UpstreamTimeout = env.getDuration("RELAY_UPSTREAM_TIMEOUT", "60s")

	// Return all validation errors
	errs = append(env.errs, errs...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.RelayURL == "" {
		errs = append(errs, fmt.Errorf("RelayURL is required"))
	}

	if _, err := c.WalletFeeConfig(); err != nil {
		errs = append(errs, err)
	}

	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MaxRetries cannot be negative"))
	}

	if c.SlotPollInterval > 0 && c.SlotPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("SlotPollInterval must be at least 1 second"))
	}

	if c.ReconcileInterval > 0 && c.ReconcileInterval < time.Second {
		errs = append(errs, fmt.Errorf("ReconcileInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Validate checks the settings the relay server needs.
func (r RelayConfig) Validate() error {
	var errs []error

	if r.APIKey == "" {
		errs = append(errs, fmt.Errorf("CLAUDE_API_KEY is required"))
	}

	if r.APIURL == "" {
		errs = append(errs, fmt.Errorf("CLAUDE_API_URL is required"))
	}

	if r.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("CLAUDE_MAX_TOKENS must be positive"))
	}

	if r.RateLimitRPS < 0 || r.RateLimitBurst < 0 {
		errs = append(errs, fmt.Errorf("relay rate limit cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("relay configuration invalid: %v", errs)
	}

	return nil
}

// WalletFeeConfig converts the fee settings into the wallet's fee policy.
func (c *Config) WalletFeeConfig() (wallet.FeeConfig, error) {
	collector, err := wallet.ParseAddress(c.Fee.CollectorAddress)
	if err != nil {
		return wallet.FeeConfig{}, fmt.Errorf("FEE_COLLECTOR_ADDRESS: %w", err)
	}
	fees := wallet.FeeConfig{
		Percentage:       c.Fee.Percentage,
		CollectorAddress: collector,
		MinFeeLamports:   c.Fee.MinFeeLamports,
		MaxFeeLamports:   c.Fee.MaxFeeLamports,
	}
	if err := fees.Validate(); err != nil {
		return wallet.FeeConfig{}, err
	}
	return fees, nil
}

// envParser collects parse errors so Load can report all of them at once.
type envParser struct {
	errs []error
}

func (p *envParser) getDuration(key, defaultValue string) time.Duration {
	v, err := parseDuration(key, defaultValue)
	p.check(err)
	return v
}

func (p *envParser) getInt(key string, defaultValue int) int {
	v, err := parseInt(key, defaultValue)
	p.check(err)
	return v
}

func (p *envParser) getUint(key string, defaultValue uint64) uint64 {
	v, err := parseUint(key, defaultValue)
	p.check(err)
	return v
}

func (p *envParser) getFloat(key string, defaultValue float64) float64 {
	v, err := parseFloat(key, defaultValue)
	p.check(err)
	return v
}

func (p *envParser) check(err error) {
	if err != nil {
		p.errs = append(p.errs, err)
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
