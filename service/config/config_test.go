package config

import (
	"os"
	"testing"
	"time"

	"github.com/brojonat/pathos/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":3001", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "devnet", cfg.SolanaNetwork)
	assert.Equal(t, "confirmed", cfg.SolanaCommitment)
	assert.Equal(t, 5.0, cfg.SolanaRPCRPS)
	assert.Equal(t, "~/.config/solana/id.json", cfg.WalletKeypairPath)
	assert.Equal(t, 2.5, cfg.Fee.Percentage)
	assert.Equal(t, wallet.DefaultFeeCollector, cfg.Fee.CollectorAddress)
	assert.Equal(t, uint64(1_000_000), cfg.Fee.MinFeeLamports)
	assert.Equal(t, uint64(100_000_000), cfg.Fee.MaxFeeLamports)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.SlotPollInterval)
	assert.Equal(t, 15*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, "http://localhost:3001/api", cfg.RelayURL)
	assert.Equal(t, time.Minute, cfg.RelayTimeout)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", cfg.Relay.APIURL)
	assert.Equal(t, "2023-06-01", cfg.Relay.AnthropicVersion)
	assert.Equal(t, 1000, cfg.Relay.MaxTokens)
	assert.Equal(t, 0.7, cfg.Relay.Temperature)
	assert.Equal(t, 2.0, cfg.Relay.RateLimitRPS)
	assert.Equal(t, 5, cfg.Relay.RateLimitBurst)
}

func TestLoad_DefaultFeesMatchWallet(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	fees, err := cfg.WalletFeeConfig()
	require.NoError(t, err)
	assert.Equal(t, wallet.DefaultFeeConfig(), fees)
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("SOLANA_RPC_URL", "https://a.example.com,https://b.example.com")
	os.Setenv("SOLANA_NETWORK", "mainnet")
	os.Setenv("SOLANA_COMMITMENT", "finalized")
	os.Setenv("SOLANA_RPC_RPS", "0.5")
	os.Setenv("FEE_PERCENTAGE", "1")
	os.Setenv("MIN_FEE_LAMPORTS", "0")
	os.Setenv("MAX_RETRIES", "5")
	os.Setenv("SLOT_POLL_INTERVAL", "1m")
	os.Setenv("RECONCILE_INTERVAL", "0s")
	os.Setenv("CLAUDE_API_KEY", "secret-key")
	os.Setenv("RELAY_RATE_LIMIT_BURST", "10")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "https://a.example.com,https://b.example.com", cfg.SolanaRPCURL)
	assert.Equal(t, "mainnet", cfg.SolanaNetwork)
	assert.Equal(t, "finalized", cfg.SolanaCommitment)
	assert.Equal(t, 0.5, cfg.SolanaRPCRPS)
	assert.Equal(t, 1.0, cfg.Fee.Percentage)
	assert.Zero(t, cfg.Fee.MinFeeLamports)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Minute, cfg.SlotPollInterval)
	assert.Zero(t, cfg.ReconcileInterval)
	assert.Equal(t, "secret-key", cfg.Relay.APIKey)
	assert.Equal(t, 10, cfg.Relay.RateLimitBurst)
	assert.NoError(t, cfg.Relay.Validate())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"duration", "SLOT_POLL_INTERVAL", "soon", "invalid duration"},
		{"integer", "MAX_RETRIES", "two", "invalid integer"},
		{"negative retries", "MAX_RETRIES", "-1", "MAX_RETRIES cannot be negative"},
		{"unsigned", "MAX_FEE_LAMPORTS", "-5", "invalid unsigned integer"},
		{"float", "FEE_PERCENTAGE", "lots", "invalid number"},
		{"fee out of range", "FEE_PERCENTAGE", "150", "fee percentage must be between 0 and 100"},
		{"min above max", "MIN_FEE_LAMPORTS", "200000000", "cannot exceed maximum fee"},
		{"collector", "FEE_COLLECTOR_ADDRESS", "nope", "FEE_COLLECTOR_ADDRESS"},
		{"network", "SOLANA_NETWORK", "localnet", "SOLANA_NETWORK must be one of"},
		{"commitment", "SOLANA_COMMITMENT", "max", "SOLANA_COMMITMENT must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv(tt.key, tt.value)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	os.Setenv("SLOT_POLL_INTERVAL", "soon")
	os.Setenv("MAX_RETRIES", "two")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLOT_POLL_INTERVAL")
	assert.Contains(t, err.Error(), "MAX_RETRIES")
}

func validConfig() *Config {
	return &Config{
		SolanaRPCURL: "https://api.devnet.solana.com",
		RelayURL:     "http://localhost:3001/api",
		Fee: FeeConfig{
			Percentage:       2.5,
			CollectorAddress: wallet.DefaultFeeCollector,
			MinFeeLamports:   1_000_000,
			MaxFeeLamports:   100_000_000,
		},
		MaxRetries:        2,
		SlotPollInterval:  30 * time.Second,
		ReconcileInterval: 15 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"disabled pollers", func(c *Config) { c.SlotPollInterval = 0; c.ReconcileInterval = 0 }, ""},
		{"missing rpc url", func(c *Config) { c.SolanaRPCURL = "" }, "SolanaRPCURL is required"},
		{"missing relay url", func(c *Config) { c.RelayURL = "" }, "RelayURL is required"},
		{"bad collector", func(c *Config) { c.Fee.CollectorAddress = "" }, "FEE_COLLECTOR_ADDRESS"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "MaxRetries cannot be negative"},
		{"short slot poll", func(c *Config) { c.SlotPollInterval = 500 * time.Millisecond }, "SlotPollInterval must be at least 1 second"},
		{"short reconcile", func(c *Config) { c.ReconcileInterval = time.Millisecond }, "ReconcileInterval must be at least 1 second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRelayConfig_Validate(t *testing.T) {
	valid := RelayConfig{
		APIURL:    "https://api.anthropic.com/v1/messages",
		APIKey:    "key",
		MaxTokens: 1000,
	}
	assert.NoError(t, valid.Validate())

	missingKey := valid
	missingKey.APIKey = ""
	err := missingKey.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLAUDE_API_KEY is required")

	badTokens := valid
	badTokens.MaxTokens = 0
	assert.Error(t, badTokens.Validate())
}

func TestMustLoad_Panics(t *testing.T) {
	os.Setenv("MAX_RETRIES", "many")
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL", "DATABASE_URL", "NATS_URL",
		"SOLANA_RPC_URL", "SOLANA_NETWORK", "SOLANA_COMMITMENT", "SOLANA_RPC_RPS", "SOLANA_RPC_BURST",
		"WALLET_KEYPAIR_PATH", "FEE_PERCENTAGE", "FEE_COLLECTOR_ADDRESS", "MIN_FEE_LAMPORTS", "MAX_FEE_LAMPORTS",
		"MAX_RETRIES", "SLOT_POLL_INTERVAL", "RECONCILE_INTERVAL", "RELAY_URL", "RELAY_TIMEOUT",
		"CLAUDE_API_URL", "CLAUDE_API_KEY", "CLAUDE_MODEL", "ANTHROPIC_VERSION", "CLAUDE_MAX_TOKENS",
		"CLAUDE_TEMPERATURE", "RELAY_RATE_LIMIT_RPS", "RELAY_RATE_LIMIT_BURST", "RELAY_UPSTREAM_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}
