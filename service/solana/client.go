package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/pathos/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

const defaultConfirmPollInterval = 500 * time.Millisecond

// Client wraps the RPC client with the chain operations the wallet uses,
// adding client side rate limiting, metrics and logging.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)
	limiter      *rate.Limiter
	commitment   rpc.CommitmentType
	pollInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimit caps outgoing RPC calls. Public endpoints throttle
// aggressively, so the default client allows 5 requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithCommitment sets the commitment used for reads and confirmation.
func WithCommitment(commitment rpc.CommitmentType) ClientOption {
	return func(c *Client) { c.commitment = commitment }
}

// WithConfirmPollInterval sets how often signature status is polled.
func WithConfirmPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		limiter:      rate.NewLimiter(5, 5),
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: defaultConfirmPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commitment returns the commitment level the client reads and confirms at.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

// GetBalance returns the lamport balance of account.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	c.observe(ctx, "GetBalance", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for %s: %w", account, err)
	}
	if out == nil {
		return 0, fmt.Errorf("empty balance response for %s", account)
	}
	return out.Value, nil
}

// GetLatestBlockhash returns a recent blockhash at confirmed commitment.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.observe(ctx, "GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("empty blockhash response")
	}
	return out.Value.Blockhash, nil
}

// GetBlockHeight returns the current block height.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	height, err := c.rpc.GetBlockHeight(ctx, c.commitment)
	c.observe(ctx, "GetBlockHeight", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}
	return height, nil
}

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	c.observe(ctx, "GetSlot", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// Status returns the current slot as a ChainStatus.
func (c *Client) Status(ctx context.Context) (ChainStatus, error) {
	slot, err := c.GetSlot(ctx)
	if err != nil {
		return ChainStatus{}, err
	}
	return ChainStatus{Slot: slot, CheckedAt: time.Now()}, nil
}

// SendTransaction broadcasts a signed transaction with preflight checks.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.observe(ctx, "SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.InfoContext(ctx, "transaction sent", "signature", sig.String())
	return sig, nil
}

// ConfirmTransaction polls signature status until sig reaches the client's
// commitment, fails on chain, or the block height passes lastValidBlockHeight.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		polls++
		done, err := c.checkSignature(ctx, sig)
		if done || err != nil {
			c.recordPolls(err, polls)
			return err
		}

		height, err := c.GetBlockHeight(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to check block height while confirming",
				"signature", sig.String(),
				"error", err,
			)
		} else if height > lastValidBlockHeight {
			err := fmt.Errorf("%w: signature %s not confirmed by height %d", ErrBlockHeightExceeded, sig, lastValidBlockHeight)
			c.recordPolls(err, polls)
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkSignature reports whether sig reached the commitment. Unknown
// signatures are not an error; they may not have propagated yet.
func (c *Client) checkSignature(ctx context.Context, sig solana.Signature) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if errors.Is(err, rpc.ErrNotFound) {
		err = nil
	}
	c.observe(ctx, "GetSignatureStatuses", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get signature status", "signature", sig.String(), "error", err)
		return false, nil
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig, status.Err)
	}
	if reached(status.ConfirmationStatus, c.commitment) {
		c.logger.DebugContext(ctx, "transaction confirmed",
			"signature", sig.String(),
			"slot", status.Slot,
			"status", status.ConfirmationStatus,
		)
		return true, nil
	}
	return false, nil
}

func (c *Client) recordPolls(err error, polls int) {
	if c.metrics == nil {
		return
	}
	status := "confirmed"
	switch {
	case errors.Is(err, ErrBlockHeightExceeded):
		status = "expired"
	case err != nil:
		status = "failed"
	}
	c.metrics.RecordConfirmationPolls(status, polls)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordLimiterWait(c.endpoint, time.Since(start).Seconds())
	}
	return nil
}

func (c *Client) observe(ctx context.Context, method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if strings.Contains(err.Error(), "429") {
			status = "rate_limited"
		}
		c.logger.ErrorContext(ctx, "solana rpc call failed", "method", method, "error", err)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
	}
}
