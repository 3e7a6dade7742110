package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/brojonat/pathos/service/metrics"
	solanasvc "github.com/brojonat/pathos/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// ConfirmationWindow is how many blocks past the current height a transfer
// may take to confirm.
const ConfirmationWindow = 150

// TransferResult is the outcome of a confirmed transfer.
type TransferResult struct {
	Signature string
	Confirmed bool
	Fee       FeeQuote
	From      solana.PublicKey
	To        solana.PublicKey
}

// TransferEngine builds, signs, sends and confirms SOL transfers.
type TransferEngine struct {
	manager   *Manager
	provider  Provider
	chain     Chain
	fees      FeeConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retryOpts []RetryOption
}

// NewTransferEngine creates a TransferEngine. The provider and chain must be
// the ones the manager uses.
func NewTransferEngine(manager *Manager, provider Provider, chain Chain, fees FeeConfig, m *metrics.Metrics, logger *slog.Logger, opts ...RetryOption) *TransferEngine {
	retryOpts := append([]RetryOption{
		WithRetryLogger(logger),
		WithRetryMetrics(m),
		WithOperation("transfer"),
	}, opts...)
	return &TransferEngine{
		manager:   manager,
		provider:  provider,
		chain:     chain,
		fees:      fees,
		logger:    logger,
		metrics:   m,
		retryOpts: retryOpts,
	}
}

// Fees returns the fee policy applied when chargeFee is set.
func (e *TransferEngine) Fees() FeeConfig {
	return e.fees
}

// Transfer sends amountSol to recipient. With chargeFee the service fee is
// split off into a second instruction to the fee collector. The whole
// operation is retried on transient failures; a declined signature is never
// retried.
func (e *TransferEngine) Transfer(ctx context.Context, recipient string, amountSol float64, chargeFee bool) (*TransferResult, error) {
	start := time.Now()
	result, err := Retry(ctx, func(ctx context.Context) (*TransferResult, error) {
		return e.attempt(ctx, recipient, amountSol, chargeFee)
	}, e.retryOpts...)

	status := transferStatus(err)
	if e.metrics != nil {
		e.metrics.RecordTransfer(status, time.Since(start).Seconds())
		if err == nil {
			e.metrics.RecordTransferFee(result.Fee.FeeLamports)
		}
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "transfer failed",
			"recipient", recipient,
			"amount_sol", amountSol,
			"status", status,
			"error", err,
		)
		return nil, err
	}

	e.logger.InfoContext(ctx, "transfer confirmed",
		"signature", result.Signature,
		"recipient", recipient,
		"recipient_lamports", result.Fee.RecipientLamports,
		"fee_lamports", result.Fee.FeeLamports,
	)
	return result, nil
}

func (e *TransferEngine) attempt(ctx context.Context, recipient string, amountSol float64, chargeFee bool) (*TransferResult, error) {
	from, err := e.manager.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}

	to, err := ParseAddress(recipient)
	if err != nil {
		return nil, err
	}

	if math.IsNaN(amountSol) || math.IsInf(amountSol, 0) || amountSol <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidAmount, amountSol)
	}

	var quote FeeQuote
	if chargeFee {
		quote, err = Quote(amountSol, e.fees)
	} else {
		var lamports uint64
		lamports, err = SolToLamports(amountSol)
		quote = ZeroFeeQuote(lamports)
	}
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		system.NewTransferInstruction(quote.RecipientLamports, from, to).Build(),
	}
	if quote.FeeLamports > 0 {
		instructions = append(instructions,
			system.NewTransferInstruction(quote.FeeLamports, from, e.fees.CollectorAddress).Build(),
		)
	}

	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, rpcFailure("get latest blockhash", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(from))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	e.logger.DebugContext(ctx, "requesting signature",
		"from", from.String(),
		"to", to.String(),
		"instructions", len(instructions),
		"blockhash", blockhash.String(),
	)
	signed, err := e.provider.SignTransaction(ctx, tx)
	if err != nil {
		if IsUserCancellation(err) {
			return nil, fmt.Errorf("%w: %w", ErrTransferCancelled, err)
		}
		return nil, e.afterSigning(ctx, "sign transaction", err)
	}

	sig, err := e.chain.SendTransaction(ctx, signed)
	if err != nil {
		return nil, e.afterSigning(ctx, "send transaction", err)
	}

	height, err := e.chain.GetBlockHeight(ctx)
	if err != nil {
		return nil, e.afterSigning(ctx, "get block height", err)
	}

	if err := e.chain.ConfirmTransaction(ctx, sig, height+ConfirmationWindow); err != nil {
		return nil, e.afterSigning(ctx, "confirm transaction", err)
	}

	return &TransferResult{
		Signature: sig.String(),
		Confirmed: true,
		Fee:       quote,
		From:      from,
		To:        to,
	}, nil
}

// afterSigning classifies a failure once the provider has been asked to
// sign. A dropped wallet resets the manager and fails fast, as does a
// transaction that landed but failed on chain.
func (e *TransferEngine) afterSigning(ctx context.Context, op string, err error) error {
	if isConnectionLost(err) {
		e.manager.ForceDisconnected(ctx, err.Error())
		return fmt.Errorf("%w: failed to %s: %w", ErrConnectionLost, op, err)
	}
	if errors.Is(err, solanasvc.ErrTransactionFailed) {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	if op == "sign transaction" {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return rpcFailure(op, err)
}

func transferStatus(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, ErrTransferCancelled):
		return "cancelled"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ErrTransactionFailed):
		return "failed"
	case errors.Is(err, ErrRPCFailure):
		return "rpc_failure"
	case IsPermanent(err):
		return "rejected"
	default:
		return "error"
	}
}
