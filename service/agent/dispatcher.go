package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/brojonat/pathos/service/intent"
	"github.com/brojonat/pathos/service/metrics"
	"github.com/brojonat/pathos/service/wallet"
)

const invalidAddressMessage = "That doesn't appear to be a valid Solana address. Please check and try again."

// Outcome is the result of one dispatched action. Message is what the user
// sees; it is empty when the action completes silently. Err keeps the
// underlying failure for logs and metrics.
type Outcome struct {
	Action   string
	Message  string
	Err      error
	Transfer *wallet.TransferResult // set on a confirmed transfer
}

// ProgressFunc receives interim messages while a long action runs.
type ProgressFunc func(ctx context.Context, msg string)

// Dispatcher maps actions onto wallet and chain operations.
type Dispatcher struct {
	manager   *wallet.Manager
	transfers *wallet.TransferEngine
	chain     Chain
	tracker   *ChainTracker
	progress  ProgressFunc
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithProgress sets where interim messages go.
func WithProgress(fn ProgressFunc) DispatcherOption {
	return func(d *Dispatcher) { d.progress = fn }
}

// NewDispatcher creates a Dispatcher. If metrics is nil, no metrics will be
// recorded.
func NewDispatcher(manager *wallet.Manager, transfers *wallet.TransferEngine, chain Chain, tracker *ChainTracker, m *metrics.Metrics, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		manager:   manager,
		transfers: transfers,
		chain:     chain,
		tracker:   tracker,
		progress:  func(context.Context, string) {},
		logger:    logger,
		metrics:   m,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs action and reports the result. It never panics; every
// failure is turned into a user-facing message.
func (d *Dispatcher) Dispatch(ctx context.Context, action intent.Action) Outcome {
	start := time.Now()

	var out Outcome
	switch a := action.(type) {
	case intent.ConnectWallet:
		out = d.connect(ctx)
	case intent.DisconnectWallet:
		out = d.disconnect(ctx)
	case intent.CheckBalance:
		out = d.checkBalance(ctx, a.Address)
	case intent.TransferSol:
		out = d.transfer(ctx, a.Recipient, a.Amount)
	case intent.CheckSlot:
		out = d.checkSlot(ctx)
	default:
		d.logger.WarnContext(ctx, "unknown action type", "action", intent.NameOf(action))
		return Outcome{Action: intent.NameOf(action)}
	}
	out.Action = action.Name()

	status := "success"
	if out.Err != nil {
		status = "error"
		d.logger.WarnContext(ctx, "action failed", "action", out.Action, "error", out.Err)
	}
	if d.metrics != nil {
		d.metrics.RecordDispatch(out.Action, status, time.Since(start).Seconds())
	}
	return out
}

func (d *Dispatcher) connect(ctx context.Context) Outcome {
	if d.manager.State().Connected {
		// Already connected: just refresh the balance.
		if _, err := d.manager.GetBalance(ctx); err != nil {
			d.logger.WarnContext(ctx, "failed to refresh balance", "error", err)
		}
		return Outcome{}
	}

	pk, err := d.manager.Connect(ctx)
	if err != nil {
		return Outcome{
			Message: fmt.Sprintf("Failed to connect wallet: %s. Please try again.", err),
			Err:     err,
		}
	}
	if _, err := d.manager.GetBalance(ctx); err != nil {
		d.logger.WarnContext(ctx, "failed to fetch balance after connect", "error", err)
	}
	return Outcome{
		Message: "Wallet connected successfully! Your address: " + wallet.FormatAddress(pk.String()),
	}
}

func (d *Dispatcher) disconnect(ctx context.Context) Outcome {
	if err := d.manager.Disconnect(ctx); err != nil {
		return Outcome{Message: fmt.Sprintf("Failed to disconnect: %s", err), Err: err}
	}
	return Outcome{Message: "Wallet disconnected successfully."}
}

func (d *Dispatcher) checkBalance(ctx context.Context, address string) Outcome {
	if address != "" {
		pk, err := wallet.ParseAddress(address)
		if err != nil {
			return Outcome{Message: invalidAddressMessage, Err: err}
		}
		lamports, err := d.chain.GetBalance(ctx, pk)
		if err != nil {
			return Outcome{Message: fmt.Sprintf("Error checking balance: %s", err), Err: err}
		}
		return Outcome{
			Message: fmt.Sprintf("The address %s has a balance of %.6f SOL.",
				wallet.FormatAddress(address), wallet.LamportsToSol(lamports)),
		}
	}

	if !d.manager.State().Connected {
		return Outcome{
			Message: "You need to connect your wallet first to check its balance.",
			Err:     wallet.ErrNotConnected,
		}
	}
	// The cached balance may be stale, so always fetch a fresh one.
	sol, err := d.manager.GetBalance(ctx)
	if err != nil {
		return Outcome{Message: fmt.Sprintf("Error checking balance: %s", err), Err: err}
	}
	return Outcome{Message: fmt.Sprintf("Your wallet balance is %.6f SOL.", sol)}
}

func (d *Dispatcher) transfer(ctx context.Context, recipient string, amount float64) Outcome {
	state := d.manager.State()
	if !state.Connected {
		return Outcome{
			Message: "You need to connect your wallet first to make transfers.",
			Err:     wallet.ErrNotConnected,
		}
	}
	if recipient == "" || amount == 0 {
		return Outcome{
			Message: "I need both a recipient address and an amount to make a transfer.",
			Err:     wallet.ErrInvalidAmount,
		}
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return Outcome{Message: "The amount must be a positive number.", Err: wallet.ErrInvalidAmount}
	}
	if !wallet.IsValidAddress(recipient) {
		return Outcome{Message: invalidAddressMessage, Err: wallet.ErrInvalidAddress}
	}
	if balance, ok := state.BalanceSol(); ok && amount > balance {
		return Outcome{
			Message: fmt.Sprintf("Insufficient balance. You're trying to send %.6f SOL but your wallet only has %.6f SOL.", amount, balance),
			Err:     wallet.ErrInsufficientBalance,
		}
	}

	d.progress(ctx, fmt.Sprintf("Preparing to send %s SOL to %s...", formatAmount(amount), wallet.FormatAddress(recipient)))

	result, err := d.transfers.Transfer(ctx, recipient, amount, true)
	if err != nil {
		return Outcome{Message: transferFailureMessage(err), Err: err}
	}

	if _, err := d.manager.GetBalance(ctx); err != nil {
		d.logger.WarnContext(ctx, "failed to refresh balance after transfer", "error", err)
	}

	return Outcome{
		Message: fmt.Sprintf("Transaction successful! ✅\nSignature: %s\n\nRecipient received: %.6f SOL\nService fee: %.6f SOL (%s%%)",
			result.Signature,
			result.Fee.RecipientSol(),
			result.Fee.FeeSol(),
			formatAmount(result.Fee.Percentage),
		),
		Transfer: result,
	}
}

func transferFailureMessage(err error) string {
	if errors.Is(err, wallet.ErrTransferCancelled) {
		return "Transaction failed: " + wallet.ErrTransferCancelled.Error()
	}
	return fmt.Sprintf("Transaction failed: %s", err)
}

func (d *Dispatcher) checkSlot(ctx context.Context) Outcome {
	slot, err := d.tracker.Refresh(ctx)
	if err != nil {
		return Outcome{Message: fmt.Sprintf("Error checking current slot: %s", err), Err: err}
	}
	return Outcome{Message: fmt.Sprintf("The current Solana slot is %d.", slot)}
}

// formatAmount prints a number the shortest way, e.g. 0.5 or 1.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
