package wallet

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by the connection manager, the transfer engine and
// the dispatcher. Only ErrRPCFailure and unclassified errors are retried.
var (
	ErrWalletUnavailable   = errors.New("wallet provider is not installed")
	ErrConnectFailed       = errors.New("failed to connect to wallet")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrInvalidAddress      = errors.New("invalid Solana address")
	ErrInvalidAmount       = errors.New("amount must be a positive number")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferCancelled   = errors.New("transaction cancelled by user")
	ErrConnectionLost      = errors.New("wallet connection lost")
	ErrRPCFailure          = errors.New("solana rpc request failed")
	ErrTransactionFailed   = errors.New("transaction failed on chain")
	ErrBalanceUnavailable  = errors.New("wallet connection required to check balance")
)

var permanentErrors = []error{
	ErrWalletUnavailable,
	ErrConnectFailed,
	ErrNotConnected,
	ErrInvalidAddress,
	ErrInvalidAmount,
	ErrInsufficientBalance,
	ErrTransferCancelled,
	ErrConnectionLost,
	ErrTransactionFailed,
	ErrBalanceUnavailable,
	context.Canceled,
	context.DeadlineExceeded,
}

// IsPermanent reports whether err belongs to a class that fails fast.
// RPC failures and errors outside the taxonomy are transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range permanentErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// CodeUserRejected is the provider code for a request the user declined.
const CodeUserRejected = 4001

// ProviderError is an error reported by the wallet provider itself.
type ProviderError struct {
	Code    int
	Name    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (code %d)", e.Name, e.Message, e.Code)
}

// NewUserRejectedError returns the error a provider reports when the user
// declines a request.
func NewUserRejectedError() *ProviderError {
	return &ProviderError{
		Code:    CodeUserRejected,
		Name:    "UserRejectedRequestError",
		Message: "User rejected the request.",
	}
}

func isRPCFailure(err error) bool {
	return errors.Is(err, ErrRPCFailure)
}

func rpcFailure(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrRPCFailure, op, err)
}
