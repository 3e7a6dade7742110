package wallet

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Chain is the subset of Solana RPC the wallet needs.
type Chain interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// ConfirmTransaction waits until sig reaches the configured commitment
	// or the chain passes lastValidBlockHeight.
	ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error
}
