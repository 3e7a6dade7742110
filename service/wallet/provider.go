package wallet

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// EventKind names a provider lifecycle notification.
type EventKind string

const (
	EventConnect        EventKind = "connect"
	EventDisconnect     EventKind = "disconnect"
	EventAccountChanged EventKind = "accountChanged"
)

// EventHandler receives the provider's public key at the time of the event.
// The key is nil for disconnects and for account changes to no account.
type EventHandler func(publicKey *solana.PublicKey)

// Provider is the wallet capability surface the agent consumes.
type Provider interface {
	// IsWallet reports whether the provider advertises the expected wallet.
	IsWallet() bool
	IsConnected() bool
	// PublicKey is the key the provider currently holds, possibly while
	// not connected.
	PublicKey() *solana.PublicKey
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	// Subscribe registers handler for kind and returns its disposer.
	Subscribe(kind EventKind, handler EventHandler) (unsubscribe func())
}
