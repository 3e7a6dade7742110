package nats

import (
	"time"

	"github.com/brojonat/pathos/service/db"
)

// Wallet event kinds. Each is published to "wallet.{kind}".
const (
	WalletConnected    = "connected"
	WalletDisconnected = "disconnected"
	WalletDesync       = "desync"
	WalletAccountSwap  = "account_changed"
)

// WalletEvent is a change of wallet connection state in a session.
type WalletEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Address   string    `json:"address,omitempty"` // empty once disconnected
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// TransferEvent represents a confirmed transfer published to NATS.
// This is published to the subject "transfer.confirmed.{from_address}".
type TransferEvent struct {
	Signature string `json:"signature"`
	SessionID string `json:"session_id"`
	Network   string `json:"network"`

	FromAddress  string  `json:"from_address"`
	ToAddress    string  `json:"to_address"`
	FeeCollector *string `json:"fee_collector,omitempty"`

	// Amounts in lamports
	TotalLamports     int64   `json:"total_lamports"`
	RecipientLamports int64   `json:"recipient_lamports"`
	FeeLamports       int64   `json:"fee_lamports"`
	FeePercentage     float64 `json:"fee_percentage"`

	ConfirmedAt time.Time `json:"confirmed_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromReceipt converts a stored receipt to a TransferEvent for publishing.
func FromReceipt(r *db.Receipt) *TransferEvent {
	return &TransferEvent{
		Signature:         r.Signature,
		SessionID:         r.SessionID.String(),
		Network:           r.Network,
		FromAddress:       r.FromAddress,
		ToAddress:         r.ToAddress,
		FeeCollector:      r.FeeCollector,
		TotalLamports:     r.TotalLamports,
		RecipientLamports: r.RecipientLamports,
		FeeLamports:       r.FeeLamports,
		FeePercentage:     r.FeePercentage,
		ConfirmedAt:       r.ConfirmedAt,
		PublishedAt:       time.Now().UTC(),
	}
}
