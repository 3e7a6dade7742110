package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/pathos/service/db"
	natspkg "github.com/brojonat/pathos/service/nats"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/google/uuid"
)

// Store is the persistence the recorder writes to.
type Store interface {
	CreateReceipt(ctx context.Context, params db.CreateReceiptParams) (*db.Receipt, error)
	CreateMessage(ctx context.Context, params db.CreateMessageParams) (*db.Message, error)
}

// Recorder persists transcript lines and receipts and publishes wallet
// events. Both the store and the publisher are optional. Failures are
// logged and never surface to the conversation.
type Recorder struct {
	store     Store
	publisher natspkg.Publisher
	network   string
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. store and publisher may be nil.
func NewRecorder(store Store, publisher natspkg.Publisher, network string, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		network:   network,
		logger:    logger,
	}
}

// Message stores one transcript entry.
func (r *Recorder) Message(ctx context.Context, sessionID uuid.UUID, e Entry) {
	if r == nil || r.store == nil {
		return
	}
	var action *string
	if e.Action != "" {
		action = &e.Action
	}
	_, err := r.store.CreateMessage(ctx, db.CreateMessageParams{
		ID:        e.ID,
		SessionID: sessionID,
		Role:      e.Role,
		Content:   e.Content,
		Action:    action,
		CreatedAt: e.At,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to store transcript message", "session_id", sessionID, "error", err)
	}
}

// Transfer stores and publishes a confirmed transfer.
func (r *Recorder) Transfer(ctx context.Context, sessionID uuid.UUID, result *wallet.TransferResult, fees wallet.FeeConfig) {
	if r == nil || result == nil {
		return
	}

	params := db.CreateReceiptParams{
		Signature:         result.Signature,
		SessionID:         sessionID,
		FromAddress:       result.From.String(),
		ToAddress:         result.To.String(),
		TotalLamports:     int64(result.Fee.TotalLamports),
		RecipientLamports: int64(result.Fee.RecipientLamports),
		FeeLamports:       int64(result.Fee.FeeLamports),
		FeePercentage:     result.Fee.Percentage,
		Network:           r.network,
	}
	if result.Fee.FeeLamports > 0 {
		collector := fees.CollectorAddress.String()
		params.FeeCollector = &collector
	}

	receipt := receiptFromParams(params)
	if r.store != nil {
		stored, err := r.store.CreateReceipt(ctx, params)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to store transfer receipt",
				"signature", result.Signature,
				"error", err,
			)
		} else {
			receipt = stored
		}
	}

	if r.publisher != nil {
		if err := r.publisher.PublishTransfer(ctx, natspkg.FromReceipt(receipt)); err != nil {
			r.logger.ErrorContext(ctx, "failed to publish transfer event",
				"signature", result.Signature,
				"error", err,
			)
		}
	}
}

// WalletEvent publishes a change of wallet connection state.
func (r *Recorder) WalletEvent(ctx context.Context, sessionID uuid.UUID, kind, address, message string) {
	if r == nil || r.publisher == nil {
		return
	}
	event := &natspkg.WalletEvent{
		Kind:        kind,
		SessionID:   sessionID.String(),
		Address:     address,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		PublishedAt: time.Now().UTC(),
	}
	if err := r.publisher.PublishWalletEvent(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish wallet event", "kind", kind, "error", err)
	}
}

func receiptFromParams(p db.CreateReceiptParams) *db.Receipt {
	return &db.Receipt{
		Signature:         p.Signature,
		SessionID:         p.SessionID,
		FromAddress:       p.FromAddress,
		ToAddress:         p.ToAddress,
		FeeCollector:      p.FeeCollector,
		TotalLamports:     p.TotalLamports,
		RecipientLamports: p.RecipientLamports,
		FeeLamports:       p.FeeLamports,
		FeePercentage:     p.FeePercentage,
		Network:           p.Network,
		ConfirmedAt:       time.Now().UTC(),
	}
}
