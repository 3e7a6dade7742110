package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/pathos/service/db"
	natspkg "github.com/brojonat/pathos/service/nats"
	"github.com/brojonat/pathos/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	receipts   []db.CreateReceiptParams
	messages   []db.CreateMessageParams
	receiptErr error
	messageErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) CreateReceipt(ctx context.Context, params db.CreateReceiptParams) (*db.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiptErr != nil {
		return nil, s.receiptErr
	}
	s.receipts = append(s.receipts, params)
	r := receiptFromParams(params)
	r.ConfirmedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return r, nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, params db.CreateMessageParams) (*db.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageErr != nil {
		return nil, s.messageErr
	}
	s.messages = append(s.messages, params)
	return &db.Message{
		ID:        params.ID,
		SessionID: params.SessionID,
		Role:      params.Role,
		Content:   params.Content,
		Action:    params.Action,
		CreatedAt: params.CreatedAt,
	}, nil
}

func (s *fakeStore) receiptParams() []db.CreateReceiptParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.CreateReceiptParams(nil), s.receipts...)
}

func (s *fakeStore) messageParams() []db.CreateMessageParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.CreateMessageParams(nil), s.messages...)
}

func testTransferResult(t *testing.T, quote wallet.FeeQuote) *wallet.TransferResult {
	t.Helper()
	return &wallet.TransferResult{
		Signature: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		Confirmed: true,
		Fee:       quote,
		From:      solanago.MustPublicKeyFromBase58(randomAddress(t)),
		To:        solanago.MustPublicKeyFromBase58(randomAddress(t)),
	}
}

func TestRecorder_Transfer(t *testing.T) {
	store := newFakeStore()
	publisher := natspkg.NewMockPublisher()
	r := NewRecorder(store, publisher, "devnet", testLogger())
	sessionID := uuid.New()
	result := testTransferResult(t, wallet.QuoteLamports(solanago.LAMPORTS_PER_SOL, wallet.DefaultFeeConfig()))

	r.Transfer(context.Background(), sessionID, result, wallet.DefaultFeeConfig())

	receipts := store.receiptParams()
	require.Len(t, receipts, 1)
	p := receipts[0]
	assert.Equal(t, result.Signature, p.Signature)
	assert.Equal(t, sessionID, p.SessionID)
	assert.Equal(t, result.From.String(), p.FromAddress)
	assert.Equal(t, result.To.String(), p.ToAddress)
	assert.Equal(t, int64(1_000_000_000), p.TotalLamports)
	assert.Equal(t, int64(975_000_000), p.RecipientLamports)
	assert.Equal(t, int64(25_000_000), p.FeeLamports)
	assert.Equal(t, 2.5, p.FeePercentage)
	assert.Equal(t, "devnet", p.Network)
	require.NotNil(t, p.FeeCollector)
	assert.Equal(t, wallet.DefaultFeeCollector, *p.FeeCollector)

	events := publisher.GetTransferEvents()
	require.Len(t, events, 1)
	assert.Equal(t, result.Signature, events[0].Signature)
	assert.Equal(t, sessionID.String(), events[0].SessionID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), events[0].ConfirmedAt, "event should carry the stored receipt")
}

func TestRecorder_TransferWithoutFee(t *testing.T) {
	store := newFakeStore()
	r := NewRecorder(store, nil, "devnet", testLogger())

	r.Transfer(context.Background(), uuid.New(), testTransferResult(t, wallet.ZeroFeeQuote(500)), wallet.DefaultFeeConfig())

	receipts := store.receiptParams()
	require.Len(t, receipts, 1)
	assert.Nil(t, receipts[0].FeeCollector)
	assert.Zero(t, receipts[0].FeeLamports)
}

func TestRecorder_TransferPublishesWhenStoreFails(t *testing.T) {
	store := newFakeStore()
	store.receiptErr = errors.New("duplicate key")
	publisher := natspkg.NewMockPublisher()
	r := NewRecorder(store, publisher, "devnet", testLogger())
	result := testTransferResult(t, wallet.ZeroFeeQuote(500))

	r.Transfer(context.Background(), uuid.New(), result, wallet.DefaultFeeConfig())

	events := publisher.GetTransferEvents()
	require.Len(t, events, 1)
	assert.Equal(t, result.Signature, events[0].Signature)
}

func TestRecorder_Message(t *testing.T) {
	store := newFakeStore()
	r := NewRecorder(store, nil, "devnet", testLogger())
	sessionID := uuid.New()
	tr := NewTranscript()

	r.Message(context.Background(), sessionID, tr.Append(RoleUser, "hi", ""))
	r.Message(context.Background(), sessionID, tr.Append(RoleAssistant, "checking", "check_slot"))

	msgs := store.messageParams()
	require.Len(t, msgs, 2)
	assert.Nil(t, msgs[0].Action)
	require.NotNil(t, msgs[1].Action)
	assert.Equal(t, "check_slot", *msgs[1].Action)
	assert.Equal(t, sessionID, msgs[1].SessionID)
	assert.Equal(t, tr.Entries()[1].ID, msgs[1].ID)
}

func TestRecorder_WalletEvent(t *testing.T) {
	publisher := natspkg.NewMockPublisher()
	r := NewRecorder(nil, publisher, "devnet", testLogger())
	sessionID := uuid.New()

	r.WalletEvent(context.Background(), sessionID, natspkg.WalletDisconnected, "", "Wallet disconnected successfully.")

	events := publisher.GetWalletEvents()
	require.Len(t, events, 1)
	assert.Equal(t, natspkg.WalletDisconnected, events[0].Kind)
	assert.Equal(t, sessionID.String(), events[0].SessionID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestRecorder_PublishErrorIsSwallowed(t *testing.T) {
	publisher := natspkg.NewMockPublisher()
	publisher.SetPublishError(errors.New("nats down"))
	r := NewRecorder(nil, publisher, "devnet", testLogger())

	assert.NotPanics(t, func() {
		r.WalletEvent(context.Background(), uuid.New(), natspkg.WalletConnected, "addr", "connected")
		r.Transfer(context.Background(), uuid.New(), testTransferResult(t, wallet.ZeroFeeQuote(1)), wallet.DefaultFeeConfig())
	})
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Message(context.Background(), uuid.New(), Entry{Role: RoleUser, Content: "hi"})
		r.Transfer(context.Background(), uuid.New(), &wallet.TransferResult{}, wallet.DefaultFeeConfig())
		r.WalletEvent(context.Background(), uuid.New(), natspkg.WalletConnected, "", "")
	})
}
