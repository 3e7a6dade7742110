package agent

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brojonat/pathos/client"
	"github.com/brojonat/pathos/service/intent"
	natspkg "github.com/brojonat/pathos/service/nats"
	"github.com/brojonat/pathos/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay returns queued replies in order and records every request.
type fakeRelay struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]client.Message
	systems []string
}

func (r *fakeRelay) Complete(ctx context.Context, messages []client.Message, system string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, messages)
	r.systems = append(r.systems, system)
	if r.err != nil {
		return "", r.err
	}
	if len(r.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	reply := r.replies[0]
	r.replies = r.replies[1:]
	return reply, nil
}

func newTestSession(t *testing.T, env *testEnv, relay Relay, recorder *Recorder) (*Session, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	s := NewSession(SessionConfig{
		Manager:   env.manager,
		Transfers: env.transfers,
		Chain:     env.chain,
		Relay:     relay,
		Recorder:  recorder,
		Out:       out,
		Logger:    testLogger(),
	})
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, out
}

func roles(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Role
	}
	return out
}

func TestSession_StartGreets(t *testing.T) {
	env := newTestEnv(t, nil)
	s, out := newTestSession(t, env, &fakeRelay{}, nil)

	require.NoError(t, s.Start(context.Background()))

	entries := s.Transcript().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, RoleAssistant, entries[0].Role)
	assert.Equal(t, greetingMessage, entries[0].Content)
	assert.Contains(t, out.String(), "pathos> Hello! I'm Pathos")
	assert.False(t, env.manager.State().Connected)
}

func TestSession_StartWithoutWallet(t *testing.T) {
	chain := newFakeChain()
	manager := wallet.NewManager(nil, chain, nil, nil, testLogger(), instantRetry())
	env := &testEnv{
		chain:     chain,
		manager:   manager,
		transfers: wallet.NewTransferEngine(manager, nil, chain, wallet.DefaultFeeConfig(), nil, testLogger(), instantRetry()),
	}
	s, _ := newTestSession(t, env, &fakeRelay{}, nil)

	require.NoError(t, s.Start(context.Background()))

	entries := s.Transcript().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, notInstalledMessage, entries[1].Content)
}

func TestSession_StartAdoptsConnectedWallet(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chain.setBalance(env.key.PublicKey(), solanago.LAMPORTS_PER_SOL)
	require.NoError(t, env.provider.Connect(context.Background()))

	publisher := natspkg.NewMockPublisher()
	s, _ := newTestSession(t, env, &fakeRelay{}, NewRecorder(nil, publisher, "devnet", testLogger()))

	require.NoError(t, s.Start(context.Background()))

	entries := s.Transcript().Entries()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[1].Content, "Wallet connected successfully!")
	assert.True(t, env.manager.State().Connected)
	assert.Equal(t, 1, env.provider.SubscriberCount(wallet.EventConnect))

	events := publisher.GetWalletEvents()
	require.Len(t, events, 1)
	assert.Equal(t, natspkg.WalletConnected, events[0].Kind)
	assert.Equal(t, env.key.PublicKey().String(), events[0].Address)
	assert.Equal(t, s.ID().String(), events[0].SessionID)
}

func TestSession_TurnDispatchesAction(t *testing.T) {
	env := newTestEnv(t, nil)
	env.connect(t, 2*solanago.LAMPORTS_PER_SOL)
	relay := &fakeRelay{replies: []string{"Let me check that for you. <check_balance:>"}}
	s, out := newTestSession(t, env, relay, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Turn(context.Background(), "  what's my balance?  "))

	entries := s.Transcript().Entries()
	assert.Equal(t, []string{RoleAssistant, RoleUser, RoleAssistant, RoleAssistant}, roles(entries))
	assert.Equal(t, "what's my balance?", entries[1].Content)
	assert.Equal(t, "Let me check that for you.", entries[2].Content)
	assert.Equal(t, intent.NameCheckBalance, entries[2].Action)
	assert.Equal(t, "Your wallet balance is 2.000000 SOL.", entries[3].Content)

	require.Len(t, relay.calls, 1)
	assert.Equal(t, []client.Message{{Role: client.RoleUser, Content: "what's my balance?"}}, relay.calls[0])
	assert.Contains(t, relay.systems[0], "Wallet connected: Yes")
	assert.NotContains(t, out.String(), "<check_balance")
}

func TestSession_TurnSendsHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	relay := &fakeRelay{replies: []string{"Hi there!", "Sure."}}
	s, _ := newTestSession(t, env, relay, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Turn(context.Background(), "hello"))
	require.NoError(t, s.Turn(context.Background(), "thanks"))

	require.Len(t, relay.calls, 2)
	assert.Equal(t, []client.Message{
		{Role: client.RoleUser, Content: "hello"},
		{Role: client.RoleAssistant, Content: "Hi there!"},
		{Role: client.RoleUser, Content: "thanks"},
	}, relay.calls[1])
}

func TestSession_TurnSuppressesRedundantAction(t *testing.T) {
	env := newTestEnv(t, nil)
	relay := &fakeRelay{replies: []string{"The current slot is 123. <check_slot>"}}
	s, _ := newTestSession(t, env, relay, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Turn(context.Background(), "what slot is it?"))

	entries := s.Transcript().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "The current slot is 123.", entries[2].Content)
	assert.Empty(t, entries[2].Action)
	assert.Equal(t, ChainChecking, s.Chain().Snapshot().Connection, "slot should not be fetched")
}

func TestSession_TurnActionOnlyReply(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chain.slot = 42
	relay := &fakeRelay{replies: []string{"<check_slot>"}}
	s, _ := newTestSession(t, env, relay, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Turn(context.Background(), "slot?"))

	entries := s.Transcript().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "The current Solana slot is 42.", entries[2].Content)
}

func TestSession_TurnRelayError(t *testing.T) {
	env := newTestEnv(t, nil)
	relay := &fakeRelay{err: &client.RelayError{StatusCode: 502, Body: "bad gateway"}}
	s, out := newTestSession(t, env, relay, nil)
	require.NoError(t, s.Start(context.Background()))

	err := s.Turn(context.Background(), "hello")

	var relayErr *client.RelayError
	require.ErrorAs(t, err, &relayErr)
	entries := s.Transcript().Entries()
	assert.Equal(t, relayAPIMessage, entries[len(entries)-1].Content)
	assert.Contains(t, out.String(), relayAPIMessage)
}

func TestSession_TurnIgnoresBlankInput(t *testing.T) {
	env := newTestEnv(t, nil)
	relay := &fakeRelay{}
	s, _ := newTestSession(t, env, relay, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Turn(context.Background(), "   "))

	assert.Empty(t, relay.calls)
	assert.Equal(t, 1, s.Transcript().Len())
}

func TestSession_TurnTransferRecordsReceipt(t *testing.T) {
	env := newTestEnv(t, nil)
	env.connect(t, 10*solanago.LAMPORTS_PER_SOL)
	recipient := randomAddress(t)
	relay := &fakeRelay{replies: []string{"Sending now. <transfer_sol:" + recipient + ",1>"}}
	store := newFakeStore()
	publisher := natspkg.NewMockPublisher()
	s, _ := newTestSession(t, env, relay, NewRecorder(store, publisher, "devnet", testLogger()))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Turn(context.Background(), "send 1 SOL to "+recipient))

	entries := s.Transcript().Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, "Sending now.", entries[2].Content)
	assert.Contains(t, entries[3].Content, "Preparing to send 1 SOL to")
	assert.Contains(t, entries[4].Content, "Transaction successful!")

	receipts := store.receiptParams()
	require.Len(t, receipts, 1)
	assert.Equal(t, s.ID(), receipts[0].SessionID)
	assert.Equal(t, recipient, receipts[0].ToAddress)
	assert.Equal(t, int64(975_000_000), receipts[0].RecipientLamports)
	require.NotNil(t, receipts[0].FeeCollector)
	assert.Equal(t, wallet.DefaultFeeCollector, *receipts[0].FeeCollector)

	require.Len(t, publisher.GetTransferEvents(), 1)
	assert.Len(t, store.messageParams(), len(entries))
}

func TestSession_Notify(t *testing.T) {
	env := newTestEnv(t, nil)
	publisher := natspkg.NewMockPublisher()
	s, out := newTestSession(t, env, &fakeRelay{}, NewRecorder(nil, publisher, "devnet", testLogger()))
	pk := env.key.PublicKey()

	s.Notify(context.Background(), wallet.Notification{
		Kind:      wallet.NotificationDesync,
		PublicKey: &pk,
		Message:   "Your wallet was disconnected. Please reconnect to continue.",
	})

	entries := s.Transcript().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, RoleSystem, entries[0].Role)
	assert.Contains(t, out.String(), "* Your wallet was disconnected.")

	events := publisher.GetWalletEvents()
	require.Len(t, events, 1)
	assert.Equal(t, natspkg.WalletDesync, events[0].Kind)
	assert.Equal(t, pk.String(), events[0].Address)
}

func TestSession_CloseDisconnectsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.provider.Connect(context.Background()))
	s, _ := newTestSession(t, env, &fakeRelay{}, nil)
	require.NoError(t, s.Start(context.Background()))
	require.True(t, env.manager.State().Connected)

	s.Close(context.Background())
	s.Close(context.Background())

	assert.False(t, env.provider.IsConnected())
	assert.False(t, env.manager.State().Connected)
	assert.Zero(t, env.provider.SubscriberCount(wallet.EventConnect))
	assert.Zero(t, env.provider.SubscriberCount(wallet.EventDisconnect))
}
