package wallet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	solanasvc "github.com/brojonat/pathos/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transferFixture struct {
	key      solana.PrivateKey
	provider *KeypairProvider
	chain    *fakeChain
	manager  *Manager
	engine   *TransferEngine
	approved int
	declined bool
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	f := &transferFixture{
		key:   solana.NewWallet().PrivateKey,
		chain: newFakeChain(),
	}
	f.provider = NewKeypairProvider(f.key, func(ctx context.Context, tx *solana.Transaction) (bool, error) {
		f.approved++
		return !f.declined, nil
	})
	f.chain.balances[f.key.PublicKey()] = 2 * solana.LAMPORTS_PER_SOL
	f.manager = newTestManager(f.provider, f.chain, nil)
	f.engine = NewTransferEngine(f.manager, f.provider, f.chain, DefaultFeeConfig(), nil, testLogger(), instantRetry())

	_, err := f.manager.Connect(context.Background())
	require.NoError(t, err)
	return f
}

// transferLegs decodes the system transfer instructions of tx into
// destination -> lamports.
func transferLegs(t *testing.T, tx *solana.Transaction) map[solana.PublicKey]uint64 {
	t.Helper()
	legs := make(map[solana.PublicKey]uint64)
	for _, ins := range tx.Message.Instructions {
		program := tx.Message.AccountKeys[ins.ProgramIDIndex]
		require.Equal(t, solana.SystemProgramID, program)
		require.Len(t, ins.Data, 12)
		require.Equal(t, uint32(2), binary.LittleEndian.Uint32(ins.Data[:4]), "system transfer")
		to := tx.Message.AccountKeys[ins.Accounts[1]]
		legs[to] += binary.LittleEndian.Uint64(ins.Data[4:])
	}
	return legs
}

func TestTransfer_Success(t *testing.T) {
	f := newTransferFixture(t)
	recipient := solana.NewWallet().PublicKey()

	result, err := f.engine.Transfer(context.Background(), recipient.String(), 1.0, true)
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.NotEmpty(t, result.Signature)
	assert.Equal(t, uint64(25_000_000), result.Fee.FeeLamports)
	assert.Equal(t, uint64(975_000_000), result.Fee.RecipientLamports)
	assert.InDelta(t, 0.975, result.Fee.RecipientSol(), 1e-12)
	assert.InDelta(t, 0.025, result.Fee.FeeSol(), 1e-12)

	require.Len(t, f.chain.sent, 1)
	tx := f.chain.sent[0]
	assert.Equal(t, f.key.PublicKey(), tx.Message.AccountKeys[0], "connected key pays fees")
	assert.Equal(t, f.chain.blockhash, tx.Message.RecentBlockhash)
	assert.NoError(t, tx.VerifySignatures())
	assert.Equal(t, tx.Signatures[0].String(), result.Signature)

	legs := transferLegs(t, tx)
	assert.Equal(t, uint64(975_000_000), legs[recipient])
	assert.Equal(t, uint64(25_000_000), legs[DefaultFeeConfig().CollectorAddress])

	assert.Equal(t, f.chain.height+ConfirmationWindow, f.chain.lastValid)
}

func TestTransfer_WithoutFee(t *testing.T) {
	f := newTransferFixture(t)
	recipient := solana.NewWallet().PublicKey()

	result, err := f.engine.Transfer(context.Background(), recipient.String(), 0.5, false)
	require.NoError(t, err)
	assert.Equal(t, ZeroFeeQuote(500_000_000), result.Fee)

	legs := transferLegs(t, f.chain.sent[0])
	assert.Len(t, legs, 1)
	assert.Equal(t, uint64(500_000_000), legs[recipient])
}

func TestTransfer_DustSkipsFeeLeg(t *testing.T) {
	f := newTransferFixture(t)
	recipient := solana.NewWallet().PublicKey()

	result, err := f.engine.Transfer(context.Background(), recipient.String(), 0.000000001, true)
	require.NoError(t, err)
	assert.Zero(t, result.Fee.FeeLamports)
	assert.Len(t, f.chain.sent[0].Message.Instructions, 1)
}

func TestTransfer_UserCancellationIsNotRetried(t *testing.T) {
	f := newTransferFixture(t)
	f.declined = true
	before := f.manager.State()

	_, err := f.engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 1.0, true)
	require.ErrorIs(t, err, ErrTransferCancelled)
	assert.True(t, IsUserCancellation(err))
	assert.Equal(t, 1, f.approved, "exactly one signing attempt")
	assert.Zero(t, f.chain.callCount("SendTransaction"))

	after := f.manager.State()
	assert.Equal(t, before.Connected, after.Connected)
	assert.Equal(t, before.PublicKey, after.PublicKey)
}

func TestTransfer_InvalidAddressBeforeAnyNetworkCall(t *testing.T) {
	f := newTransferFixture(t)
	calls := f.chain.totalCalls()

	_, err := f.engine.Transfer(context.Background(), "not-an-address", 1.0, true)
	require.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, calls, f.chain.totalCalls())
	assert.Zero(t, f.approved)
}

func TestTransfer_InvalidAmount(t *testing.T) {
	f := newTransferFixture(t)
	recipient := solana.NewWallet().PublicKey().String()

	for _, amount := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := f.engine.Transfer(context.Background(), recipient, amount, true)
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount=%v", amount)
	}
	assert.Zero(t, f.chain.totalCalls())
}

func TestTransfer_NotConnected(t *testing.T) {
	p := newScriptedProvider()
	p.connectErr = errors.New("wallet locked")
	chain := newFakeChain()
	m := newTestManager(p, chain, nil)
	engine := NewTransferEngine(m, p, chain, DefaultFeeConfig(), nil, testLogger(), instantRetry())

	_, err := engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 1.0, true)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, chain.totalCalls())
}

func TestTransfer_ReconnectsOnce(t *testing.T) {
	f := newTransferFixture(t)
	require.NoError(t, f.provider.Disconnect(context.Background()))

	_, err := f.engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 0.1, true)
	require.NoError(t, err)
	assert.True(t, f.provider.IsConnected())
}

func TestTransfer_RetriesRPCFailures(t *testing.T) {
	f := newTransferFixture(t)
	f.chain.sendErrs = []error{errors.New("blockhash not found"), errors.New("node is behind")}

	result, err := f.engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 1.0, true)
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.Equal(t, 3, f.chain.callCount("SendTransaction"))
	assert.Equal(t, 3, f.chain.callCount("GetLatestBlockhash"), "each attempt uses a fresh blockhash")
}

func TestTransfer_ExhaustsRetryBudget(t *testing.T) {
	f := newTransferFixture(t)
	f.chain.confirmErrs = []error{
		errors.New("block height exceeded"),
		errors.New("block height exceeded"),
		errors.New("block height exceeded"),
	}

	_, err := f.engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 1.0, true)
	require.ErrorIs(t, err, ErrRPCFailure)
	assert.Equal(t, 3, f.chain.callCount("ConfirmTransaction"))
}

func TestTransfer_OnChainFailureIsNotRetried(t *testing.T) {
	f := newTransferFixture(t)
	f.chain.confirmErrs = []error{
		fmt.Errorf("%w: 5sig: InstructionError[0, InsufficientFunds]", solanasvc.ErrTransactionFailed),
	}

	_, err := f.engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 1.0, true)
	require.ErrorIs(t, err, ErrTransactionFailed)
	assert.NotErrorIs(t, err, ErrRPCFailure)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, f.approved, "the user is asked to sign once")
	assert.Equal(t, 1, f.chain.callCount("SendTransaction"))
	assert.Equal(t, 1, f.chain.callCount("ConfirmTransaction"))
	assert.True(t, f.manager.State().Connected)
}

func TestTransfer_ConnectionLostForcesDisconnected(t *testing.T) {
	f := newTransferFixture(t)
	f.chain.sendErrs = []error{errors.New("Wallet disconnected during request")}

	_, err := f.engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 1.0, true)
	require.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, 1, f.chain.callCount("SendTransaction"), "connection loss is not retried")

	st := f.manager.State()
	assert.False(t, st.Connected)
	assert.Nil(t, st.PublicKey)
}

func TestTransfer_SigningWithDroppedWallet(t *testing.T) {
	p := newScriptedProvider()
	p.connected = true
	p.signErr = &ProviderError{Code: 4900, Message: "wallet disconnected"}
	chain := newFakeChain()
	m := newTestManager(p, chain, nil)
	engine := NewTransferEngine(m, p, chain, DefaultFeeConfig(), nil, testLogger(), instantRetry())
	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	_, err = engine.Transfer(context.Background(), solana.NewWallet().PublicKey().String(), 1.0, true)
	require.ErrorIs(t, err, ErrConnectionLost)
	assert.False(t, m.State().Connected)
	assert.Zero(t, chain.callCount("SendTransaction"))
}

func TestTransferStatus(t *testing.T) {
	assert.Equal(t, "confirmed", transferStatus(nil))
	assert.Equal(t, "cancelled", transferStatus(ErrTransferCancelled))
	assert.Equal(t, "connection_lost", transferStatus(ErrConnectionLost))
	assert.Equal(t, "failed", transferStatus(ErrTransactionFailed))
	assert.Equal(t, "rpc_failure", transferStatus(rpcFailure("x", errors.New("y"))))
	assert.Equal(t, "rejected", transferStatus(ErrInvalidAddress))
	assert.Equal(t, "error", transferStatus(errors.New("other")))
}
