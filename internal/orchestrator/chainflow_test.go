package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vane-network/vane-node/internal/chainproc"
	"github.com/vane-network/vane-node/internal/directory"
	"github.com/vane-network/vane-node/internal/p2pnet"
	"github.com/vane-network/vane-node/internal/txstate"
)

// fakeChain is a chainproc.ChainClient double recording what reached
// SendTransaction.
type fakeChain struct {
	mu      sync.Mutex
	sentTx  *types.Transaction
	sendErr error
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 1, nil
}
func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}
func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTx = tx
	return nil
}

func (f *fakeChain) sent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentTx
}

func newChainTestOrchestrator(chain *fakeChain, db historyRecorder) (*Orchestrator, chan *txstate.TxStateMachine, chan *txstate.TxStateMachine) {
	rpcIn := make(chan *txstate.TxStateMachine, 10)
	rpcOut := make(chan *txstate.TxStateMachine, 10)
	clients := map[txstate.ChainSupported]chainproc.ChainClient{
		txstate.Ethereum: chain,
	}
	o := New(&fakeResolver{}, &fakeSwarm{}, db, clients, chainproc.DefaultBnbChainID, rpcIn, rpcOut, make(chan p2pnet.Event))
	return o, rpcIn, rpcOut
}

// senderTxWithKey builds a SenderConfirmed transaction whose sender address
// belongs to a freshly generated key, returned alongside it.
func senderTxWithKey(t *testing.T) (*txstate.TxStateMachine, []byte) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sender := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	tx := txstate.NewGenesisTx(sender, "0x0000000000000000000000000000000000000002", txstate.Ethereum, big.NewInt(1000))
	tx.Status = txstate.SenderConfirmed

	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(sender)), key)
	require.NoError(t, err)
	return tx, sig
}

func TestSenderConfirmedBranchBConstructsPayload(t *testing.T) {
	chain := &fakeChain{}
	o, rpcIn, rpcOut := newChainTestOrchestrator(chain, &fakeHistory{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer close(rpcIn)

	tx, _ := senderTxWithKey(t)
	rpcIn <- tx

	got := waitTx(t, rpcOut)
	assert.Equal(t, txstate.SenderConfirmed, got.Status)
	assert.NotEmpty(t, got.CallPayload, "branch B must fill the unsigned call payload for the signing agent")
	assert.Nil(t, chain.sent(), "construction must not broadcast")
}

func TestSenderConfirmedBranchBMultiIDMismatchFails(t *testing.T) {
	chain := &fakeChain{}
	history := &fakeHistory{}
	o, rpcIn, rpcOut := newChainTestOrchestrator(chain, history)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer close(rpcIn)

	tx, _ := senderTxWithKey(t)
	// An intermediary rewrote the receiver but cannot recompute multi_id.
	tx.ReceiverAddress = "0x0000000000000000000000000000000000000bad"
	rpcIn <- tx

	got := waitTx(t, rpcOut)
	assert.Equal(t, txstate.SenderConfirmationFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)

	history.mu.Lock()
	assert.Equal(t, 1, history.failures)
	history.mu.Unlock()
	assert.Nil(t, chain.sent())
}

func TestSenderConfirmedBranchABroadcastsAndRecordsSuccess(t *testing.T) {
	chain := &fakeChain{}
	history := &fakeHistory{}
	o, rpcIn, rpcOut := newChainTestOrchestrator(chain, history)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer close(rpcIn)

	// First pass: branch B fills the unsigned payload.
	tx, ownerSig := senderTxWithKey(t)
	rpcIn <- tx
	constructed := waitTx(t, rpcOut)
	require.NotEmpty(t, constructed.CallPayload)

	// Second pass: the signing agent supplied the sender's signature.
	constructed.SignedCallPayload = ownerSig
	rpcIn <- constructed

	got := waitTx(t, rpcOut)
	assert.Equal(t, txstate.TxSubmissionPassed, got.Status)
	assert.Len(t, got.TxHash, 32)
	assert.NotNil(t, chain.sent())

	history.mu.Lock()
	assert.Equal(t, 1, history.success)
	history.mu.Unlock()
}

func TestSenderConfirmedBranchARejectsForeignSigner(t *testing.T) {
	chain := &fakeChain{}
	history := &fakeHistory{}
	o, rpcIn, rpcOut := newChainTestOrchestrator(chain, history)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer close(rpcIn)

	// A third party's valid signature recovers to its own key, not the
	// claimed sender.
	tx, _ := senderTxWithKey(t)
	_, foreignSig := senderTxWithKey(t)
	tx.CallPayload = []byte{0x04, 0x01}
	tx.SignedCallPayload = foreignSig
	rpcIn <- tx

	got := waitTx(t, rpcOut)
	assert.Equal(t, txstate.SenderConfirmationFailed, got.Status)
	assert.Nil(t, chain.sent(), "a foreign signature must never reach broadcast")

	history.mu.Lock()
	assert.Equal(t, 1, history.failures)
	history.mu.Unlock()
}

func TestSenderConfirmedBranchABroadcastFailureIsUserRetryable(t *testing.T) {
	chain := &fakeChain{sendErr: errors.New("insufficient funds for gas * price + value")}
	history := &fakeHistory{}
	o, rpcIn, rpcOut := newChainTestOrchestrator(chain, history)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer close(rpcIn)

	tx, ownerSig := senderTxWithKey(t)
	rpcIn <- tx
	constructed := waitTx(t, rpcOut)
	require.NotEmpty(t, constructed.CallPayload)

	constructed.SignedCallPayload = ownerSig
	rpcIn <- constructed

	got := waitTx(t, rpcOut)
	assert.Equal(t, txstate.TxSubmissionFailed, got.Status)
	assert.Contains(t, got.FailureReason, "insufficient funds")
	assert.Contains(t, got.FailureReason, "user-initiated",
		"the failure message must tell the user resubmission is theirs to trigger")

	history.mu.Lock()
	assert.Equal(t, 1, history.failures)
	history.mu.Unlock()
}

func TestRPCUpdatesEmitInFIFOOrder(t *testing.T) {
	// Every update below takes the peer-not-found path, so each produces
	// exactly one emission and the channel ordering is directly observable.
	o, rpcIn, rpcOut, _ := newTestOrchestrator(&fakeResolver{err: directory.ErrPeerNotFound}, &fakeSwarm{}, &fakeHistory{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer close(rpcIn)

	senders := []string{"0xAlpha", "0xBravo", "0xCharlie", "0xDelta"}
	for _, s := range senders {
		rpcIn <- txstate.NewGenesisTx(s, "0xReceiver", txstate.Ethereum, big.NewInt(1))
	}

	for _, want := range senders {
		select {
		case got := <-rpcOut:
			assert.Equal(t, want, got.SenderAddress)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emission for %s", want)
		}
	}
}

