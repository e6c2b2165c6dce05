package chainproc

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vane-network/vane-node/internal/txstate"
)

// fakeChainClient is a minimal ChainClient double for chainproc tests;
// SendTransaction records whatever it is given for inspection.
type fakeChainClient struct {
	nonce     uint64
	tipCap    *big.Int
	feeCap    *big.Int
	gas       uint64
	sendErr   error
	sentTx    *types.Transaction
	nonceErr  error
	estimErr  error
}

func (f *fakeChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, f.nonceErr
}
func (f *fakeChainClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return f.tipCap, nil }
func (f *fakeChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error)  { return f.feeCap, nil }
func (f *fakeChainClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.gas, f.estimErr
}
func (f *fakeChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sentTx = tx
	return f.sendErr
}

func newFakeClient() *fakeChainClient {
	return &fakeChainClient{
		nonce:  3,
		tipCap: big.NewInt(1_000_000_000),
		feeCap: big.NewInt(2_000_000_000),
		gas:    21000,
	}
}

func TestConstructBuildsEthereumCallPayload(t *testing.T) {
	tx := txstate.NewGenesisTx(
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		txstate.Ethereum, big.NewInt(42),
	)
	client := newFakeClient()

	require.NoError(t, Construct(context.Background(), client, tx, DefaultBnbChainID))
	assert.NotEmpty(t, tx.CallPayload)

	decoded := new(types.Transaction)
	require.NoError(t, decoded.UnmarshalBinary(tx.CallPayload))
	assert.Equal(t, types.SetCodeTxType, int(decoded.Type()))
}

func TestConstructRejectsInvalidSenderAddress(t *testing.T) {
	tx := txstate.NewGenesisTx("not-an-address", "0x0000000000000000000000000000000000000002", txstate.Ethereum, big.NewInt(1))
	err := Construct(context.Background(), newFakeClient(), tx, DefaultBnbChainID)
	require.Error(t, err)
	assert.True(t, IsUserIntervention(err) || !IsRetryable(err))
}

func TestConstructRejectsSolana(t *testing.T) {
	tx := txstate.NewGenesisTx("ignored", "ignored", txstate.Solana, big.NewInt(1))
	err := Construct(context.Background(), newFakeClient(), tx, DefaultBnbChainID)
	require.Error(t, err)
	var ce *ChainError
	require.True(t, asChainError(err, &ce))
	assert.Equal(t, CodeUnsupportedNetwork, ce.Code)
}

func TestBroadcastRejectsMissingSignature(t *testing.T) {
	tx := txstate.NewGenesisTx("0x0000000000000000000000000000000000000001", "0x0000000000000000000000000000000000000002", txstate.Ethereum, big.NewInt(1))
	tx.CallPayload = []byte{0x01}

	_, err := Broadcast(context.Background(), newFakeClient(), tx)
	require.Error(t, err)
	assert.True(t, IsUserIntervention(err))
}

func TestBroadcastRejectsMissingCallPayload(t *testing.T) {
	tx := txstate.NewGenesisTx("0x0000000000000000000000000000000000000001", "0x0000000000000000000000000000000000000002", txstate.Ethereum, big.NewInt(1))
	tx.SignedCallPayload = make([]byte, 65)

	_, err := Broadcast(context.Background(), newFakeClient(), tx)
	require.Error(t, err)
	assert.False(t, IsUserIntervention(err))
}

func TestBroadcastSubmitsSignedTransaction(t *testing.T) {
	tx := txstate.NewGenesisTx(
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		txstate.Ethereum, big.NewInt(7),
	)
	client := newFakeClient()
	require.NoError(t, Construct(context.Background(), client, tx, DefaultBnbChainID))

	unsigned := new(types.Transaction)
	require.NoError(t, unsigned.UnmarshalBinary(tx.CallPayload))

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(unsigned.ChainId())
	sigHash := signer.Hash(unsigned)
	sig, err := ethcrypto.Sign(sigHash[:], key)
	require.NoError(t, err)
	tx.SignedCallPayload = sig

	hash, err := Broadcast(context.Background(), client, tx)
	require.NoError(t, err)
	assert.Len(t, hash, 32)
	assert.NotNil(t, client.sentTx)
}
