package chainproc

import (
	"crypto/ed25519"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vane-network/vane-node/internal/txstate"
)

// signOverOwnAddress generates a key and signs the Keccak256 hash of the
// key's own address string, the message both verification roles expect.
func signOverOwnAddress(t *testing.T) ([]byte, string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(addr)), key)
	require.NoError(t, err)
	return sig, addr
}

func TestVerifySignatureReceiverECDSA(t *testing.T) {
	tx := txstate.NewGenesisTx("0xSender", "", txstate.Ethereum, big.NewInt(1))
	sig, addr := signOverOwnAddress(t)
	tx.ReceiverAddress = addr
	tx.RecvSignature = sig

	assert.NoError(t, VerifySignature(tx, RoleReceiver))
}

func TestVerifySignatureReceiverECDSAWrongKeyFails(t *testing.T) {
	// A signature over a different receiver's address recovers to a key
	// that does not own the claimed one.
	tx := txstate.NewGenesisTx("0xSender", "", txstate.Ethereum, big.NewInt(1))
	_, addr := signOverOwnAddress(t)
	otherSig, _ := signOverOwnAddress(t)
	tx.ReceiverAddress = addr
	tx.RecvSignature = otherSig

	assert.Error(t, VerifySignature(tx, RoleReceiver))
}

func TestVerifySignatureSenderECDSA(t *testing.T) {
	sig, addr := signOverOwnAddress(t)
	tx := txstate.NewGenesisTx(addr, "0xReceiver", txstate.Ethereum, big.NewInt(1))
	tx.SignedCallPayload = sig

	assert.NoError(t, VerifySignature(tx, RoleSender))
}

func TestVerifySignatureSenderForeignKeyFails(t *testing.T) {
	// A third party's valid signature recovers to its own address, not the
	// claimed sender's, and must be rejected before broadcast.
	_, senderAddr := signOverOwnAddress(t)
	foreignSig, _ := signOverOwnAddress(t)
	tx := txstate.NewGenesisTx(senderAddr, "0xReceiver", txstate.Ethereum, big.NewInt(1))
	tx.SignedCallPayload = foreignSig

	err := VerifySignature(tx, RoleSender)
	require.Error(t, err)
	assert.True(t, IsUserIntervention(err))
}

func TestVerifySignatureSenderRejectsEmptySignature(t *testing.T) {
	tx := txstate.NewGenesisTx("0xSender", "0xReceiver", txstate.Ethereum, big.NewInt(1))
	err := VerifySignature(tx, RoleSender)
	require.Error(t, err)
	assert.True(t, IsUserIntervention(err))
}

func TestVerifySignatureSolanaEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := txstate.NewGenesisTx("ignored", "ignored", txstate.Solana, big.NewInt(1))
	tx.ReceiverAddress = solana.PublicKeyFromBytes(pub).String()
	tx.RecvSignature = ed25519.Sign(priv, []byte(tx.ReceiverAddress))

	assert.NoError(t, VerifySignature(tx, RoleReceiver))
}

func TestVerifySignaturePolkadotUnsupported(t *testing.T) {
	tx := txstate.NewGenesisTx("ignored", "ignored", txstate.Polkadot, big.NewInt(1))
	tx.ReceiverAddress = "some-substrate-address"
	tx.RecvSignature = []byte("not a real signature but nonzero")

	err := VerifySignature(tx, RoleReceiver)
	require.Error(t, err)
	var ce *ChainError
	require.True(t, asChainError(err, &ce))
	assert.Equal(t, CodeUnsupportedNetwork, ce.Code)
}

func TestValidateMultiIDDetectsMismatch(t *testing.T) {
	tx := txstate.NewGenesisTx("0xSender", "0xReceiver", txstate.Ethereum, big.NewInt(1))
	tx.MultiID[0] ^= 0xFF

	err := ValidateMultiID(tx)
	require.Error(t, err)
	assert.True(t, IsUserIntervention(err))
}

func TestValidateMultiIDAccepts(t *testing.T) {
	tx := txstate.NewGenesisTx("0xSender", "0xReceiver", txstate.Ethereum, big.NewInt(1))
	assert.NoError(t, ValidateMultiID(tx))
}
