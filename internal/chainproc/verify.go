package chainproc

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"

	"github.com/vane-network/vane-node/internal/txstate"
)

// Role distinguishes which address a signature is expected to authenticate.
type Role uint8

const (
	// RoleReceiver verifies RecvSignature over ReceiverAddress.
	RoleReceiver Role = iota
	// RoleSender verifies SignedCallPayload over SenderAddress.
	RoleSender
)

// VerifySignature checks that the signature carried on tx for the given
// role was produced by the key owning the corresponding address. In both
// roles the message is the address itself: the signature proves ownership
// of the account, not integrity of the payload. Polkadot is declared in
// txstate.ChainSupported but has no signature scheme wired here.
func VerifySignature(tx *txstate.TxStateMachine, role Role) error {
	var signature, message []byte
	var address string

	switch role {
	case RoleReceiver:
		signature = tx.RecvSignature
		message = []byte(tx.ReceiverAddress)
		address = tx.ReceiverAddress
	case RoleSender:
		signature = tx.SignedCallPayload
		message = []byte(tx.SenderAddress)
		address = tx.SenderAddress
	default:
		return NewNonRetryableError(CodeInvariantViolation, fmt.Sprintf("unknown verification role %d", role), nil)
	}

	if len(signature) == 0 {
		return NewUserInterventionError(CodeSignatureInvalid, "signature is empty", nil)
	}

	switch tx.Network {
	case txstate.Ethereum, txstate.Bnb:
		return verifyECDSA(signature, message, address)
	case txstate.Solana:
		return verifyEd25519(signature, message, address)
	case txstate.Polkadot:
		return NewNonRetryableError(CodeUnsupportedNetwork, "Polkadot signature verification is not implemented", nil)
	default:
		return NewNonRetryableError(CodeUnsupportedNetwork, fmt.Sprintf("unsupported network %s", tx.Network), nil)
	}
}

// verifyECDSA recovers the secp256k1 public key from a 65-byte
// [R || S || V] signature over the Keccak256 hash of message and requires
// strict equality between the recovered address and the claimed one.
func verifyECDSA(signature, message []byte, address string) error {
	if len(signature) != 65 {
		return NewUserInterventionError(CodeSignatureInvalid, fmt.Sprintf("expected 65-byte ECDSA signature, got %d", len(signature)), nil)
	}
	if !common.IsHexAddress(address) {
		return NewNonRetryableError(CodeInvariantViolation, fmt.Sprintf("invalid hex address %q", address), nil)
	}

	hash := ethcrypto.Keccak256(message)

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return NewUserInterventionError(CodeSignatureInvalid, "failed to recover public key from signature", err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	want := common.HexToAddress(address)
	if recovered != want {
		return NewUserInterventionError(CodeSignatureInvalid, fmt.Sprintf("recovered address %s does not match %s", recovered.Hex(), want.Hex()), nil)
	}
	return nil
}

// verifyEd25519 checks a raw Ed25519 signature over message against
// address, where address is the base58-encoded Solana public key.
func verifyEd25519(signature, message []byte, address string) error {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return NewNonRetryableError(CodeInvariantViolation, fmt.Sprintf("invalid Solana address %q", address), err)
	}
	if len(signature) != ed25519.SignatureSize {
		return NewUserInterventionError(CodeSignatureInvalid, fmt.Sprintf("expected %d-byte Ed25519 signature, got %d", ed25519.SignatureSize, len(signature)), nil)
	}
	if !ed25519.Verify(pub[:], message, signature) {
		return NewUserInterventionError(CodeSignatureInvalid, "Ed25519 signature verification failed", nil)
	}
	return nil
}

// ValidateMultiID recomputes the multi_id binding and rejects the
// transaction if it does not match the carried value, guarding against a
// sender/receiver pairing rewritten in transit.
func ValidateMultiID(tx *txstate.TxStateMachine) error {
	if !tx.VerifyMultiID() {
		return NewUserInterventionError(CodeMultiIDMismatch, "multi_id does not match sender/receiver pairing", nil)
	}
	return nil
}
