package chainproc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vane-network/vane-node/internal/txstate"
)

// Broadcast decodes tx.CallPayload, attaches tx.SignedCallPayload as the
// transaction signature, re-encodes and submits the signed transaction,
// returning the chain-assigned hash.
func Broadcast(ctx context.Context, client ChainClient, tx *txstate.TxStateMachine) ([]byte, error) {
	switch tx.Network {
	case txstate.Ethereum, txstate.Bnb:
		return broadcastEVM(ctx, client, tx)
	case txstate.Solana:
		return nil, NewNonRetryableError(CodeUnsupportedNetwork, "Solana broadcast is not implemented", nil)
	case txstate.Polkadot:
		return nil, NewNonRetryableError(CodeUnsupportedNetwork, "Polkadot broadcast is not implemented", nil)
	default:
		return nil, NewNonRetryableError(CodeUnsupportedNetwork, fmt.Sprintf("unsupported network %s", tx.Network), nil)
	}
}

func broadcastEVM(ctx context.Context, client ChainClient, tx *txstate.TxStateMachine) ([]byte, error) {
	if len(tx.SignedCallPayload) == 0 {
		return nil, NewUserInterventionError(CodeSignatureInvalid, "sender did not sign the tx payload", nil)
	}
	if len(tx.CallPayload) == 0 {
		return nil, NewNonRetryableError(CodeInvariantViolation, "call payload not found", nil)
	}
	if len(tx.SignedCallPayload) != 65 {
		return nil, NewUserInterventionError(CodeSignatureInvalid, fmt.Sprintf("expected 65-byte signature, got %d", len(tx.SignedCallPayload)), nil)
	}

	unsigned := new(types.Transaction)
	if err := unsigned.UnmarshalBinary(tx.CallPayload); err != nil {
		return nil, NewNonRetryableError(CodeDecodeFailure, "failed to decode EIP-7702 tx payload", err)
	}

	chainID := unsigned.ChainId()
	if chainID == nil || chainID.Sign() == 0 {
		chainID = big.NewInt(1)
	}
	signer := types.LatestSignerForChainID(chainID)

	signedTx, err := unsigned.WithSignature(signer, tx.SignedCallPayload)
	if err != nil {
		return nil, NewUserInterventionError(CodeSignatureInvalid, "failed to attach signature to tx", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, NewRetryableError(CodeBroadcastFailure, "failed to submit raw transaction", err)
	}

	hash := signedTx.Hash()
	return hash[:], nil
}
