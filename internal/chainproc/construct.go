package chainproc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/vane-network/vane-node/internal/txstate"
)

// DefaultBnbChainID is BNB Smart Chain's mainnet chain id, used when a
// caller does not override it via configuration.
const DefaultBnbChainID = 56

// ethMainnetChainID is hard-coded: Ethereum-network envelopes always target
// mainnet.
const ethMainnetChainID = 1

// ChainClient is the subset of *ethclient.Client the constructor and
// broadcaster need, narrowed to an interface so tests can substitute a
// fake.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Construct builds the unsigned EIP-7702 transaction envelope for tx's
// network and stores its canonical binary encoding in tx.CallPayload.
// bnbChainID is the BNB chain id to stamp into a Bnb-network envelope
// (VANE_BNB_CHAIN_ID in production, see internal/config); it is ignored for
// every other network.
func Construct(ctx context.Context, client ChainClient, tx *txstate.TxStateMachine, bnbChainID int64) error {
	switch tx.Network {
	case txstate.Ethereum:
		return construct7702(ctx, client, tx, big.NewInt(ethMainnetChainID))
	case txstate.Bnb:
		return construct7702(ctx, client, tx, big.NewInt(bnbChainID))
	case txstate.Solana:
		return NewNonRetryableError(CodeUnsupportedNetwork, "Solana unsigned transaction construction is not implemented", nil)
	case txstate.Polkadot:
		return NewNonRetryableError(CodeUnsupportedNetwork, "Polkadot unsigned transaction construction is not implemented", nil)
	default:
		return NewNonRetryableError(CodeUnsupportedNetwork, fmt.Sprintf("unsupported network %s", tx.Network), nil)
	}
}

func construct7702(ctx context.Context, client ChainClient, tx *txstate.TxStateMachine, chainID *big.Int) error {
	if !common.IsHexAddress(tx.ReceiverAddress) {
		return NewNonRetryableError(CodeInvariantViolation, fmt.Sprintf("invalid receiver address %q", tx.ReceiverAddress), nil)
	}
	if tx.Amount == nil {
		return NewNonRetryableError(CodeInvariantViolation, "amount is nil", nil)
	}
	if !common.IsHexAddress(tx.SenderAddress) {
		return NewNonRetryableError(CodeInvariantViolation, fmt.Sprintf("invalid sender address %q", tx.SenderAddress), nil)
	}

	value, overflow := uint256.FromBig(tx.Amount)
	if overflow {
		return NewNonRetryableError(CodeInvariantViolation, "amount overflows uint256", nil)
	}

	sender := common.HexToAddress(tx.SenderAddress)
	to := common.HexToAddress(tx.ReceiverAddress)

	nonce, err := client.PendingNonceAt(ctx, sender)
	if err != nil {
		return NewRetryableError(CodeRPCFailure, "failed to fetch sender nonce", err)
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return NewRetryableError(CodeRPCFailure, "failed to suggest gas tip cap", err)
	}
	feeCap, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return NewRetryableError(CodeRPCFailure, "failed to suggest gas fee cap", err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: sender, To: &to, Value: tx.Amount})
	if err != nil {
		return NewRetryableError(CodeRPCFailure, "failed to estimate gas", err)
	}

	tipCapU, overflow := uint256.FromBig(tipCap)
	if overflow {
		return NewNonRetryableError(CodeInvariantViolation, "gas tip cap overflows uint256", nil)
	}
	feeCapU, overflow := uint256.FromBig(feeCap)
	if overflow {
		return NewNonRetryableError(CodeInvariantViolation, "gas fee cap overflows uint256", nil)
	}

	cid, overflow := uint256.FromBig(chainID)
	if overflow {
		return NewNonRetryableError(CodeInvariantViolation, "chain id overflows uint256", nil)
	}

	unsigned := types.NewTx(&types.SetCodeTx{
		ChainID:   cid,
		Nonce:     nonce,
		GasTipCap: tipCapU,
		GasFeeCap: feeCapU,
		Gas:       gas,
		To:        to,
		Value:     value,
		AuthList:  nil,
	})

	encoded, err := unsigned.MarshalBinary()
	if err != nil {
		return NewNonRetryableError(CodeInvariantViolation, "failed to encode unsigned transaction", err)
	}
	tx.CallPayload = encoded
	return nil
}
