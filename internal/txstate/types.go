// Package txstate defines TxStateMachine, the single canonical record
// exchanged between every layer of a vane node and between peers, along
// with its status DAG and the invariants that must hold at each transition.
package txstate

import (
	"fmt"
	"math/big"
)

// ChainSupported enumerates the networks a transaction can target.
// Polkadot is declared but rejected at every chain-processing boundary.
type ChainSupported uint8

const (
	Ethereum ChainSupported = iota
	Bnb
	Solana
	Polkadot
)

func (c ChainSupported) String() string {
	switch c {
	case Ethereum:
		return "Ethereum"
	case Bnb:
		return "Bnb"
	case Solana:
		return "Solana"
	case Polkadot:
		return "Polkadot"
	default:
		return fmt.Sprintf("ChainSupported(%d)", uint8(c))
	}
}

// TxStatus enumerates the positions in the transaction status DAG.
type TxStatus uint8

const (
	Genesis TxStatus = iota
	ReceiverConfirmation
	RecvAddrConfirmed
	RecvAddrFailed
	NetConfirmed
	SenderConfirmed
	SenderConfirmationFailed
	TxSubmissionPassed
	TxSubmissionFailed
)

func (s TxStatus) String() string {
	switch s {
	case Genesis:
		return "Genesis"
	case ReceiverConfirmation:
		return "ReceiverConfirmation"
	case RecvAddrConfirmed:
		return "RecvAddrConfirmed"
	case RecvAddrFailed:
		return "RecvAddrFailed"
	case NetConfirmed:
		return "NetConfirmed"
	case SenderConfirmed:
		return "SenderConfirmed"
	case SenderConfirmationFailed:
		return "SenderConfirmationFailed"
	case TxSubmissionPassed:
		return "TxSubmissionPassed"
	case TxSubmissionFailed:
		return "TxSubmissionFailed"
	default:
		return fmt.Sprintf("TxStatus(%d)", uint8(s))
	}
}

// IsTerminal reports whether s is an absorbing state: once reached, no
// further transitions occur.
func (s TxStatus) IsTerminal() bool {
	switch s {
	case RecvAddrFailed, SenderConfirmationFailed, TxSubmissionPassed, TxSubmissionFailed:
		return true
	default:
		return false
	}
}

// TxStateMachine is the object exchanged between the RPC layer, the
// orchestrator, the p2p swarm and the chain-processing worker. Status
// transitions are made by the orchestrator, except the two applied by the
// rpcserver on update_transaction. In-process channels carry
// *TxStateMachine pointers, and the sender does not mutate an object after
// handing it off; Clone makes an explicit deep copy. Peers exchange the
// encoded bytes (Encode), never a pointer.
type TxStateMachine struct {
	SenderAddress   string
	ReceiverAddress string

	// MultiID binds sender and receiver: Blake2_256(sender ‖ receiver).
	// Recomputable at any time via ComputeMultiID.
	MultiID [32]byte

	Network ChainSupported
	Amount  *big.Int

	// CallPayload is the unsigned chain-native transaction, filled in
	// during the SenderConfirmed/Branch-B transition.
	CallPayload []byte

	// SignedCallPayload is the externally produced signature over
	// CallPayload. Its presence discriminates "ask the user to sign" from
	// "submit" in the SenderConfirmed handler.
	SignedCallPayload []byte

	// RecvSignature is the receiver's signature over ReceiverAddress,
	// proving ownership. Never set by anyone but the receiver's signing
	// agent.
	RecvSignature []byte

	Status TxStatus

	// InboundReqID / OutboundReqID are 64-bit hashes of the messaging
	// layer's own request identifiers, attached so the orchestrator can
	// target the right in-flight request/response slot.
	InboundReqID  *uint64
	OutboundReqID *uint64

	// TxHash is the chain-assigned transaction hash, set only on a
	// successful broadcast.
	TxHash []byte

	// FailureReason carries a user-visible explanation when Status is one
	// of the failure terminals; it is not part of the wire invariants, only
	// RPC-layer ergonomics.
	FailureReason string
}

// NewGenesisTx constructs a fresh Genesis-status transaction with its
// MultiID stamped from the given addresses, as the RPC layer does on
// submit_transaction.
func NewGenesisTx(sender, receiver string, network ChainSupported, amount *big.Int) *TxStateMachine {
	return &TxStateMachine{
		SenderAddress:   sender,
		ReceiverAddress: receiver,
		MultiID:         ComputeMultiID(sender, receiver),
		Network:         network,
		Amount:          new(big.Int).Set(amount),
		Status:          Genesis,
	}
}

// Clone returns a deep value copy suitable for handing across a channel
// boundary without sharing mutable state with the original.
func (t *TxStateMachine) Clone() *TxStateMachine {
	if t == nil {
		return nil
	}
	out := *t
	if t.Amount != nil {
		out.Amount = new(big.Int).Set(t.Amount)
	}
	out.CallPayload = cloneBytes(t.CallPayload)
	out.SignedCallPayload = cloneBytes(t.SignedCallPayload)
	out.RecvSignature = cloneBytes(t.RecvSignature)
	out.TxHash = cloneBytes(t.TxHash)
	if t.InboundReqID != nil {
		v := *t.InboundReqID
		out.InboundReqID = &v
	}
	if t.OutboundReqID != nil {
		v := *t.OutboundReqID
		out.OutboundReqID = &v
	}
	return &out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
