package txstate

import (
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// wireForm is the RLP-serialisable shadow of TxStateMachine. Optional
// fields carry an explicit "Has*" flag rather than relying on RLP's
// empty-string encoding of nil slices, so decode(encode(t)) == t holds
// exactly even for the (theoretical) case of a present-but-empty optional
// field.
type wireForm struct {
	SenderAddress   string
	ReceiverAddress string
	MultiID         []byte
	Network         uint8

	HasAmount bool
	Amount    *big.Int

	HasCallPayload bool
	CallPayload    []byte

	HasSignedCallPayload bool
	SignedCallPayload    []byte

	HasRecvSignature bool
	RecvSignature    []byte

	Status uint8

	HasInboundReqID bool
	InboundReqID    uint64

	HasOutboundReqID bool
	OutboundReqID    uint64

	HasTxHash bool
	TxHash    []byte

	FailureReason string
}

func (t *TxStateMachine) toWire() *wireForm {
	w := &wireForm{
		SenderAddress:   t.SenderAddress,
		ReceiverAddress: t.ReceiverAddress,
		MultiID:         t.MultiID[:],
		Network:         uint8(t.Network),
		Amount:          new(big.Int),
		Status:          uint8(t.Status),
		FailureReason:   t.FailureReason,
	}
	if t.Amount != nil {
		w.HasAmount = true
		w.Amount = t.Amount
	}
	if t.CallPayload != nil {
		w.HasCallPayload = true
		w.CallPayload = t.CallPayload
	}
	if t.SignedCallPayload != nil {
		w.HasSignedCallPayload = true
		w.SignedCallPayload = t.SignedCallPayload
	}
	if t.RecvSignature != nil {
		w.HasRecvSignature = true
		w.RecvSignature = t.RecvSignature
	}
	if t.InboundReqID != nil {
		w.HasInboundReqID = true
		w.InboundReqID = *t.InboundReqID
	}
	if t.OutboundReqID != nil {
		w.HasOutboundReqID = true
		w.OutboundReqID = *t.OutboundReqID
	}
	if t.TxHash != nil {
		w.HasTxHash = true
		w.TxHash = t.TxHash
	}
	return w
}

func (w *wireForm) toTxState() *TxStateMachine {
	t := &TxStateMachine{
		SenderAddress:   w.SenderAddress,
		ReceiverAddress: w.ReceiverAddress,
		Network:         ChainSupported(w.Network),
		Status:          TxStatus(w.Status),
		FailureReason:   w.FailureReason,
	}
	copy(t.MultiID[:], w.MultiID)
	if w.HasAmount {
		t.Amount = w.Amount
	}
	if w.HasCallPayload {
		t.CallPayload = w.CallPayload
	}
	if w.HasSignedCallPayload {
		t.SignedCallPayload = w.SignedCallPayload
	}
	if w.HasRecvSignature {
		t.RecvSignature = w.RecvSignature
	}
	if w.HasInboundReqID {
		v := w.InboundReqID
		t.InboundReqID = &v
	}
	if w.HasOutboundReqID {
		v := w.OutboundReqID
		t.OutboundReqID = &v
	}
	if w.HasTxHash {
		t.TxHash = w.TxHash
	}
	return t
}

// EncodeRLP implements rlp.Encoder so TxStateMachine can be written
// directly with rlp.Encode / rlp.EncodeToBytes. This is the canonical wire
// encoding and must be identical on both peers.
func (t *TxStateMachine) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, t.toWire())
}

// DecodeRLP implements rlp.Decoder. An amount wider than 128 bits is
// rejected.
func (t *TxStateMachine) DecodeRLP(s *rlp.Stream) error {
	var w wireForm
	if err := s.Decode(&w); err != nil {
		return err
	}
	if w.HasAmount && w.Amount.BitLen() > 128 {
		return fmt.Errorf("amount exceeds 128 bits (%d bits)", w.Amount.BitLen())
	}
	*t = *w.toTxState()
	return nil
}

// Encode returns the canonical byte encoding of t.
func Encode(t *TxStateMachine) ([]byte, error) {
	return rlp.EncodeToBytes(t)
}

// Decode parses the canonical byte encoding into a new TxStateMachine.
func Decode(data []byte) (*TxStateMachine, error) {
	var t TxStateMachine
	if err := rlp.DecodeBytes(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
