package txstate

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ComputeMultiID recomputes Blake2_256(sender ‖ receiver) for the given
// addresses. Used both to stamp a freshly created transaction and to
// re-verify one in flight.
func ComputeMultiID(sender, receiver string) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an over-long key, and we pass none.
		panic(fmt.Sprintf("blake2b.New256: %v", err))
	}
	h.Write([]byte(sender))
	h.Write([]byte(receiver))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyMultiID reports whether t.MultiID matches the recomputed hash of
// its own addresses.
func (t *TxStateMachine) VerifyMultiID() bool {
	return ComputeMultiID(t.SenderAddress, t.ReceiverAddress) == t.MultiID
}

// illegalTransition is an internal invariant violation: a status reached
// with a nonsensical field combination, or a transition attempted from a
// status that cannot legally reach it. Fatal for the transaction carrying
// it.
type illegalTransition struct {
	from, to TxStatus
}

func (e *illegalTransition) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.from, e.to)
}

func (t *TxStateMachine) transitionTo(to TxStatus, legalFrom ...TxStatus) error {
	for _, from := range legalFrom {
		if t.Status == from {
			t.Status = to
			return nil
		}
	}
	return &illegalTransition{from: t.Status, to: to}
}

// EnterReceiverConfirmation advances Genesis -> ReceiverConfirmation, the
// transition made on receipt at the peer when a Request swarm event
// carrying a fresh Genesis transaction arrives.
func (t *TxStateMachine) EnterReceiverConfirmation() error {
	return t.transitionTo(ReceiverConfirmation, Genesis)
}

// RecvConfirmationPassed advances ReceiverConfirmation -> RecvAddrConfirmed
// once the receiver's signature has verified. RecvAddrConfirmed is also
// accepted as a legal source: the receiver node's rpcserver sets that status
// when its signing agent returns recv_signature, before the transaction is
// sent back as a Response, so the
// sender's copy (decoded off the wire) already carries it by the time the
// sender's orchestrator performs its own authoritative verification here.
func (t *TxStateMachine) RecvConfirmationPassed() error {
	return t.transitionTo(RecvAddrConfirmed, ReceiverConfirmation, Genesis, RecvAddrConfirmed)
}

// RecvConfirmationFailed advances to the RecvAddrFailed terminal. See
// RecvConfirmationPassed for why RecvAddrConfirmed is an accepted source.
func (t *TxStateMachine) RecvConfirmationFailed() error {
	return t.transitionTo(RecvAddrFailed, ReceiverConfirmation, Genesis, RecvAddrConfirmed)
}

// ConfirmSender advances RecvAddrConfirmed -> SenderConfirmed. Invoked by
// the rpcserver when accepting an update_transaction RPC call for a
// transaction at RecvAddrConfirmed; NetConfirmed sits
// between these two statuses in the DAG but is unreachable, so the direct
// edge is legal.
func (t *TxStateMachine) ConfirmSender() error {
	return t.transitionTo(SenderConfirmed, RecvAddrConfirmed)
}

// SenderConfirmationFailed advances to the SenderConfirmationFailed
// terminal, reached from a failed sender-signature check, a multi-id
// mismatch, a network with no configured chain client, or a failed
// unsigned-transaction construction while awaiting sender confirmation.
func (t *TxStateMachine) SenderConfirmationFailed(reason string) error {
	if err := t.transitionTo(SenderConfirmationFailed, RecvAddrConfirmed, NetConfirmed, SenderConfirmed); err != nil {
		return err
	}
	t.FailureReason = reason
	return nil
}

// TxSubmissionPassed advances SenderConfirmed -> TxSubmissionPassed and
// stamps the chain-assigned hash.
func (t *TxStateMachine) TxSubmissionPassed(txHash []byte) error {
	if err := t.transitionTo(TxSubmissionPassed, SenderConfirmed); err != nil {
		return err
	}
	t.TxHash = txHash
	return nil
}

// TxSubmissionFailed advances SenderConfirmed -> TxSubmissionFailed. The
// reason is expected to make explicit that resubmission is user-initiated.
func (t *TxStateMachine) TxSubmissionFailed(reason string) error {
	if err := t.transitionTo(TxSubmissionFailed, SenderConfirmed); err != nil {
		return err
	}
	t.FailureReason = reason
	return nil
}
