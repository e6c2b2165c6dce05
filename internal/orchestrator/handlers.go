package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/vane-network/vane-node/internal/chainproc"
	"github.com/vane-network/vane-node/internal/directory"
	"github.com/vane-network/vane-node/internal/p2pnet"
	"github.com/vane-network/vane-node/internal/txstate"
)

// ErrNotImplemented is reported in the FailureReason of a transaction
// emitted back with the reserved NetConfirmed status (surfaced, never
// silently swallowed).
var ErrNotImplemented = errors.New("not implemented")

// handleRPCUpdate routes an RPC-originated TxStateMachine update to the
// handler keyed by its current status.
func (o *Orchestrator) handleRPCUpdate(ctx context.Context, tx *txstate.TxStateMachine) {
	switch tx.Status {
	case txstate.Genesis:
		o.genesisHandler(ctx, tx)
	case txstate.RecvAddrConfirmed:
		o.recvAddrConfirmedHandler(ctx, tx)
	case txstate.SenderConfirmed:
		o.senderConfirmedHandler(ctx, tx)
	case txstate.NetConfirmed:
		o.logger.Error().Str("sender", tx.SenderAddress).Str("receiver", tx.ReceiverAddress).
			Msg("NetConfirmed routing is reserved and not implemented")
		tx.FailureReason = fmt.Sprintf("%v: NetConfirmed status is reserved and not yet implemented", ErrNotImplemented)
		o.emit(tx)
	default:
		o.logger.Warn().Str("status", tx.Status.String()).
			Msg("RPC update carries a status the orchestrator does not route; dropping")
	}
}

// genesisHandler resolves the receiver's peer identity, then dials and
// sends the transaction as a Request. A directory miss is a warning, not a
// state change: the transaction does not advance and there is no automatic
// retry.
func (o *Orchestrator) genesisHandler(ctx context.Context, tx *txstate.TxStateMachine) {
	record, err := o.resolver.Resolve(ctx, tx.ReceiverAddress)
	if err != nil {
		if errors.Is(err, directory.ErrPeerNotFound) {
			o.logger.Warn().Str("receiver", tx.ReceiverAddress).Msg("peer not found; transaction does not advance")
			tx.FailureReason = "receiver is not reachable: no peer directory entry for this address"
			o.emit(tx)
			return
		}
		o.logger.Error().Err(err).Str("receiver", tx.ReceiverAddress).Msg("peer directory lookup failed")
		tx.FailureReason = fmt.Sprintf("peer directory lookup failed: %v", err)
		o.emit(tx)
		return
	}

	data, err := txstate.Encode(tx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to encode transaction for swarm request")
		tx.FailureReason = fmt.Sprintf("failed to encode transaction: %v", err)
		o.emit(tx)
		return
	}

	if err := o.swarm.SendRequest(ctx, data, record.PeerID, record.MultiAddr); err != nil {
		o.logger.Warn().Err(err).Str("peer_id", record.PeerID).Msg("failed to send genesis request to receiver")
		tx.FailureReason = fmt.Sprintf("failed to reach receiver: %v", err)
		o.emit(tx)
		return
	}

	o.logger.Info().Str("receiver", tx.ReceiverAddress).Str("peer_id", record.PeerID).Msg("genesis request sent to receiver")
}

// recvAddrConfirmedHandler runs after the receiver user has produced
// recv_signature via RPC: it sends the receiver-signed transaction back as
// a Response on the matching inbound request slot.
func (o *Orchestrator) recvAddrConfirmedHandler(ctx context.Context, tx *txstate.TxStateMachine) {
	if tx.InboundReqID == nil {
		o.logger.Error().Str("receiver", tx.ReceiverAddress).Msg("internal invariant violation: missing inbound_req_id at RecvAddrConfirmed")
		return
	}

	data, err := txstate.Encode(tx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to encode transaction for swarm response")
		tx.FailureReason = fmt.Sprintf("failed to encode transaction: %v", err)
		o.emit(tx)
		return
	}

	if err := o.swarm.SendResponse(ctx, *tx.InboundReqID, data); err != nil {
		o.logger.Warn().Err(err).Msg("failed to send response to sender")
		tx.FailureReason = fmt.Sprintf("failed to reach sender: %v", err)
		o.emit(tx)
		return
	}

	o.logger.Info().Str("sender", tx.SenderAddress).Msg("receiver-signed response sent")
}

// senderConfirmedHandler dispatches on whether signed_call_payload is
// present: submit when it is, construct the unsigned envelope when not.
func (o *Orchestrator) senderConfirmedHandler(ctx context.Context, tx *txstate.TxStateMachine) {
	if len(tx.SignedCallPayload) > 0 {
		o.senderConfirmedBranchA(ctx, tx)
		return
	}
	o.senderConfirmedBranchB(ctx, tx)
}

// senderConfirmedBranchA: signed_call_payload is present, ready to
// broadcast.
func (o *Orchestrator) senderConfirmedBranchA(ctx context.Context, tx *txstate.TxStateMachine) {
	if err := chainproc.VerifySignature(tx, chainproc.RoleSender); err != nil {
		o.logger.Warn().Err(err).Str("sender", tx.SenderAddress).Msg("sender signature verification failed")
		_ = tx.SenderConfirmationFailed(err.Error())
		o.recordFailure(tx)
		o.emit(tx)
		return
	}

	client, err := o.chainClient(tx.Network)
	if err != nil {
		_ = tx.TxSubmissionFailed(err.Error())
		o.recordFailure(tx)
		o.emit(tx)
		return
	}

	txHash, err := chainproc.Broadcast(ctx, client, tx)
	if err != nil {
		o.logger.Warn().Err(err).Str("sender", tx.SenderAddress).Msg("chain broadcast failed")
		_ = tx.TxSubmissionFailed(fmt.Sprintf("broadcast failed: %v; the tx will be resubmitted on a fresh user-initiated update", err))
		o.recordFailure(tx)
		o.emit(tx)
		return
	}

	_ = tx.TxSubmissionPassed(txHash)
	o.recordSuccess(tx)
	o.emit(tx)
}

// senderConfirmedBranchB: signed_call_payload absent, construct the
// unsigned chain-native transaction for the user agent to sign next.
func (o *Orchestrator) senderConfirmedBranchB(ctx context.Context, tx *txstate.TxStateMachine) {
	if err := chainproc.ValidateMultiID(tx); err != nil {
		o.logger.Warn().Err(err).Str("sender", tx.SenderAddress).Str("receiver", tx.ReceiverAddress).Msg("multi_id mismatch detected")
		_ = tx.SenderConfirmationFailed(err.Error())
		o.recordFailure(tx)
		o.emit(tx)
		return
	}

	client, err := o.chainClient(tx.Network)
	if err != nil {
		_ = tx.SenderConfirmationFailed(err.Error())
		o.recordFailure(tx)
		o.emit(tx)
		return
	}

	if err := chainproc.Construct(ctx, client, tx, o.bnbChainID); err != nil {
		o.logger.Warn().Err(err).Str("sender", tx.SenderAddress).Msg("unsigned transaction construction failed")
		_ = tx.SenderConfirmationFailed(err.Error())
		o.recordFailure(tx)
		o.emit(tx)
		return
	}

	o.emit(tx)
}

// handleSwarmEvent decodes an inbound p2p swarm event and routes it by
// kind. A malformed payload drops the event with a log entry and no state
// transition.
func (o *Orchestrator) handleSwarmEvent(ctx context.Context, ev p2pnet.Event) {
	tx, err := txstate.Decode(ev.Data)
	if err != nil {
		o.logger.Warn().Err(err).Str("kind", ev.Kind.String()).Msg("dropping malformed swarm message")
		return
	}

	switch ev.Kind {
	case p2pnet.EventRequest:
		o.handleSwarmRequest(tx, ev)
	case p2pnet.EventResponse:
		o.handleSwarmResponse(tx, ev)
	default:
		o.logger.Warn().Str("kind", ev.Kind.String()).Msg("unknown swarm event kind")
	}
}

func (o *Orchestrator) handleSwarmRequest(tx *txstate.TxStateMachine, ev p2pnet.Event) {
	tx.InboundReqID = ev.InboundReqID

	if tx.Status == txstate.Genesis {
		if err := tx.EnterReceiverConfirmation(); err != nil {
			o.logger.Error().Err(err).Msg("internal invariant violation on inbound request")
			return
		}
	}

	o.emit(tx)
}

func (o *Orchestrator) handleSwarmResponse(tx *txstate.TxStateMachine, ev p2pnet.Event) {
	tx.OutboundReqID = ev.OutboundReqID

	if err := chainproc.VerifySignature(tx, chainproc.RoleReceiver); err != nil {
		o.logger.Warn().Err(err).Str("receiver", tx.ReceiverAddress).Msg("receiver signature verification failed")
		_ = tx.RecvConfirmationFailed()
		tx.FailureReason = err.Error()
		o.recordFailure(tx)
		o.emit(tx)
		return
	}

	_ = tx.RecvConfirmationPassed()
	o.emit(tx)
}

func (o *Orchestrator) recordSuccess(tx *txstate.TxStateMachine) {
	if err := o.db.RecordSuccessTx(tx.TxHash, tx.Amount, tx.Network); err != nil {
		o.logger.Error().Err(err).Msg("failed to persist successful tx history")
	}
}

func (o *Orchestrator) recordFailure(tx *txstate.TxStateMachine) {
	if err := o.db.RecordFailedTx(tx.TxHash, tx.Amount, tx.Network); err != nil {
		o.logger.Error().Err(err).Msg("failed to persist failed tx history")
	}
}
