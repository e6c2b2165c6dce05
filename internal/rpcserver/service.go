// Package rpcserver implements the user-facing RPC boundary: the JSON-RPC
// service exposing submit_transaction, update_transaction and the
// watch_transactions subscription, backed by the go-ethereum rpc
// Server/Notifier machinery.
package rpcserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/vane-network/vane-node/internal/txstate"
	"github.com/vane-network/vane-node/internal/vanelog"
)

// subscriberBuffer bounds how many unread updates a single watch
// subscription holds before the broadcast loop drops new ones; a slow
// subscriber must never block the fan-out to the others.
const subscriberBuffer = 10

// Service is the RPC-namespaced object registered with the go-ethereum rpc
// server under the "vane" namespace. Its exported methods become
// vane_submitTransaction, vane_updateTransaction and the vane_subscribe
// pseudo-method backing watch_transactions.
type Service struct {
	rpcIn chan<- *txstate.TxStateMachine

	mu   sync.Mutex
	subs map[rpc.ID]chan *txstate.TxStateMachine

	logger zerolog.Logger
}

// NewService builds a Service that enqueues accepted updates on rpcIn (the
// RPC→orchestrator channel) and fans out orchestrator-emitted updates,
// consumed via Run, to every active watch_transactions subscriber.
func NewService(rpcIn chan<- *txstate.TxStateMachine) *Service {
	return &Service{
		rpcIn:  rpcIn,
		subs:   make(map[rpc.ID]chan *txstate.TxStateMachine),
		logger: vanelog.For("rpcserver"),
	}
}

// Run drains rpcOut (the orchestrator→RPC channel) and fans each update out
// to every subscriber, until ctx is cancelled or rpcOut is closed.
func (s *Service) Run(ctx context.Context, rpcOut <-chan *txstate.TxStateMachine) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-rpcOut:
			if !ok {
				return
			}
			s.broadcast(tx)
		}
	}
}

func (s *Service) broadcast(tx *txstate.TxStateMachine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- tx:
		default:
			s.logger.Warn().Str("subscription", string(id)).Msg("dropping update for slow watch_transactions subscriber")
		}
	}
}

// SubmitTransaction seeds a Genesis transaction. txHex is the hex-wrapped
// canonical encoding of a freshly built TxStateMachine at status Genesis.
func (s *Service) SubmitTransaction(ctx context.Context, txHex string) (string, error) {
	tx, err := decodeHexTx(txHex)
	if err != nil {
		return "", err
	}
	if tx.Status != txstate.Genesis {
		return "", fmt.Errorf("submit_transaction requires status Genesis, got %s", tx.Status)
	}
	if err := s.enqueue(ctx, tx); err != nil {
		return "", err
	}
	return hexutil.Encode(tx.MultiID[:]), nil
}

// UpdateTransaction accepts a receiver- or sender-signed follow-up. The
// external signing agent only ever fills in the field it was asked to
// produce (recv_signature or signed_call_payload) on the object it last
// received via watch_transactions and resubmits it unchanged otherwise;
// this method performs the one status transition that unlocks from that
// field, so the caller never decides what a status means:
//
//   - ReceiverConfirmation + recv_signature now present → RecvAddrConfirmed
//     (the receiver just signed; ready to send back as a Response).
//   - RecvAddrConfirmed → SenderConfirmed (the sender inspected the
//     receiver's signature and wants to proceed to construct/sign/submit).
//
// Any other status is forwarded as-is.
func (s *Service) UpdateTransaction(ctx context.Context, txHex string) (string, error) {
	tx, err := decodeHexTx(txHex)
	if err != nil {
		return "", err
	}

	switch tx.Status {
	case txstate.ReceiverConfirmation:
		if len(tx.RecvSignature) > 0 {
			if err := tx.RecvConfirmationPassed(); err != nil {
				return "", fmt.Errorf("invalid status transition: %w", err)
			}
		}
	case txstate.RecvAddrConfirmed:
		if err := tx.ConfirmSender(); err != nil {
			return "", fmt.Errorf("invalid status transition: %w", err)
		}
	}

	if err := s.enqueue(ctx, tx); err != nil {
		return "", err
	}
	return hexutil.Encode(tx.MultiID[:]), nil
}

// WatchTransactions subscribes the caller to every orchestrator-emitted
// TxStateMachine update, hex-wrapped.
func (s *Service) WatchTransactions(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	sub := notifier.CreateSubscription()
	ch := make(chan *txstate.TxStateMachine, subscriberBuffer)

	s.mu.Lock()
	s.subs[sub.ID] = ch
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.subs, sub.ID)
			s.mu.Unlock()
		}()
		for {
			select {
			case tx := <-ch:
				data, err := txstate.Encode(tx)
				if err != nil {
					s.logger.Error().Err(err).Msg("failed to encode tx update for subscriber")
					continue
				}
				if err := notifier.Notify(sub.ID, hexutil.Encode(data)); err != nil {
					return
				}
			case <-sub.Err():
				return
			}
		}
	}()

	return sub, nil
}

// enqueue blocks on a full RPC-inbound channel so backpressure reaches the
// producer, bounded by the request context: a caller that gives up (or a
// server shutting down) releases the send.
func (s *Service) enqueue(ctx context.Context, tx *txstate.TxStateMachine) error {
	select {
	case s.rpcIn <- tx:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transaction not accepted, RPC-inbound channel stayed full: %w", ctx.Err())
	}
}

func decodeHexTx(txHex string) (*txstate.TxStateMachine, error) {
	data, err := hexutil.Decode(txHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex payload: %w", err)
	}
	tx, err := txstate.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}
