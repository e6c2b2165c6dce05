// Package orchestrator implements the coordination loop at the centre of a
// node: it advances a TxStateMachine's status, routing each RPC-originated
// update and each p2p swarm event to a handler keyed by the transaction's
// current status or the event's kind. The two transitions implied by a
// signing agent's reply (ReceiverConfirmation -> RecvAddrConfirmed and
// RecvAddrConfirmed -> SenderConfirmed) are applied by the rpcserver's
// UpdateTransaction before the update reaches the orchestrator.
package orchestrator

import (
	"context"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vane-network/vane-node/internal/chainproc"
	"github.com/vane-network/vane-node/internal/directory"
	"github.com/vane-network/vane-node/internal/p2pnet"
	"github.com/vane-network/vane-node/internal/txstate"
	"github.com/vane-network/vane-node/internal/vanelog"
)

// swarmNetwork is the subset of *p2pnet.Node the orchestrator drives,
// narrowed to an interface for substitution in tests.
type swarmNetwork interface {
	Dial(ctx context.Context, multiaddr, peerID string) error
	SendRequest(ctx context.Context, data []byte, peerID, multiaddr string) error
	SendResponse(ctx context.Context, inboundReqID uint64, data []byte) error
}

// peerResolver is the subset of *directory.Resolver the Genesis handler
// needs.
type peerResolver interface {
	Resolve(ctx context.Context, accountAddress string) (*directory.Record, error)
}

// historyRecorder is the subset of *store.DB the orchestrator needs to
// append terminal transaction outcomes.
type historyRecorder interface {
	RecordSuccessTx(txHash []byte, amount *big.Int, network txstate.ChainSupported) error
	RecordFailedTx(txHash []byte, amount *big.Int, network txstate.ChainSupported) error
}

// Orchestrator owns the RPC-inbound and swarm-inbound channels and makes
// every status transition other than the two applied by the rpcserver on
// ingestion.
type Orchestrator struct {
	resolver peerResolver
	swarm    swarmNetwork
	db       historyRecorder
	clients  map[txstate.ChainSupported]chainproc.ChainClient

	// bnbChainID is stamped into every Bnb-network unsigned envelope.
	// Configurable rather than auto-detected so testnet use is explicit.
	bnbChainID int64

	rpcIn   <-chan *txstate.TxStateMachine
	rpcOut  chan<- *txstate.TxStateMachine
	swarmIn <-chan p2pnet.Event

	logger zerolog.Logger
}

// New builds an Orchestrator wired to the given peer directory, p2p swarm,
// local history store, and per-network chain clients. rpcIn/rpcOut/swarmIn
// are the three bounded inter-task channels; callers should size rpcOut
// with the same capacity-10 convention as the other two. bnbChainID is the
// chain id used when constructing Bnb-network envelopes; pass
// chainproc.DefaultBnbChainID for mainnet.
func New(
	resolver peerResolver,
	swarm swarmNetwork,
	db historyRecorder,
	clients map[txstate.ChainSupported]chainproc.ChainClient,
	bnbChainID int64,
	rpcIn <-chan *txstate.TxStateMachine,
	rpcOut chan<- *txstate.TxStateMachine,
	swarmIn <-chan p2pnet.Event,
) *Orchestrator {
	return &Orchestrator{
		resolver:   resolver,
		swarm:      swarm,
		db:         db,
		clients:    clients,
		bnbChainID: bnbChainID,
		rpcIn:      rpcIn,
		rpcOut:     rpcOut,
		swarmIn:    swarmIn,
		logger:     vanelog.For("orchestrator"),
	}
}

// Run drives the orchestrator's two long-lived loops (one consuming RPC
// updates, one consuming swarm events) until ctx is cancelled, at which
// point each loop drains its remaining buffered input before returning.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.runRPCLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.runSwarmLoop(ctx)
	}()
	wg.Wait()
}

func (o *Orchestrator) runRPCLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.drainRPC()
			return
		case tx, ok := <-o.rpcIn:
			if !ok {
				return
			}
			o.safeHandleRPCUpdate(ctx, tx)
		}
	}
}

func (o *Orchestrator) drainRPC() {
	for {
		select {
		case tx, ok := <-o.rpcIn:
			if !ok {
				return
			}
			o.safeHandleRPCUpdate(context.Background(), tx)
		default:
			return
		}
	}
}

func (o *Orchestrator) runSwarmLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.drainSwarm()
			return
		case ev, ok := <-o.swarmIn:
			if !ok {
				return
			}
			o.safeHandleSwarmEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) drainSwarm() {
	for {
		select {
		case ev, ok := <-o.swarmIn:
			if !ok {
				return
			}
			o.safeHandleSwarmEvent(context.Background(), ev)
		default:
			return
		}
	}
}

// safeHandleRPCUpdate recovers a panic from a single message so one
// malformed transaction cannot bring down the orchestrator loop.
func (o *Orchestrator) safeHandleRPCUpdate(ctx context.Context, tx *txstate.TxStateMachine) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("recovered panic handling RPC update")
		}
	}()
	o.handleRPCUpdate(ctx, tx)
}

func (o *Orchestrator) safeHandleSwarmEvent(ctx context.Context, ev p2pnet.Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("recovered panic handling swarm event")
		}
	}()
	o.handleSwarmEvent(ctx, ev)
}

func (o *Orchestrator) emit(tx *txstate.TxStateMachine) {
	o.rpcOut <- tx
}

func (o *Orchestrator) chainClient(network txstate.ChainSupported) (chainproc.ChainClient, error) {
	client, ok := o.clients[network]
	if !ok {
		return nil, chainproc.NewNonRetryableError(chainproc.CodeUnsupportedNetwork, "no chain client configured for network "+network.String(), nil)
	}
	return client, nil
}
