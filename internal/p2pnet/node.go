// Package p2pnet implements the peer-to-peer messaging layer: node
// identity, dialing, and the request/response exchange that carries
// TxStateMachine objects between a sender and a receiver node over a
// libp2p overlay.
package p2pnet

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
)

// eventChanCapacity bounds the swarm→orchestrator channel: large enough
// for the expected in-flight transactions per user, small enough to
// surface a pathological stall as backpressure.
const eventChanCapacity = 10

// Announcer receives new peer observations from the discovery layer and
// writes them through to the remote peer directory. Satisfied by
// *directory.Resolver.
type Announcer interface {
	Announce(ctx context.Context, accountAddresses []string, peerID, multiAddr string) error
}

type pendingInboundReq struct {
	rawID uint64
	from  peer.AddrInfo
}

// Node is a libp2p host bound to the vane tx protocol. It dials peers,
// originates requests, completes inbound requests with a response, and
// raises Request/Response events for the orchestrator to consume.
type Node struct {
	cfg        Config
	host       host.Host
	protocolID protocol.ID
	logger     zerolog.Logger

	events chan Event

	peerMu sync.RWMutex
	peers  map[string]peer.AddrInfo

	pendingMu       sync.Mutex
	pendingInbound  map[uint64]pendingInboundReq // keyed by hash(rawID)
	pendingOutbound map[uint64]time.Time         // keyed by rawID, for stray-response logging

	reqCounter uint64
	reqMu      sync.Mutex

	announcer Announcer

	discovery *discoveryService

	// done gates emit: stream handlers may still fire after Close, and a
	// send must never race the teardown.
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a libp2p host listening on cfg's addresses and registers the
// tx protocol stream handler. Local-network discovery (mdns) is started
// automatically; identify runs by default under libp2p.New.
func New(cfg Config, logger zerolog.Logger) (*Node, error) {
	cfg.setDefaults()

	priv, err := loadIdentity(cfg.PrivateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to load libp2p identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start libp2p host: %w", err)
	}

	n := &Node{
		cfg:             cfg,
		host:            h,
		protocolID:      protocol.ID(cfg.ProtocolID),
		logger:          logger.With().Str("component", "p2pnet").Logger(),
		events:          make(chan Event, eventChanCapacity),
		peers:           make(map[string]peer.AddrInfo),
		pendingInbound:  make(map[uint64]pendingInboundReq),
		pendingOutbound: make(map[uint64]time.Time),
		done:            make(chan struct{}),
	}

	h.SetStreamHandler(n.protocolID, n.handleStream)

	disc, err := startDiscovery(h, cfg.MDNSServiceTag, n)
	if err != nil {
		n.logger.Warn().Err(err).Msg("mdns discovery failed to start; continuing without local-network discovery")
	} else {
		n.discovery = disc
	}

	for _, addr := range n.ListenAddrs() {
		n.logger.Info().Str("multiaddr", addr).Msg("new listen address")
	}

	return n, nil
}

// SetAnnouncer wires the write-through path from discovery to the remote
// peer directory: new peer observations on the gossip layer trigger an
// announcement of this node's own accounts and listen address.
func (n *Node) SetAnnouncer(a Announcer) {
	n.announcer = a
}

// ID returns this node's durable libp2p peer id.
func (n *Node) ID() string {
	return n.host.ID().String()
}

// ListenAddrs returns this node's reachable multiaddrs, each suffixed with
// its own peer id.
func (n *Node) ListenAddrs() []string {
	out := make([]string, 0, len(n.host.Addrs()))
	for _, addr := range n.host.Addrs() {
		out = append(out, addr.String()+"/p2p/"+n.host.ID().String())
	}
	return out
}

// Events returns the channel of Request/Response swarm events the
// orchestrator's swarm loop consumes. Infrastructural events are logged,
// not surfaced here.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Dial establishes or reuses a connection to the named peer, remembering
// its address for later SendRequest/SendResponse calls. Fails if the
// transport address is unreachable.
func (n *Node) Dial(ctx context.Context, multiaddr, peerID string) error {
	info, err := n.resolvePeerInfo(multiaddr, peerID)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer cancel()
	if err := n.host.Connect(dialCtx, info); err != nil {
		return fmt.Errorf("failed to dial peer %s at %s: %w", peerID, multiaddr, err)
	}

	n.peerMu.Lock()
	n.peers[peerID] = info
	n.peerMu.Unlock()

	n.logger.Debug().Str("peer_id", peerID).Str("multiaddr", multiaddr).Msg("dial succeeded")
	return nil
}

// SendRequest serialises tx's canonical encoding and originates a
// request/response exchange to peerID, dialing it first if not already
// connected. Returns once the request has been handed to the transport; the
// eventual response is delivered later through Events with an OutboundReqID
// that hashes to the id generated here.
func (n *Node) SendRequest(ctx context.Context, data []byte, peerID, multiaddr string) error {
	if err := n.Dial(ctx, multiaddr, peerID); err != nil {
		return err
	}

	info, err := n.lookupPeer(peerID)
	if err != nil {
		return err
	}

	id := n.nextReqID()
	n.pendingMu.Lock()
	n.pendingOutbound[id] = time.Now()
	n.pendingMu.Unlock()

	if err := n.writeToPeer(ctx, info, frameRequest, id, data); err != nil {
		n.pendingMu.Lock()
		delete(n.pendingOutbound, id)
		n.pendingMu.Unlock()
		return fmt.Errorf("failed to send request to peer %s: %w", peerID, err)
	}
	return nil
}

// SendResponse completes the in-flight inbound request whose
// messaging-assigned id hashes to inboundReqID, sending data back to the
// peer that originated it. Fails if no such request is pending.
func (n *Node) SendResponse(ctx context.Context, inboundReqID uint64, data []byte) error {
	n.pendingMu.Lock()
	pending, ok := n.pendingInbound[inboundReqID]
	if ok {
		delete(n.pendingInbound, inboundReqID)
	}
	n.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("no pending inbound request for id %d", inboundReqID)
	}

	if err := n.writeToPeer(ctx, pending.from, frameResponse, pending.rawID, data); err != nil {
		return fmt.Errorf("failed to send response to peer %s: %w", pending.from.ID, err)
	}
	return nil
}

// Close shuts down the discovery service and the libp2p host. Events
// arriving after Close are discarded; the channel itself stays open so a
// consumer blocked on it is released by its own context, not a close.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		if n.discovery != nil {
			n.discovery.Close()
		}
		err = n.host.Close()
	})
	return err
}

func (n *Node) writeToPeer(ctx context.Context, info peer.AddrInfo, kind frameKind, id uint64, payload []byte) error {
	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer cancel()
	if err := n.host.Connect(dialCtx, info); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	streamCtx, streamCancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer streamCancel()
	stream, err := n.host.NewStream(streamCtx, info.ID, n.protocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	deadline := time.Now().Add(n.cfg.IOTimeout)
	if err := stream.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	return writeFrame(stream, kind, id, payload)
}

func (n *Node) handleStream(stream network.Stream) {
	defer stream.Close()

	deadline := time.Now().Add(n.cfg.IOTimeout)
	_ = stream.SetReadDeadline(deadline)

	kind, id, payload, err := readFrame(stream)
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to read swarm frame")
		return
	}

	switch kind {
	case frameRequest:
		from := peer.AddrInfo{ID: stream.Conn().RemotePeer(), Addrs: []ma.Multiaddr{stream.Conn().RemoteMultiaddr()}}
		reqHash := hashID(id)
		n.pendingMu.Lock()
		n.pendingInbound[reqHash] = pendingInboundReq{rawID: id, from: from}
		n.pendingMu.Unlock()
		n.emit(Event{Kind: EventRequest, Data: payload, InboundReqID: &reqHash})
	case frameResponse:
		respHash := hashID(id)
		n.pendingMu.Lock()
		_, known := n.pendingOutbound[id]
		if known {
			delete(n.pendingOutbound, id)
		}
		n.pendingMu.Unlock()
		if !known {
			n.logger.Warn().Uint64("id", id).Msg("response received for unknown outbound request")
		}
		n.emit(Event{Kind: EventResponse, Data: payload, OutboundReqID: &respHash})
	default:
		n.logger.Warn().Int("kind", int(kind)).Msg("unknown frame kind")
	}
}

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func (n *Node) nextReqID() uint64 {
	n.reqMu.Lock()
	defer n.reqMu.Unlock()
	n.reqCounter++
	return n.reqCounter
}

func (n *Node) lookupPeer(peerID string) (peer.AddrInfo, error) {
	n.peerMu.RLock()
	defer n.peerMu.RUnlock()
	info, ok := n.peers[peerID]
	if !ok {
		return peer.AddrInfo{}, fmt.Errorf("unknown peer %s", peerID)
	}
	return info, nil
}

func (n *Node) resolvePeerInfo(multiaddr, peerID string) (peer.AddrInfo, error) {
	id, err := peer.Decode(peerID)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid peer id %q: %w", peerID, err)
	}

	addr := strings.TrimSpace(multiaddr)
	if addr == "" {
		return peer.AddrInfo{}, fmt.Errorf("empty multiaddr for peer %s", peerID)
	}
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}

	if _, err := maddr.ValueForProtocol(ma.P_P2P); err == nil {
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return peer.AddrInfo{}, fmt.Errorf("failed to parse p2p multiaddr: %w", err)
		}
		if info.ID != id {
			return peer.AddrInfo{}, fmt.Errorf("multiaddr peer mismatch: expected %s got %s", id, info.ID)
		}
		return *info, nil
	}

	return peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{maddr}}, nil
}

func loadIdentity(base64Key string) (crypto.PrivKey, error) {
	if base64Key == "" {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		return priv, err
	}
	raw, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 private key: %w", err)
	}
	return crypto.UnmarshalPrivateKey(raw)
}

// DiscardLogger returns a logger that swallows output, used by tests that
// want a Node without console noise.
func DiscardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
