package p2pnet

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// announceTimeout bounds the write-through call to the remote directory
// triggered by a discovery notification; it must never block discovery.
const announceTimeout = 5 * time.Second

// discoveryService wraps the mdns local-network discovery service bound to
// a node's host.
type discoveryService struct {
	svc mdns.Service
}

// notifee implements mdns.Notifee, dialing newly found peers and, for each,
// announcing this node's own accounts and listen address to the remote
// directory via the owning Node's Announcer.
type notifee struct {
	node *Node
}

func (nt *notifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == nt.node.host.ID() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), nt.node.cfg.DialTimeout)
	defer cancel()
	if err := nt.node.host.Connect(ctx, info); err != nil {
		nt.node.logger.Debug().Err(err).Str("peer_id", info.ID.String()).Msg("mdns-discovered peer unreachable")
		return
	}
	nt.node.logger.Info().Str("peer_id", info.ID.String()).Msg("dial success (mdns)")

	nt.node.peerMu.Lock()
	nt.node.peers[info.ID.String()] = info
	nt.node.peerMu.Unlock()

	if nt.node.announcer == nil || len(nt.node.cfg.DeclaredAccounts) == 0 {
		return
	}
	listenAddrs := nt.node.ListenAddrs()
	if len(listenAddrs) == 0 {
		return
	}

	// The announcement carries this node's own identity: its declared
	// accounts and its own listen multiaddr, not the discovered peer's.
	announceCtx, announceCancel := context.WithTimeout(context.Background(), announceTimeout)
	defer announceCancel()
	if err := nt.node.announcer.Announce(announceCtx, nt.node.cfg.DeclaredAccounts, nt.node.ID(), listenAddrs[0]); err != nil {
		nt.node.logger.Warn().Err(err).Str("peer_id", info.ID.String()).Msg("failed to write through peer announcement to remote directory")
	}
}

func startDiscovery(h host.Host, serviceTag string, n *Node) (*discoveryService, error) {
	svc := mdns.NewMdnsService(h, serviceTag, &notifee{node: n})
	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mdns discovery: %w", err)
	}
	return &discoveryService{svc: svc}, nil
}

func (d *discoveryService) Close() {
	if d == nil || d.svc == nil {
		return
	}
	_ = d.svc.Close()
}
