package p2pnet

import "time"

// Config controls the libp2p swarm a node runs its tx protocol over.
type Config struct {
	// ListenAddrs is the list of multiaddrs to bind to. Defaults to /ip4/0.0.0.0/tcp/0.
	ListenAddrs []string
	// ProtocolID is the stream protocol carrying TxStateMachine frames.
	// Defaults to /vane/tx/1.0.0.
	ProtocolID string
	// PrivateKeyBase64 optionally contains a base64-encoded libp2p private
	// key. If empty, a fresh Ed25519 keypair is generated on New.
	PrivateKeyBase64 string
	// DialTimeout bounds outbound dial operations.
	DialTimeout time.Duration
	// IOTimeout bounds stream read/write operations.
	IOTimeout time.Duration
	// MDNSServiceTag is the local-network discovery service tag used by
	// the mdns notifee. Defaults to "vane-node".
	MDNSServiceTag string
	// DeclaredAccounts are this node's own account addresses, announced to
	// the remote directory together with the listen multiaddr whenever a
	// new peer is observed via discovery.
	DeclaredAccounts []string
}

func (c *Config) setDefaults() {
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	if c.ProtocolID == "" {
		c.ProtocolID = "/vane/tx/1.0.0"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = 30 * time.Second
	}
	if c.MDNSServiceTag == "" {
		c.MDNSServiceTag = "vane-node"
	}
}
