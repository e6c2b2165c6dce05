package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vane-network/vane-node/internal/store"
	"github.com/vane-network/vane-node/internal/vanelog"
)

// ErrPeerNotFound is returned when neither the local store nor the remote
// directory has an entry for the requested account address.
var ErrPeerNotFound = errors.New("peer not found in local or remote directory")

// Record is the resolved peer identity returned by Resolve.
type Record struct {
	PeerID    string
	MultiAddr string
}

// remoteDirectory abstracts RemoteClient so tests can substitute a fake
// directory without an HTTP server.
type remoteDirectory interface {
	ListAll(ctx context.Context) ([]Entry, error)
	Create(ctx context.Context, entry Entry) error
}

// Resolver implements the two-tier account-to-peer lookup: local store
// first, remote directory on miss, with a write-through cache on a remote
// hit. There is no eviction; the local store grows monotonically, and a
// stale multiaddr surfaces as a dial failure at the p2p layer.
type Resolver struct {
	db     *store.DB
	remote remoteDirectory
	logger zerolog.Logger
}

// NewResolver builds a Resolver over the given local store and remote
// directory client.
func NewResolver(db *store.DB, remote remoteDirectory) *Resolver {
	return &Resolver{
		db:     db,
		remote: remote,
		logger: vanelog.For("directory"),
	}
}

// Resolve returns the reachable node identity for an account address. A
// remote hit is written through to the local store, so a repeat resolution
// of the same address performs no remote call.
func (r *Resolver) Resolve(ctx context.Context, accountAddress string) (*Record, error) {
	if peer, err := r.db.GetSavedPeer(accountAddress); err == nil {
		r.logger.Debug().Str("account", accountAddress).Msg("peer resolved from local store")
		return &Record{PeerID: peer.PeerID, MultiAddr: peer.MultiAddr}, nil
	} else if !errors.Is(err, store.ErrPeerNotFound) {
		return nil, fmt.Errorf("local store lookup failed: %w", err)
	}

	entries, err := r.remote.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote directory lookup failed: %w", err)
	}

	for _, entry := range entries {
		for _, acc := range entry.AccountIDs {
			if acc != accountAddress {
				continue
			}
			if err := r.db.RecordSavedPeer(store.SavedPeer{
				AccountID: accountAddress,
				PeerID:    entry.PeerID,
				MultiAddr: entry.MultiAddr,
			}); err != nil {
				return nil, fmt.Errorf("failed to cache resolved peer: %w", err)
			}
			r.logger.Info().Str("account", accountAddress).Msg("peer resolved from remote directory and cached")
			return &Record{PeerID: entry.PeerID, MultiAddr: entry.MultiAddr}, nil
		}
	}

	return nil, ErrPeerNotFound
}

// Announce registers this node's own account addresses and listen
// multiaddr with the remote directory, invoked when swarm gossip observes a
// new peer.
func (r *Resolver) Announce(ctx context.Context, accountAddresses []string, peerID, multiAddr string) error {
	return r.remote.Create(ctx, Entry{
		AccountIDs: accountAddresses,
		PeerID:     peerID,
		MultiAddr:  multiAddr,
	})
}
