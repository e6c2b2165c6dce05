// Command vane-node runs a single sender/receiver coordination node: the
// RPC boundary, the orchestrator and the p2p swarm, wired together from
// the VANE_* environment variables read by internal/config.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/vane-network/vane-node/internal/chainproc"
	"github.com/vane-network/vane-node/internal/config"
	"github.com/vane-network/vane-node/internal/directory"
	"github.com/vane-network/vane-node/internal/orchestrator"
	"github.com/vane-network/vane-node/internal/p2pnet"
	"github.com/vane-network/vane-node/internal/rpcserver"
	"github.com/vane-network/vane-node/internal/store"
	"github.com/vane-network/vane-node/internal/txstate"
	"github.com/vane-network/vane-node/internal/vanelog"
)

// channelCapacity is the fixed bound on every inter-task channel.
const channelCapacity = 10

func main() {
	logger := vanelog.For("main")
	cfg := config.FromEnv()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("vane-node exited with error")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}

	remote := directory.NewRemoteClient(cfg.DirectoryBaseURL, cfg.DirectoryToken)
	resolver := directory.NewResolver(db, remote)

	swarm, err := p2pnet.New(p2pnet.Config{}, vanelog.For("p2pnet"))
	if err != nil {
		return fmt.Errorf("failed to start p2p swarm: %w", err)
	}
	defer swarm.Close()
	swarm.SetAnnouncer(resolver)

	clients, closeClients, err := dialChainClients(cfg)
	if err != nil {
		return fmt.Errorf("failed to dial chain RPC endpoints: %w", err)
	}
	defer closeClients()

	rpcIn := make(chan *txstate.TxStateMachine, channelCapacity)
	rpcOut := make(chan *txstate.TxStateMachine, channelCapacity)

	orch := orchestrator.New(resolver, swarm, db, clients, cfg.BnbChainID, rpcIn, rpcOut, swarm.Events())

	svc := rpcserver.NewService(rpcIn)
	addr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcSrv, err := rpcserver.New(addr, svc)
	if err != nil {
		return fmt.Errorf("failed to start RPC server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go orch.Run(ctx)
	go svc.Run(ctx, rpcOut)

	serveErr := make(chan error, 1)
	go func() { serveErr <- rpcSrv.Serve() }()

	logger.Info().Str("addr", rpcSrv.Addr().String()).Msg("vane-node started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("RPC server stopped unexpectedly")
		}
	}

	return rpcSrv.Close()
}

// dialChainClients builds the per-network chainproc.ChainClient set from
// cfg's RPC URLs. Solana and Polkadot have no client wired: chainproc
// rejects both before any client would be used (construct.go, broadcast.go).
func dialChainClients(cfg config.Config) (map[txstate.ChainSupported]chainproc.ChainClient, func(), error) {
	clients := make(map[txstate.ChainSupported]chainproc.ChainClient)
	var closers []func()

	if cfg.EthRPCURL != "" {
		c, err := ethclient.Dial(cfg.EthRPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial ethereum RPC %s: %w", cfg.EthRPCURL, err)
		}
		clients[txstate.Ethereum] = c
		closers = append(closers, c.Close)
	}
	if cfg.BnbRPCURL != "" {
		c, err := ethclient.Dial(cfg.BnbRPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial bnb RPC %s: %w", cfg.BnbRPCURL, err)
		}
		clients[txstate.Bnb] = c
		closers = append(closers, c.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return clients, closeAll, nil
}
