// Package config reads the environment-driven settings a node needs at
// startup: RPC listen port, local store path, remote directory endpoint,
// and the chain RPC URLs used for broadcast.
package config

import (
	"os"
	"strconv"
)

// Config is the resolved set of environment-derived settings for one node.
type Config struct {
	// RPCPort is the JSON-RPC listen port. Zero means "pick a random
	// port".
	RPCPort uint16

	// DBPath is where the embedded SQLite store lives. ":memory:" is used
	// in test mode; production defaults to "db/dev.db".
	DBPath string

	// DirectoryBaseURL and DirectoryToken configure the remote peer
	// directory HTTP client.
	DirectoryBaseURL string
	DirectoryToken   string

	// EthRPCURL / BnbRPCURL are the chain RPC endpoints used for
	// broadcasting signed transactions.
	EthRPCURL string
	BnbRPCURL string

	// BnbChainID defaults to 56 (mainnet); exposed as config rather than
	// auto-detected so testnet use is explicit.
	BnbChainID int64
}

const (
	defaultDBPath    = "db/dev.db"
	defaultBnbChain  = 56
	defaultEthRPCURL = "https://ethereum-rpc.publicnode.com"
	defaultBnbRPCURL = "https://bsc-dataseed.binance.org"
)

// FromEnv builds a Config from the VANE_* process environment variables.
func FromEnv() Config {
	cfg := Config{
		DBPath:           defaultDBPath,
		DirectoryBaseURL: os.Getenv("VANE_DIRECTORY_URL"),
		DirectoryToken:   os.Getenv("VANE_DIRECTORY_TOKEN"),
		EthRPCURL:        defaultEthRPCURL,
		BnbRPCURL:        defaultBnbRPCURL,
		BnbChainID:       defaultBnbChain,
	}

	if v := os.Getenv("VANE_RPC_PORT"); v != "" {
		if port, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.RPCPort = uint16(port)
		}
	}
	if v := os.Getenv("VANE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VANE_ETH_RPC_URL"); v != "" {
		cfg.EthRPCURL = v
	}
	if v := os.Getenv("VANE_BNB_RPC_URL"); v != "" {
		cfg.BnbRPCURL = v
	}
	if v := os.Getenv("VANE_BNB_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BnbChainID = id
		}
	}

	return cfg
}

// TestConfig returns a Config suitable for in-memory, ephemeral-port test
// runs: no directory URL, in-memory SQLite, random RPC port.
func TestConfig() Config {
	cfg := FromEnv()
	cfg.DBPath = ":memory:"
	cfg.RPCPort = 0
	cfg.DirectoryBaseURL = ""
	return cfg
}
