package store

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vane-network/vane-node/internal/txstate"
)

const dbDirPermissions = 0o750

var gormConfig = &gorm.Config{
	Logger: logger.Default.LogMode(logger.Silent),
}

var schemaModels = []any{
	&SavedPeer{},
	&TxHistory{},
}

// ErrPeerNotFound is returned by GetSavedPeer when the account has no
// locally cached entry; the caller (the directory resolver) falls through
// to the remote directory on this error.
var ErrPeerNotFound = errors.New("saved peer not found in local store")

// DB wraps a GORM client behind a single mutex. In the fixed lock
// acquisition order this is always taken first, before any p2p or chain
// lock, and never held across a remote call.
type DB struct {
	mu     sync.Mutex
	client *gorm.DB
}

// Open opens (or creates) the SQLite database at path, auto-migrating the
// schema. path may be ":memory:" for an ephemeral test database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
				return nil, fmt.Errorf("failed to create db directory: %w", err)
			}
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := gdb.AutoMigrate(schemaModels...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate schema: %w", err)
	}
	return &DB{client: gdb}, nil
}

// GetSavedPeer looks up a locally cached peer entry by account address.
func (db *DB) GetSavedPeer(accountID string) (*SavedPeer, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var peer SavedPeer
	res := db.client.First(&peer, "account_id = ?", accountID)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrPeerNotFound
	}
	if res.Error != nil {
		return nil, fmt.Errorf("failed to query saved peer: %w", res.Error)
	}
	return &peer, nil
}

// RecordSavedPeer writes through a peer directory entry learned from the
// remote directory.
func (db *DB) RecordSavedPeer(peer SavedPeer) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.client.Save(&peer).Error; err != nil {
		return fmt.Errorf("failed to record saved peer: %w", err)
	}
	return nil
}

// RecordSuccessTx appends a successful terminal transaction outcome.
func (db *DB) RecordSuccessTx(txHash []byte, amount *big.Int, network txstate.ChainSupported) error {
	return db.recordHistory(txHash, amount, network, true)
}

// RecordFailedTx appends a failed terminal transaction outcome. txHash is
// empty for failures that never reach broadcast (signature or multi-id
// failures).
func (db *DB) RecordFailedTx(txHash []byte, amount *big.Int, network txstate.ChainSupported) error {
	return db.recordHistory(txHash, amount, network, false)
}

func (db *DB) recordHistory(txHash []byte, amount *big.Int, network txstate.ChainSupported, success bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	amountStr := "0"
	if amount != nil {
		amountStr = amount.String()
	}

	row := TxHistory{
		TxHash:  txHash,
		Amount:  amountStr,
		Network: uint8(network),
		Success: success,
	}
	if err := db.client.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record tx history: %w", err)
	}
	return nil
}
