// Package store provides the embedded relational persistence layer: saved
// peer records (the local tier of the peer directory resolver) and the
// append-only transaction history written on terminal outcomes.
package store

// SavedPeer is a locally cached peer directory entry, written through from
// the remote directory on first successful resolution.
type SavedPeer struct {
	AccountID string `gorm:"column:account_id;primaryKey"`
	PeerID    string `gorm:"column:peer_id"`
	MultiAddr string `gorm:"column:multi_addr"`
}

func (SavedPeer) TableName() string { return "saved_peers" }

// TxHistory is an append-only record of a terminal transaction outcome.
type TxHistory struct {
	ID      uint   `gorm:"column:id;primaryKey;autoIncrement"`
	TxHash  []byte `gorm:"column:tx_hash"`
	Amount  string `gorm:"column:amount"` // big.Int decimal string; u128 overflows int64/uint64.
	Network uint8  `gorm:"column:network"`
	Success bool   `gorm:"column:success"`
}

func (TxHistory) TableName() string { return "tx_history" }
