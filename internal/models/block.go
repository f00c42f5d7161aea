package models

import "time"

// BlockSnapshot is the balance list as of the end of BlockNumber. Written once, never updated.
type BlockSnapshot struct {
	BlockNumber uint64         `bson:"blockNumber" json:"blockNumber"`
	Balances    []BalanceEntry `bson:"balances" json:"balances"`
	CreatedAt   time.Time      `bson:"createdAt" json:"createdAt"`
}
