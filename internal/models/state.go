package models

import "time"

// EventPosition orders chain events by block, then by log index within the block.
type EventPosition struct {
	BlockNumber uint64 `bson:"blockNumber" json:"blockNumber"`
	LogIndex    uint   `bson:"logIndex" json:"logIndex"`
}

func (p EventPosition) After(other EventPosition) bool {
	if p.BlockNumber != other.BlockNumber {
		return p.BlockNumber > other.BlockNumber
	}
	return p.LogIndex > other.LogIndex
}

type LedgerState struct {
	ContractAddress string `bson:"contractAddress" json:"contractAddress"`
	// RootChainBlock is the last block whose events are all reflected in Balances.
	RootChainBlock int64          `bson:"rootChainBlock" json:"rootChainBlock"`
	Unallocated    string         `bson:"unallocated" json:"unallocated"`
	Balances       []BalanceEntry `bson:"balances" json:"balances"`
	SavedAt        time.Time      `bson:"savedAt" json:"savedAt"`
}

func GenesisState(contractAddress string, startBlock uint64) LedgerState {
	return LedgerState{
		ContractAddress: contractAddress,
		RootChainBlock:  int64(startBlock) - 1,
		Unallocated:     "0",
		Balances:        []BalanceEntry{},
	}
}

// Covers reports whether the event at pos is already reflected in the state.
func (s LedgerState) Covers(pos EventPosition) bool {
	return int64(pos.BlockNumber) <= s.RootChainBlock
}

// NextBlock is the first block playback still has to look at.
func (s LedgerState) NextBlock() uint64 {
	return uint64(s.RootChainBlock + 1)
}

func (s LedgerState) Copy() LedgerState {
	out := s
	out.Balances = CopyBalances(s.Balances)
	return out
}
