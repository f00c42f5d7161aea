package models

import "math/big"

type TransferEvent struct {
	BlockNumber     uint64
	LogIndex        uint
	TransactionHash string
	From            string
	To              string
	Amount          *big.Int
}

func (e TransferEvent) Position() EventPosition {
	return EventPosition{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}
