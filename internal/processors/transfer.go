package processors

import (
	"fmt"
	"math/big"
	"strings"

	"ledger_operator/internal/config"
	"ledger_operator/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const transferEventName = "Transfer"

type EventProcessor struct {
	config *config.Config
}

func NewEventProcessor(config *config.Config) *EventProcessor {
	return &EventProcessor{
		config: config,
	}
}

func (ep *EventProcessor) ProcessEvents(logs []types.Log) ([]models.TransferEvent, error) {
	result := make([]models.TransferEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		transfer, err := ep.ProcessEvent(log)
		if err != nil {
			return nil, err
		}
		result = append(result, transfer)
	}
	return result, nil
}

func (ep *EventProcessor) ProcessEvent(log types.Log) (models.TransferEvent, error) {
	tokenABI := ep.config.Contracts.Token.ABI
	transferEvent, ok := tokenABI.Events[transferEventName]
	if !ok {
		return models.TransferEvent{}, fmt.Errorf("token ABI has no %s event", transferEventName)
	}
	if len(log.Topics) != 3 || log.Topics[0] != transferEvent.ID {
		return models.TransferEvent{}, fmt.Errorf("event not found: block %d index %d", log.BlockNumber, log.Index)
	}
	if log.Address != ep.config.Contracts.Token.Address {
		return models.TransferEvent{}, fmt.Errorf("log from unexpected contract %s", log.Address.Hex())
	}

	decoded, err := tokenABI.Unpack(transferEventName, log.Data)
	if err != nil {
		return models.TransferEvent{}, fmt.Errorf("failed to unpack log data: %w", err)
	}
	if len(decoded) != 1 {
		return models.TransferEvent{}, fmt.Errorf("unexpected Transfer data: %d values", len(decoded))
	}
	amount, ok := decoded[0].(*big.Int)
	if !ok {
		return models.TransferEvent{}, fmt.Errorf("unexpected Transfer value type %T", decoded[0])
	}

	return models.TransferEvent{
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
		TransactionHash: log.TxHash.Hex(),
		From:            strings.ToLower(common.HexToAddress(log.Topics[1].Hex()).Hex()),
		To:              strings.ToLower(common.HexToAddress(log.Topics[2].Hex()).Hex()),
		Amount:          amount,
	}, nil
}
