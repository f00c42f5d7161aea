package processors

import (
	"context"
	"fmt"
	"log/slog"

	"ledger_operator/internal/config"
	"ledger_operator/internal/models"
	"ledger_operator/internal/repository"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Processor turns token Transfer logs into the ledger's revenue events.
type Processor struct {
	ethereumRepository repository.EthereumRepository
	eventProcessor     *EventProcessor
	config             *config.Config
	log                *slog.Logger
}

func NewProcessor(ethereumRepo repository.EthereumRepository, config *config.Config, log *slog.Logger) *Processor {
	return &Processor{
		ethereumRepository: ethereumRepo,
		eventProcessor:     NewEventProcessor(config),
		config:             config,
		log:                log,
	}
}

func (p *Processor) GetLatestBlock(ctx context.Context) (uint64, error) {
	return p.ethereumRepository.GetLatestBlock(ctx)
}

func (p *Processor) GetTransferEvents(ctx context.Context, startBlock, endBlock uint64) ([]models.TransferEvent, error) {
	p.log.Debug("fetching transfer logs", "from", startBlock, "to", endBlock)
	addresses, topics := p.filter()
	logs, err := p.ethereumRepository.FetchContractLogs(ctx, startBlock, endBlock, addresses, topics)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contract logs: %w", err)
	}
	events, err := p.eventProcessor.ProcessEvents(logs)
	if err != nil {
		return nil, err
	}
	p.log.Debug("fetched transfer events", "from", startBlock, "to", endBlock, "logs", len(logs), "events", len(events))
	return events, nil
}

// SubscribeTransferEvents forwards live Transfer events into sink until the subscription ends.
func (p *Processor) SubscribeTransferEvents(ctx context.Context, sink chan<- models.TransferEvent) (ethereum.Subscription, error) {
	addresses, topics := p.filter()
	logs := make(chan types.Log, 64)
	logSub, err := p.ethereumRepository.SubscribeContractLogs(ctx, addresses, topics, logs)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer logSub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					p.log.Warn("ignoring removed log", "block", l.BlockNumber, "index", l.Index, "tx", l.TxHash.Hex())
					continue
				}
				transfer, err := p.eventProcessor.ProcessEvent(l)
				if err != nil {
					p.log.Warn("ignoring undecodable log", "block", l.BlockNumber, "index", l.Index, "error", err)
					continue
				}
				select {
				case sink <- transfer:
				case <-quit:
					return nil
				}
			case err := <-logSub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// filter matches Transfer(*, ledger contract, *) on the token.
func (p *Processor) filter() ([]common.Address, [][]common.Hash) {
	transferID := p.config.Contracts.Token.ABI.Events[transferEventName].ID
	to := common.BytesToHash(p.config.Contracts.Ledger.Bytes())
	return []common.Address{p.config.Contracts.Token.Address}, [][]common.Hash{{transferID}, nil, {to}}
}
