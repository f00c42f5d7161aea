package repository

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"ledger_operator/internal/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// EthClient is the subset of ethclient.Client the repository needs.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

type EthereumRepository interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
	FetchContractLogs(ctx context.Context, startBlock, endBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	SubscribeContractLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
}

type ethereumRepository struct {
	client EthClient
	config *config.Config
	log    *slog.Logger
}

func NewEthereumRepository(client EthClient, config *config.Config, log *slog.Logger) EthereumRepository {
	return &ethereumRepository{
		client: client,
		config: config,
		log:    log,
	}
}

func (r *ethereumRepository) GetLatestBlock(ctx context.Context) (uint64, error) {
	block, err := r.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch block number: %w", err)
	}
	return block, nil
}

// FetchContractLogs fetches [startBlock, endBlock] in concurrent batches and returns
// the logs sorted by block number and log index.
func (r *ethereumRepository) FetchContractLogs(ctx context.Context, startBlock, endBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	if startBlock > endBlock {
		return nil, nil
	}
	var (
		concurrentBatches = max(r.config.ConcurrentBatches, 1)
		batchSize         = max(r.config.BatchSize, 1)
	)

	var bar *progressbar.ProgressBar
	if endBlock-startBlock+1 > batchSize {
		bar = progressbar.Default(int64(endBlock - startBlock + 1))
		defer bar.Finish()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(concurrentBatches))

	var logs []types.Log
	var logsMu sync.Mutex

	for start := startBlock; start <= endBlock; start += batchSize {
		end := min(start+batchSize-1, endBlock)

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic occurred while fetching logs: %v", r)
				}
			}()

			if ctx.Err() != nil {
				return ctx.Err()
			}
			batch, err := r.fetchLogsBatch(ctx, start, end, addresses, topics)
			if err != nil {
				return err
			}
			logsMu.Lock()
			logs = append(logs, batch...)
			if bar != nil {
				bar.Add(int(end - start + 1))
			}
			logsMu.Unlock()
			return nil
		})
		if end == endBlock {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(logs, func(a, b types.Log) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return logs, nil
}

func (r *ethereumRepository) fetchLogsBatch(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    topics,
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
	}

	operation := func() ([]types.Log, error) {
		return r.client.FilterLogs(ctx, query)
	}
	logs, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(max(r.config.MaxRetries, 1))),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("eth_getLogs failed, retrying", "from", fromBlock, "to", toBlock, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs from %d to %d after %d tries: %w", fromBlock, toBlock, r.config.MaxRetries, err)
	}
	return logs, nil
}

func (r *ethereumRepository) SubscribeContractLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    topics,
	}
	sub, err := r.client.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	return sub, nil
}
