package services

import (
	"context"
	"errors"
	"log/slog"

	"ledger_operator/internal/metrics"
	"ledger_operator/internal/models"
	"ledger_operator/internal/repository"

	"github.com/jonboulle/clockwork"
)

// Checkpointer persists full-state checkpoints and per-block snapshots.
type Checkpointer struct {
	log              *slog.Logger
	store            repository.LedgerRepository
	clock            clockwork.Clock
	snapshotInterval uint64
	retry            retryPolicy
}

func NewCheckpointer(log *slog.Logger, store repository.LedgerRepository, clock clockwork.Clock, snapshotInterval uint64, policy retryPolicy) *Checkpointer {
	return &Checkpointer{
		log:              log,
		store:            store,
		clock:            clock,
		snapshotInterval: snapshotInterval,
		retry:            policy,
	}
}

// LoadState returns nil without error when the store holds no checkpoint.
func (c *Checkpointer) LoadState(ctx context.Context) (*models.LedgerState, error) {
	state, err := retry(ctx, c.retry, "load state", func() (*models.LedgerState, error) {
		return c.store.LoadState(ctx)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load state", err)
	}
	return state, nil
}

func (c *Checkpointer) SaveState(ctx context.Context, state models.LedgerState) error {
	start := c.clock.Now()
	state.SavedAt = start.UTC()
	_, err := retry(ctx, c.retry, "save state", func() (struct{}, error) {
		return struct{}{}, c.store.SaveState(ctx, state)
	})
	metrics.CheckpointDuration.WithLabelValues("state").Observe(c.clock.Since(start).Seconds())
	if err != nil {
		metrics.CheckpointsTotal.WithLabelValues("state", "error").Inc()
		return unavailable("save state", err)
	}
	metrics.CheckpointsTotal.WithLabelValues("state", "success").Inc()
	c.log.Info("state saved", "root_chain_block", state.RootChainBlock, "members", len(state.Balances))
	return nil
}

func (c *Checkpointer) LoadBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error) {
	snapshot, err := retry(ctx, c.retry, "load block", func() (*models.BlockSnapshot, error) {
		return c.store.LoadBlock(ctx, blockNumber)
	})
	if err != nil {
		return nil, unavailable("load block", err)
	}
	return snapshot, nil
}

func (c *Checkpointer) BlockExists(ctx context.Context, blockNumber uint64) (bool, error) {
	exists, err := retry(ctx, c.retry, "block exists", func() (bool, error) {
		return c.store.BlockExists(ctx, blockNumber)
	})
	if err != nil {
		return false, unavailable("block exists", err)
	}
	return exists, nil
}

// ShouldSnapshot reports whether blockNumber falls on the snapshot interval.
func (c *Checkpointer) ShouldSnapshot(blockNumber uint64) bool {
	return c.snapshotInterval > 0 && blockNumber%c.snapshotInterval == 0
}

func (c *Checkpointer) Snapshot(blockNumber uint64, balances []models.BalanceEntry) models.BlockSnapshot {
	return models.BlockSnapshot{
		BlockNumber: blockNumber,
		Balances:    balances,
		CreatedAt:   c.clock.Now().UTC(),
	}
}

func (c *Checkpointer) SaveBlock(ctx context.Context, blockNumber uint64, balances []models.BalanceEntry) error {
	return c.SaveBlocks(ctx, []models.BlockSnapshot{c.Snapshot(blockNumber, balances)})
}

// SaveBlocks writes the snapshots whose block is not committed yet.
func (c *Checkpointer) SaveBlocks(ctx context.Context, snapshots []models.BlockSnapshot) error {
	pending := make([]models.BlockSnapshot, 0, len(snapshots))
	for _, snapshot := range snapshots {
		exists, err := c.BlockExists(ctx, snapshot.BlockNumber)
		if err != nil {
			return err
		}
		if exists {
			c.log.Debug("block already committed", "block", snapshot.BlockNumber)
			continue
		}
		pending = append(pending, snapshot)
	}
	if len(pending) == 0 {
		return nil
	}

	start := c.clock.Now()
	_, err := retry(ctx, c.retry, "save blocks", func() (struct{}, error) {
		return struct{}{}, c.store.SaveBlocks(ctx, pending)
	})
	metrics.CheckpointDuration.WithLabelValues("block").Observe(c.clock.Since(start).Seconds())
	if err != nil {
		metrics.CheckpointsTotal.WithLabelValues("block", "error").Add(float64(len(pending)))
		return unavailable("save blocks", err)
	}
	metrics.CheckpointsTotal.WithLabelValues("block", "success").Add(float64(len(pending)))
	c.log.Debug("block snapshots saved", "count", len(pending), "last", pending[len(pending)-1].BlockNumber)
	return nil
}
