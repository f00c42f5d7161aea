package repository

import (
	"context"
	"fmt"

	"ledger_operator/internal/models"
)

// LedgerRepository is the checkpoint store the operator talks to.
type LedgerRepository interface {
	LoadState(ctx context.Context) (*models.LedgerState, error)
	SaveState(ctx context.Context, state models.LedgerState) error
	LoadBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error)
	SaveBlock(ctx context.Context, snapshot models.BlockSnapshot) error
	SaveBlocks(ctx context.Context, snapshots []models.BlockSnapshot) error
	BlockExists(ctx context.Context, blockNumber uint64) (bool, error)
}

type ledgerRepository struct {
	dbRepository DbRepository
}

func NewLedgerRepository(dbRepository DbRepository) LedgerRepository {
	return &ledgerRepository{
		dbRepository: dbRepository,
	}
}

// LoadState returns ErrNotFound when nothing has been checkpointed yet.
func (r *ledgerRepository) LoadState(ctx context.Context) (*models.LedgerState, error) {
	return r.dbRepository.FindState(ctx)
}

func (r *ledgerRepository) SaveState(ctx context.Context, state models.LedgerState) error {
	if err := r.dbRepository.ReplaceState(ctx, state); err != nil {
		return fmt.Errorf("failed to save state at block %d: %w", state.RootChainBlock, err)
	}
	return nil
}

func (r *ledgerRepository) LoadBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error) {
	return r.dbRepository.FindBlock(ctx, blockNumber)
}

func (r *ledgerRepository) SaveBlock(ctx context.Context, snapshot models.BlockSnapshot) error {
	return r.SaveBlocks(ctx, []models.BlockSnapshot{snapshot})
}

func (r *ledgerRepository) SaveBlocks(ctx context.Context, snapshots []models.BlockSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return r.dbRepository.InsertBlocks(ctx, snapshots)
}

func (r *ledgerRepository) BlockExists(ctx context.Context, blockNumber uint64) (bool, error) {
	count, err := r.dbRepository.CountBlocks(ctx, blockNumber)
	if err != nil {
		return false, fmt.Errorf("failed to check block %d: %w", blockNumber, err)
	}
	return count > 0, nil
}
