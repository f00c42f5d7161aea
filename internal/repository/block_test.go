package repository

import (
	"context"
	"testing"

	"ledger_operator/internal/models"

	"github.com/stretchr/testify/require"
)

type mockDbRepository struct {
	state    *models.LedgerState
	blocks   map[uint64]models.BlockSnapshot
	inserted int
}

func (m *mockDbRepository) Health() error                           { return nil }
func (m *mockDbRepository) Disconnect() error                       { return nil }
func (m *mockDbRepository) EnsureIndexes(ctx context.Context) error { return nil }

func (m *mockDbRepository) FindState(ctx context.Context) (*models.LedgerState, error) {
	if m.state == nil {
		return nil, ErrNotFound
	}
	return m.state, nil
}

func (m *mockDbRepository) ReplaceState(ctx context.Context, state models.LedgerState) error {
	m.state = &state
	return nil
}

func (m *mockDbRepository) FindBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error) {
	snapshot, ok := m.blocks[blockNumber]
	if !ok {
		return nil, ErrNotFound
	}
	return &snapshot, nil
}

func (m *mockDbRepository) InsertBlocks(ctx context.Context, snapshots []models.BlockSnapshot) error {
	m.inserted++
	for _, s := range snapshots {
		if _, ok := m.blocks[s.BlockNumber]; !ok {
			m.blocks[s.BlockNumber] = s
		}
	}
	return nil
}

func (m *mockDbRepository) CountBlocks(ctx context.Context, blockNumber uint64) (int64, error) {
	if _, ok := m.blocks[blockNumber]; ok {
		return 1, nil
	}
	return 0, nil
}

func TestLedgerRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := &mockDbRepository{blocks: make(map[uint64]models.BlockSnapshot)}
	repo := NewLedgerRepository(db)

	_, err := repo.LoadState(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	state := models.LedgerState{ContractAddress: "0xabc", RootChainBlock: 10, Unallocated: "0"}
	require.NoError(t, repo.SaveState(ctx, state))
	loaded, err := repo.LoadState(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), loaded.RootChainBlock)

	exists, err := repo.BlockExists(ctx, 10)
	require.NoError(t, err)
	require.False(t, exists)

	first := models.BlockSnapshot{BlockNumber: 10, Balances: []models.BalanceEntry{{Address: "a", Earnings: "1", Weight: 1}}}
	require.NoError(t, repo.SaveBlock(ctx, first))
	second := models.BlockSnapshot{BlockNumber: 10, Balances: []models.BalanceEntry{{Address: "a", Earnings: "2", Weight: 1}}}
	require.NoError(t, repo.SaveBlock(ctx, second))

	snapshot, err := repo.LoadBlock(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "1", snapshot.Balances[0].Earnings, "snapshots are written once")

	require.NoError(t, repo.SaveBlocks(ctx, nil))
	require.Equal(t, 2, db.inserted)

	_, err = repo.LoadBlock(ctx, 11)
	require.ErrorIs(t, err, ErrNotFound)
}
