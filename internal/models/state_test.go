package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerState_Covers(t *testing.T) {
	t.Parallel()

	state := LedgerState{RootChainBlock: 5}
	require.True(t, state.Covers(EventPosition{BlockNumber: 5, LogIndex: 99}))
	require.False(t, state.Covers(EventPosition{BlockNumber: 6, LogIndex: 0}))
	require.False(t, state.Covers(EventPosition{BlockNumber: 7, LogIndex: 0}))
}

func TestEventPosition_After(t *testing.T) {
	t.Parallel()

	require.True(t, EventPosition{BlockNumber: 6, LogIndex: 0}.After(EventPosition{BlockNumber: 5, LogIndex: 9}))
	require.True(t, EventPosition{BlockNumber: 6, LogIndex: 4}.After(EventPosition{BlockNumber: 6, LogIndex: 3}))
	require.False(t, EventPosition{BlockNumber: 6, LogIndex: 3}.After(EventPosition{BlockNumber: 6, LogIndex: 3}))
}

func TestGenesisState(t *testing.T) {
	t.Parallel()

	state := GenesisState("0xabc", 0)
	require.Equal(t, int64(-1), state.RootChainBlock)
	require.Equal(t, uint64(0), state.NextBlock())
	require.Empty(t, state.Balances)

	state = GenesisState("0xabc", 100)
	require.Equal(t, int64(99), state.RootChainBlock)
	require.Equal(t, uint64(100), state.NextBlock())
}

func TestLedgerState_CopyIsIndependent(t *testing.T) {
	t.Parallel()

	state := LedgerState{
		Balances: []BalanceEntry{{Address: "a", Earnings: "1", Weight: 1}},
	}
	cp := state.Copy()
	cp.Balances[0].Earnings = "2"
	require.Equal(t, "1", state.Balances[0].Earnings)
}
