package ledger

import (
	"math/big"
	"testing"

	"ledger_operator/internal/models"

	"github.com/stretchr/testify/require"
)

const (
	addrA = "0x2f428050ea2448ed2e4409be47e1a50ebac0b2d2"
	addrB = "0xb3428050ea2448ed2e4409be47e1a50ebac0b2d2"
	addrC = "0x5ffe8050112448ed2e4409be47e1a50ebac0b299"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := FromState([]models.BalanceEntry{
		{Address: addrA, Earnings: "50"},
		{Address: addrB, Earnings: "20"},
	}, "")
	require.NoError(t, err)
	return l
}

func TestLedger_AddMember(t *testing.T) {
	t.Parallel()

	t.Run("appends new member with zero earnings", func(t *testing.T) {
		t.Parallel()

		l := testLedger(t)
		require.True(t, l.AddMember(addrC, 0))
		require.Equal(t, []models.BalanceEntry{
			{Address: addrA, Earnings: "50", Weight: 1},
			{Address: addrB, Earnings: "20", Weight: 1},
			{Address: addrC, Earnings: "0", Weight: 1},
		}, l.Balances())
	})

	t.Run("existing member is a no-op", func(t *testing.T) {
		t.Parallel()

		l := testLedger(t)
		before := l.Balances()
		require.False(t, l.AddMember(addrA, 5))
		require.False(t, l.AddMember("0x2F428050EA2448ED2E4409BE47E1A50EBAC0B2D2", 1))
		require.Equal(t, before, l.Balances())
	})

	t.Run("rejoin starts from zero", func(t *testing.T) {
		t.Parallel()

		l := testLedger(t)
		require.True(t, l.RemoveMember(addrA))
		require.True(t, l.AddMember(addrA, 1))
		m, ok := l.Member(addrA)
		require.True(t, ok)
		require.Equal(t, "0", m.Earnings.String())
		require.Equal(t, addrA, l.Balances()[1].Address)
	})
}

func TestLedger_RemoveMember(t *testing.T) {
	t.Parallel()

	t.Run("removes member and keeps order", func(t *testing.T) {
		t.Parallel()

		l := testLedger(t)
		l.AddMember(addrC, 1)
		require.True(t, l.RemoveMember(addrA))
		require.Equal(t, []models.BalanceEntry{
			{Address: addrB, Earnings: "20", Weight: 1},
			{Address: addrC, Earnings: "0", Weight: 1},
		}, l.Balances())

		m, ok := l.Member(addrC)
		require.True(t, ok)
		require.Equal(t, addrC, m.Address)
	})

	t.Run("absent member is a no-op", func(t *testing.T) {
		t.Parallel()

		l := testLedger(t)
		before := l.Balances()
		require.False(t, l.RemoveMember(addrC))
		require.Equal(t, before, l.Balances())
	})
}

func TestLedger_Distribute(t *testing.T) {
	t.Parallel()

	t.Run("equal weights split evenly", func(t *testing.T) {
		t.Parallel()

		l := testLedger(t)
		require.NoError(t, l.Distribute(big.NewInt(100)))
		require.Equal(t, []models.BalanceEntry{
			{Address: addrA, Earnings: "100", Weight: 1},
			{Address: addrB, Earnings: "70", Weight: 1},
		}, l.Balances())
	})

	t.Run("remainder goes to first member", func(t *testing.T) {
		t.Parallel()

		l := New()
		l.AddMember(addrA, 1)
		l.AddMember(addrB, 1)
		l.AddMember(addrC, 1)
		require.NoError(t, l.Distribute(big.NewInt(11)))

		a, _ := l.Member(addrA)
		b, _ := l.Member(addrB)
		c, _ := l.Member(addrC)
		require.Equal(t, "5", a.Earnings.String())
		require.Equal(t, "3", b.Earnings.String())
		require.Equal(t, "3", c.Earnings.String())
	})

	t.Run("weights are proportional", func(t *testing.T) {
		t.Parallel()

		l := New()
		l.AddMember(addrA, 1)
		l.AddMember(addrB, 3)
		require.NoError(t, l.Distribute(big.NewInt(400)))

		a, _ := l.Member(addrA)
		b, _ := l.Member(addrB)
		require.Equal(t, "100", a.Earnings.String())
		require.Equal(t, "300", b.Earnings.String())
	})

	t.Run("conserves amount", func(t *testing.T) {
		t.Parallel()

		l := New()
		l.AddMember(addrA, 7)
		l.AddMember(addrB, 3)
		l.AddMember(addrC, 11)
		for _, amount := range []int64{0, 1, 2, 20, 21, 999, 1_000_003} {
			before := l.TotalEarnings()
			require.NoError(t, l.Distribute(big.NewInt(amount)))
			gained := new(big.Int).Sub(l.TotalEarnings(), before)
			require.Equal(t, big.NewInt(amount).String(), gained.String())
		}
	})

	t.Run("no members is rejected", func(t *testing.T) {
		t.Parallel()

		l := New()
		err := l.Distribute(big.NewInt(10))
		require.ErrorIs(t, err, ErrNoMembers)
		require.ErrorIs(t, err, ErrDistribution)
		require.Empty(t, l.Balances())
	})

	t.Run("negative amount is rejected and ledger unchanged", func(t *testing.T) {
		t.Parallel()

		l := testLedger(t)
		before := l.Balances()
		require.ErrorIs(t, l.Distribute(big.NewInt(-1)), ErrNegativeAmount)
		require.Equal(t, before, l.Balances())
	})
}

func TestLedger_DistributeOrHold(t *testing.T) {
	t.Parallel()

	l := New()
	held, err := l.DistributeOrHold(big.NewInt(30))
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, "30", l.Unallocated().String())

	l.AddMember(addrA, 1)
	l.AddMember(addrB, 1)
	held, err = l.DistributeOrHold(big.NewInt(11))
	require.NoError(t, err)
	require.False(t, held)
	require.Equal(t, "0", l.Unallocated().String())
	require.Equal(t, "41", l.TotalEarnings().String())

	a, _ := l.Member(addrA)
	require.Equal(t, "21", a.Earnings.String())
}

func TestLedger_Clone(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	c := l.Clone()
	require.NoError(t, c.Distribute(big.NewInt(10)))
	c.AddMember(addrC, 1)

	require.Equal(t, "70", l.TotalEarnings().String())
	require.Equal(t, 2, l.Len())
	require.Equal(t, 3, c.Len())
}

func TestFromState(t *testing.T) {
	t.Parallel()

	t.Run("rejects duplicates", func(t *testing.T) {
		t.Parallel()

		_, err := FromState([]models.BalanceEntry{
			{Address: addrA, Earnings: "1"},
			{Address: "0x2F428050EA2448ED2E4409BE47E1A50EBAC0B2D2", Earnings: "1"},
		}, "0")
		require.Error(t, err)
	})

	t.Run("rejects bad earnings", func(t *testing.T) {
		t.Parallel()

		_, err := FromState([]models.BalanceEntry{{Address: addrA, Earnings: "-3"}}, "0")
		require.Error(t, err)
		_, err = FromState([]models.BalanceEntry{{Address: addrA, Earnings: "x"}}, "0")
		require.Error(t, err)
	})

	t.Run("restores held amount and weights", func(t *testing.T) {
		t.Parallel()

		l, err := FromState([]models.BalanceEntry{{Address: addrA, Earnings: "1", Weight: 4}}, "17")
		require.NoError(t, err)
		require.Equal(t, "17", l.Unallocated().String())
		m, _ := l.Member(addrA)
		require.Equal(t, uint64(4), m.Weight)
	})
}
