package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func sharesToStrings(shares []*big.Int) []string {
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = s.String()
	}
	return out
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		amount  int64
		weights []uint64
		want    []string
	}{
		{name: "even", amount: 100, weights: []uint64{1, 1}, want: []string{"50", "50"}},
		{name: "remainder to first", amount: 10, weights: []uint64{1, 1, 1}, want: []string{"4", "3", "3"}},
		{name: "smaller than member count", amount: 2, weights: []uint64{1, 1, 1}, want: []string{"2", "0", "0"}},
		{name: "weighted with dust", amount: 10, weights: []uint64{2, 1}, want: []string{"7", "3"}},
		{name: "zero", amount: 0, weights: []uint64{1, 5}, want: []string{"0", "0"}},
		{name: "single", amount: 9, weights: []uint64{3}, want: []string{"9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, sharesToStrings(Split(big.NewInt(tt.amount), tt.weights)))
		})
	}
}

func TestSplit_LargeAmount(t *testing.T) {
	t.Parallel()

	amount, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	shares := Split(amount, []uint64{1, 2, 3, 4})

	sum := new(big.Int)
	for _, s := range shares {
		sum.Add(sum, s)
	}
	require.Equal(t, amount.String(), sum.String())
}
