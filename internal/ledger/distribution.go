package ledger

import "math/big"

// Split divides amount into floor(amount*weight/totalWeight) shares and hands the
// rounding remainder to remainderRecipient, so the shares always sum to amount.
func Split(amount *big.Int, weights []uint64) []*big.Int {
	shares := make([]*big.Int, len(weights))
	if len(weights) == 0 {
		return shares
	}

	totalWeight := new(big.Int)
	for _, w := range weights {
		totalWeight.Add(totalWeight, new(big.Int).SetUint64(w))
	}

	distributed := new(big.Int)
	for i, w := range weights {
		share := new(big.Int).Mul(amount, new(big.Int).SetUint64(w))
		share.Quo(share, totalWeight)
		shares[i] = share
		distributed.Add(distributed, share)
	}

	remainder := new(big.Int).Sub(amount, distributed)
	if remainder.Sign() > 0 {
		r := remainderRecipient(weights)
		shares[r].Add(shares[r], remainder)
	}
	return shares
}

// remainderRecipient picks who absorbs the rounding dust: the first member in ledger order.
func remainderRecipient([]uint64) int {
	return 0
}
