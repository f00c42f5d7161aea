package models

// BalanceEntry is the persisted form of one ledger member. Earnings is a base-10 integer string.
type BalanceEntry struct {
	Address  string `bson:"address" json:"address"`
	Earnings string `bson:"earnings" json:"earnings"`
	Weight   uint64 `bson:"weight" json:"weight"`
}

func CopyBalances(balances []BalanceEntry) []BalanceEntry {
	if balances == nil {
		return nil
	}
	out := make([]BalanceEntry, len(balances))
	copy(out, balances)
	return out
}
