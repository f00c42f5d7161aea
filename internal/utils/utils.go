package utils

import (
	"log/slog"
	"math/big"

	"github.com/robfig/cron/v3"
)

// FormatUnits renders a base-unit token amount with the given number of decimals.
// It is for log output only; ledger arithmetic never leaves big.Int.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value := new(big.Float).SetInt(amount)
	value.Quo(value, scale)
	return value.Text('f', 6)
}

func PrintNextExecution(log *slog.Logger, c *cron.Cron) {
	entries := c.Entries()
	if len(entries) > 0 {
		log.Info("next cron execution scheduled", "at", entries[0].Next)
	}
}
