package services

import (
	"context"
	"fmt"

	"ledger_operator/internal/metrics"
	"ledger_operator/internal/models"
	"ledger_operator/internal/utils"
)

// applyTransfer handles a live Transfer. The event itself is never credited; it triggers
// playback through its block, capped at the confirmed head.
func (o *Operator) applyTransfer(ctx context.Context, ev models.TransferEvent) error {
	if o.cursor.Covers(ev.Position()) {
		metrics.DuplicateEventsTotal.Inc()
		o.log.Debug("transfer already applied", "block", ev.BlockNumber, "index", ev.LogIndex)
		return nil
	}

	next := o.cursor.NextBlock()
	target := ev.BlockNumber
	if o.cfg.Confirmations > 0 {
		confirmed, ok, err := o.confirmedHead(ctx)
		if err != nil {
			return err
		}
		if !ok || confirmed < next {
			o.log.Debug("transfer not confirmed yet", "block", ev.BlockNumber, "index", ev.LogIndex, "confirmations", o.cfg.Confirmations)
			return nil
		}
		target = min(target, confirmed)
	}

	if err := o.playback(ctx, next, target); err != nil {
		return fmt.Errorf("failed to play back blocks %d-%d: %w", next, target, err)
	}
	return nil
}

func (o *Operator) applyCommand(ctx context.Context, cmd models.Command) error {
	o.setPhase(PhaseMutating)
	kind := string(cmd.Kind())

	switch c := cmd.(type) {
	case models.Join:
		added := 0
		for _, address := range c.Addresses {
			if o.ledger.AddMember(address, c.Weight) {
				added++
			}
		}
		o.log.Info("members joined", "requested", len(c.Addresses), "added", added, "members", o.ledger.Len())
	case models.Part:
		removed := 0
		for _, address := range c.Addresses {
			if o.ledger.RemoveMember(address) {
				removed++
			}
		}
		o.log.Info("members parted", "requested", len(c.Addresses), "removed", removed, "members", o.ledger.Len())
	case models.Revenue:
		if err := o.ledger.Distribute(c.Amount); err != nil {
			metrics.CommandsTotal.WithLabelValues(kind, "rejected").Inc()
			return fmt.Errorf("revenue of %s rejected: %w", c.Amount, err)
		}
		o.log.Info("revenue distributed", "amount", utils.FormatUnits(c.Amount, o.cfg.TokenDecimals), "members", o.ledger.Len())
	default:
		metrics.CommandsTotal.WithLabelValues(kind, "rejected").Inc()
		return fmt.Errorf("%w: unsupported command %T", models.ErrInvalidCommand, cmd)
	}

	metrics.CommandsTotal.WithLabelValues(kind, "applied").Inc()
	return nil
}
