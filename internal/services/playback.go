package services

import (
	"context"
	"fmt"

	"ledger_operator/internal/ledger"
	"ledger_operator/internal/metrics"
	"ledger_operator/internal/models"
	"ledger_operator/internal/utils"
)

func (o *Operator) sync(ctx context.Context) error {
	head, ok, err := o.confirmedHead(ctx)
	if err != nil || !ok {
		return err
	}
	return o.playback(ctx, o.cursor.NextBlock(), head)
}

// confirmedHead is the newest block at least Confirmations deep. ok is false while the
// chain is shorter than that.
func (o *Operator) confirmedHead(ctx context.Context) (head uint64, ok bool, err error) {
	head, err = o.latestBlock(ctx)
	if err != nil {
		return 0, false, err
	}
	if head < o.cfg.Confirmations {
		return 0, false, nil
	}
	return head - o.cfg.Confirmations, true, nil
}

// playback applies the transfers of [fromBlock, toBlock] to a copy of the ledger, writes the
// block snapshots and the new state, and only then swaps the copy in. A failure anywhere
// leaves the ledger and cursor as they were.
func (o *Operator) playback(ctx context.Context, fromBlock, toBlock uint64) error {
	if int64(toBlock) <= o.cursor.RootChainBlock {
		o.log.Debug("playback range already applied", "from", fromBlock, "to", toBlock, "root_chain_block", o.cursor.RootChainBlock)
		return nil
	}
	fromBlock = max(fromBlock, o.cursor.NextBlock())
	if fromBlock > toBlock {
		return nil
	}

	o.setPhase(PhasePlayingBack)
	start := o.cfg.Clock.Now()
	o.log.Info("playing back transfers", "from", fromBlock, "to", toBlock)

	// The chain collaborator retries each log batch itself.
	events, err := o.cfg.Chain.GetTransferEvents(ctx, fromBlock, toBlock)
	if err != nil {
		return unavailable(fmt.Sprintf("get transfer events %d-%d", fromBlock, toBlock), err)
	}

	next := o.ledger.Clone()
	var snapshots []models.BlockSnapshot
	applied := 0
	for i, ev := range events {
		if ev.BlockNumber < fromBlock || ev.BlockNumber > toBlock {
			continue
		}
		if err := o.credit(next, ev); err != nil {
			return fmt.Errorf("failed to apply transfer at block %d index %d: %w", ev.BlockNumber, ev.LogIndex, err)
		}
		applied++

		lastInBlock := i == len(events)-1 || events[i+1].BlockNumber != ev.BlockNumber
		if lastInBlock && ev.BlockNumber != toBlock && o.checkpoints.ShouldSnapshot(ev.BlockNumber) {
			snapshots = append(snapshots, o.checkpoints.Snapshot(ev.BlockNumber, next.Balances()))
		}
	}
	snapshots = append(snapshots, o.checkpoints.Snapshot(toBlock, next.Balances()))

	cursor := o.cursor.Copy()
	cursor.RootChainBlock = int64(toBlock)

	o.setPhase(PhaseCheckpointing)
	if err := o.checkpoints.SaveBlocks(ctx, snapshots); err != nil {
		return err
	}
	if err := o.checkpoints.SaveState(ctx, fullState(cursor, next)); err != nil {
		return err
	}

	o.ledger, o.cursor = next, cursor
	metrics.EventsAppliedTotal.WithLabelValues("playback").Add(float64(applied))
	metrics.PlaybackDuration.Observe(o.cfg.Clock.Since(start).Seconds())
	o.log.Info("playback complete", "from", fromBlock, "to", toBlock, "events", applied, "duration", o.cfg.Clock.Since(start).String())
	return nil
}

// credit distributes one transfer, holding it when there is nobody to pay.
func (o *Operator) credit(l *ledger.Ledger, ev models.TransferEvent) error {
	held, err := l.DistributeOrHold(ev.Amount)
	if err != nil {
		return err
	}
	if held {
		metrics.HeldRevenueTotal.Inc()
		o.log.Warn("no members, holding transfer", "block", ev.BlockNumber, "index", ev.LogIndex, "amount", utils.FormatUnits(ev.Amount, o.cfg.TokenDecimals))
		return nil
	}
	o.log.Debug("transfer distributed", "block", ev.BlockNumber, "index", ev.LogIndex, "amount", utils.FormatUnits(ev.Amount, o.cfg.TokenDecimals), "members", l.Len())
	return nil
}
