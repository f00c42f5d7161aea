package services

import (
	"context"
	"errors"
	"fmt"

	"ledger_operator/internal/models"
	"ledger_operator/internal/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/robfig/cron/v3"
)

const subscriptionBuffer = 64

type subscribeFunc[T any] func(ctx context.Context, sink chan<- T) (ethereum.Subscription, error)

// listen opens the chain and channel subscriptions and starts the periodic producers.
// Initial subscribe failures are returned; later drops are resubscribed without limit.
func (o *Operator) listen(ctx context.Context) error {
	transfers := make(chan models.TransferEvent, subscriptionBuffer)
	chainSub, err := resubscribe[models.TransferEvent](ctx, o.retry, "chain", transfers, o.cfg.Chain.SubscribeTransferEvents)
	if err != nil {
		return err
	}

	commands := make(chan models.Command, subscriptionBuffer)
	channelSub, err := resubscribe[models.Command](ctx, o.retry, "channel", commands, o.cfg.Channel.SubscribeCommands)
	if err != nil {
		chainSub.Unsubscribe()
		return err
	}

	o.listeners.Add(2)
	go func() {
		defer o.listeners.Done()
		forward[models.TransferEvent](ctx, o, "transfer", chainSub, transfers, o.cfg.Chain.SubscribeTransferEvents, o.applyTransfer, func() {
			// Whatever was emitted while disconnected is only reachable through playback.
			if err := o.enqueue(ctx, "sync", o.sync); err != nil {
				o.log.Debug("resync after resubscribe not queued", "error", err)
			}
		})
	}()
	go func() {
		defer o.listeners.Done()
		forward[models.Command](ctx, o, "command", channelSub, commands, o.cfg.Channel.SubscribeCommands, o.applyCommand, nil)
	}()

	if o.cfg.CheckpointInterval > 0 {
		o.listeners.Add(1)
		go func() {
			defer o.listeners.Done()
			o.checkpointLoop(ctx)
		}()
	}

	if o.cfg.ResyncSchedule != "" {
		if err := o.startCron(ctx); err != nil {
			return err
		}
	}
	return nil
}

func resubscribe[T any](ctx context.Context, policy retryPolicy, name string, sink chan T, subscribe subscribeFunc[T]) (ethereum.Subscription, error) {
	sub, err := retry(ctx, policy, "subscribe "+name, func() (ethereum.Subscription, error) {
		return subscribe(ctx, sink)
	})
	if err != nil {
		return nil, unavailable("subscribe "+name, err)
	}
	return sub, nil
}

// forward turns every received value into a ledger job until ctx is cancelled.
func forward[T any](ctx context.Context, o *Operator, name string, sub ethereum.Subscription, values chan T, subscribe subscribeFunc[T], apply func(context.Context, T) error, resubscribed func()) {
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	forever := o.retry
	forever.maxTries = 0

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-values:
			err := o.enqueue(ctx, name, func(ctx context.Context) error {
				return apply(ctx, v)
			})
			if err != nil {
				return
			}
		case err := <-sub.Err():
			o.log.Warn("subscription dropped, resubscribing", "source", name, "error", err)
			sub.Unsubscribe()
			sub = nil

			next, err := resubscribe(ctx, forever, name, values, subscribe)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					o.log.Error("resubscribe failed", "source", name, "error", err)
				}
				return
			}
			sub = next
			o.log.Info("resubscribed", "source", name)
			if resubscribed != nil {
				resubscribed()
			}
		}
	}
}

func (o *Operator) checkpointLoop(ctx context.Context) {
	ticker := o.cfg.Clock.NewTicker(o.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := o.enqueue(ctx, "save_state", o.saveState); err != nil {
				return
			}
		}
	}
}

func (o *Operator) startCron(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(o.cfg.ResyncSchedule, func() {
		if err := o.enqueue(ctx, "sync", o.sync); err != nil {
			o.log.Debug("scheduled resync not queued", "error", err)
			return
		}
		utils.PrintNextExecution(o.log, c)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule resync %q: %w", o.cfg.ResyncSchedule, err)
	}
	c.Start()
	o.cron = c
	utils.PrintNextExecution(o.log, c)
	return nil
}
