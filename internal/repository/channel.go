package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ledger_operator/internal/config"
	"ledger_operator/internal/metrics"
	"ledger_operator/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/event"
	"github.com/redis/go-redis/v9"
)

// ChannelRepository carries membership and revenue commands over Redis pub/sub.
type ChannelRepository interface {
	SubscribeCommands(ctx context.Context, sink chan<- models.Command) (ethereum.Subscription, error)
	PublishCommand(ctx context.Context, cmd models.Command) error
	Close() error
}

type redisChannel struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

func ConnectToChannel(cfg config.RedisConfig, log *slog.Logger) (ChannelRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("✅ Channel connected", "addr", cfg.Addr, "prefix", cfg.ChannelPrefix)

	return NewRedisChannel(client, cfg.ChannelPrefix, log), nil
}

func NewRedisChannel(client *redis.Client, prefix string, log *slog.Logger) ChannelRepository {
	return &redisChannel{
		client: client,
		prefix: prefix,
		log:    log,
	}
}

func ChannelName(prefix string, kind models.CommandKind) string {
	return prefix + ":" + string(kind)
}

func (c *redisChannel) SubscribeCommands(ctx context.Context, sink chan<- models.Command) (ethereum.Subscription, error) {
	names := make([]string, 0, len(models.CommandKinds))
	for _, kind := range models.CommandKinds {
		names = append(names, ChannelName(c.prefix, kind))
	}

	pubsub := c.client.Subscribe(ctx, names...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", names, err)
	}

	messages := pubsub.Channel()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer pubsub.Close()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return fmt.Errorf("redis subscription closed")
				}
				cmd, err := c.decode(msg)
				if err != nil {
					c.log.Warn("dropping invalid command", "channel", msg.Channel, "error", err)
					metrics.CommandsTotal.WithLabelValues(strings.TrimPrefix(msg.Channel, c.prefix+":"), "invalid").Inc()
					continue
				}
				select {
				case sink <- cmd:
				case <-quit:
					return nil
				}
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *redisChannel) decode(msg *redis.Message) (models.Command, error) {
	kind, ok := strings.CutPrefix(msg.Channel, c.prefix+":")
	if !ok {
		return nil, fmt.Errorf("%w: unexpected channel %q", models.ErrInvalidCommand, msg.Channel)
	}
	return models.DecodeCommand(models.CommandKind(kind), []byte(msg.Payload))
}

func (c *redisChannel) PublishCommand(ctx context.Context, cmd models.Command) error {
	payload, err := models.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, ChannelName(c.prefix, cmd.Kind()), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s command: %w", cmd.Kind(), err)
	}
	return nil
}

func (c *redisChannel) Close() error {
	return c.client.Close()
}
