package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"ledger_operator/internal/config"
	"ledger_operator/internal/models"
	"ledger_operator/internal/repository"
	"ledger_operator/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	kindFlag := flag.String("kind", "", "command to publish: join, part or revenue")
	addressesFlag := flag.StringSlice("addresses", nil, "member addresses for join and part")
	weightFlag := flag.Uint64("weight", 1, "weight given to joining members")
	amountFlag := flag.String("amount", "", "revenue amount in base units")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "publish timeout")
	flag.Parse()

	log := utils.NewLogger(*verboseFlag)

	if err := config.LoadEnv(); err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}
	redisConfig := config.LoadRedisConfig()

	cmd, err := buildCommand(models.CommandKind(strings.ToLower(*kindFlag)), *addressesFlag, *weightFlag, *amountFlag)
	if err != nil {
		return err
	}

	channel, err := repository.ConnectToChannel(redisConfig, log)
	if err != nil {
		return err
	}
	defer channel.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()
	if err := channel.PublishCommand(ctx, cmd); err != nil {
		return err
	}
	log.Info("command published", "kind", cmd.Kind(), "channel", repository.ChannelName(redisConfig.ChannelPrefix, cmd.Kind()))
	return nil
}

// buildCommand validates the flags the same way the operator validates channel payloads.
func buildCommand(kind models.CommandKind, addresses []string, weight uint64, amount string) (models.Command, error) {
	switch kind {
	case models.CommandJoin, models.CommandPart:
		cmd := models.Join{Addresses: addresses, Weight: weight}
		payload, err := models.EncodeCommand(cmd)
		if err != nil {
			return nil, err
		}
		return models.DecodeCommand(kind, payload)
	case models.CommandRevenue:
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("%w: bad revenue amount %q", models.ErrInvalidCommand, amount)
		}
		payload, err := models.EncodeCommand(models.Revenue{Amount: value})
		if err != nil {
			return nil, err
		}
		return models.DecodeCommand(kind, payload)
	default:
		return nil, fmt.Errorf("%w: --kind must be one of %v", models.ErrInvalidCommand, models.CommandKinds)
	}
}
