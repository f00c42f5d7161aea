package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledger_operator/internal/api"
	"ledger_operator/internal/config"
	"ledger_operator/internal/processors"
	"ledger_operator/internal/repository"
	"ledger_operator/internal/services"
	"ledger_operator/internal/utils"

	"github.com/ethereum/go-ethereum/ethclient"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Error running ledger operator", "error", err)
		os.Exit(1)
	}
}

func run() error {
	config := config.LoadConfig()
	log := utils.NewLogger(config.Verbose)
	slog.SetDefault(log)
	log.Info("✅ Config Loaded", "contract", config.Contracts.Ledger.Hex(), "token", config.Contracts.Token.Address.Hex(), "confirmations", config.Confirmations)

	client, err := ethclient.Dial(config.RPC_URL)
	if err != nil {
		return fmt.Errorf("failed to connect to the Ethereum client: %w", err)
	}
	defer client.Close()
	ethereumRepository := repository.NewEthereumRepository(client, config, log)
	processor := processors.NewProcessor(ethereumRepository, config, log)

	dbRepository, err := repository.ConnectToDb(config, log)
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	defer func() {
		if err := dbRepository.Disconnect(); err != nil {
			log.Warn("failed to disconnect from the database", "error", err)
		}
	}()
	if err := dbRepository.Health(); err != nil {
		return fmt.Errorf("database is not healthy: %w", err)
	}
	ledgerRepository := repository.NewLedgerRepository(dbRepository)

	channel, err := repository.ConnectToChannel(config.Redis, log)
	if err != nil {
		return fmt.Errorf("failed to connect to the command channel: %w", err)
	}
	defer channel.Close()

	operator, err := services.NewOperator(services.OperatorConfig{
		Logger:                log,
		Chain:                 processor,
		Channel:               channel,
		Store:                 ledgerRepository,
		ContractAddress:       strings.ToLower(config.Contracts.Ledger.Hex()),
		StartBlock:            config.StartBlock,
		Confirmations:         config.Confirmations,
		CheckpointInterval:    config.CheckpointInterval,
		ResyncSchedule:        config.CronSchedule,
		BlockSnapshotInterval: config.BlockSnapshotInterval,
		SnapshotShortcut:      config.SnapshotShortcut,
		TokenDecimals:         config.TokenDecimals,
		MaxRetries:            config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("invalid operator configuration: %w", err)
	}

	// Setup signal handling before the first playback, which can take a while
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := operator.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(config.ApiAddr, operator, ledgerRepository, log)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for termination signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("api server failed", "error", err)
		}
	}

	log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shut down api server", "error", err)
	}
	return operator.Stop(shutdownCtx)
}
