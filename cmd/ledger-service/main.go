package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agriflow/agriflow-backend/internal/ledger"
	"github.com/agriflow/agriflow-backend/internal/ledger/events"
	"github.com/agriflow/agriflow-backend/pkg/config"
	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/agriflow/agriflow-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("ledger-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("ledger-service", cfg.Server.Environment)
	log.Info().Msg("starting Ledger Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewLedgerEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Wire the ledger core
	core := ledger.NewCore(db, publisher, &cfg.Ledger, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the maintenance sweeps
	core.Scheduler.Start(ctx)

	log.Info().Msg("ledger service running")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	core.Scheduler.Stop()
	cancel()

	log.Info().Msg("ledger service stopped")
}
