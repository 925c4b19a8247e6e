package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oleg79/tasks-queue-go/internal/config"
	"github.com/oleg79/tasks-queue-go/internal/logger"
	"github.com/oleg79/tasks-queue-go/internal/rescheduler"
	"github.com/oleg79/tasks-queue-go/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("Starting rescheduler...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to task store")
	}
	defer s.Close()

	loop := rescheduler.New(s)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down rescheduler...")
		cancel()
	}()

	if err := loop.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Rescheduler exited with error")
		os.Exit(1)
	}

	log.Info().Msg("Rescheduler stopped")
}
