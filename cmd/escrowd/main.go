// Package main is the entry point for the escrowd HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"escrowd/internal/config"
	"escrowd/internal/logging"
	"escrowd/internal/notify"
	"escrowd/internal/server"
	"escrowd/internal/service"
	"escrowd/internal/store"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	feePct, err := decimal.NewFromString(cfg.Fees.Percentage)
	if err != nil {
		logger.Error("invalid fee percentage", "value", cfg.Fees.Percentage, "error", err)
		os.Exit(1)
	}

	var repo store.Repository
	switch cfg.Store.Backend {
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite store", "path", cfg.Store.SQLitePath, "error", err)
			os.Exit(1)
		}
		repo = sqliteStore
		logger.Info("using sqlite store", "path", cfg.Store.SQLitePath)
	default:
		repo = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var sender notify.Sender
	if cfg.Notify.NATSURL != "" {
		natsSender, err := notify.NewNATSSender(cfg.Notify.NATSURL)
		if err != nil {
			logger.Error("failed to connect to NATS", "url", cfg.Notify.NATSURL, "error", err)
			os.Exit(1)
		}
		defer natsSender.Close()
		sender = natsSender
		logger.Info("notifications via NATS", "url", cfg.Notify.NATSURL)
	} else {
		sender = notify.NewLogSender(logger)
	}

	dispatcher := notify.NewDispatcher(repo, sender, logger)
	engine := service.NewEngine(repo, dispatcher, logger, feePct)
	handlers := server.NewHandlers(engine, logger)
	srv := server.New(logger, cfg.HTTP, server.NewRouter(logger, handlers))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	}
}
