// Package main is the entry point for the escrow admin console.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"escrowd/internal/app"
	"escrowd/internal/config"
	"escrowd/internal/logging"
	"escrowd/internal/notify"
	"escrowd/internal/service"
	"escrowd/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	feePct, err := decimal.NewFromString(cfg.Fees.Percentage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR invalid fee percentage: %v\n", err)
		os.Exit(1)
	}

	var repo store.Repository
	if cfg.Store.Backend == "sqlite" {
		sqliteStore, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR opening sqlite store: %v\n", err)
			os.Exit(1)
		}
		repo = sqliteStore
	} else {
		repo = store.NewMemoryStore()
	}

	// Script file argument, otherwise interactive stdin.
	var input io.Reader
	if len(os.Args) > 1 {
		file, err := os.Open(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR cannot open file: %v\n", err)
			os.Exit(1)
		}
		defer file.Close()
		input = file
	} else {
		input = os.Stdin
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := notify.NewDispatcher(repo, notify.NewLogSender(logger), logger)
	engine := service.NewEngine(repo, dispatcher, logger, feePct)
	runner := app.NewRunner(app.NewConsole(engine), input, os.Stdout)

	if err := runner.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		os.Exit(1)
	}
}
