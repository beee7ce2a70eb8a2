package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"twostream/app"
	"twostream/config"
	"twostream/logger"
)

// main trains from config.yaml and keeps the monitor server up afterwards
// until interrupted.
func main() {
	// 1. Load config
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// 2. Logger
	zl, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	// 3. Assemble the run and start monitoring
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfg, zl)
	if err != nil {
		zl.Fatal("failed to assemble run", zap.Error(err))
	}
	if err := a.Start(ctx); err != nil {
		zl.Fatal("failed to start monitoring", zap.Error(err))
	}

	// 4. Train; an interrupt aborts the run
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- a.Train(ctx) }()

	var runErr error
	select {
	case runErr = <-done:
		if runErr != nil {
			zl.Error("training failed", zap.Error(runErr))
		} else if a.Serving() {
			zl.Info("training finished, monitor still serving; interrupt to exit")
			<-quit
		}
	case <-quit:
		zl.Info("interrupted")
		cancel()
		runErr = <-done
	}

	// 5. Shutdown
	cancel()
	if err := multierr.Append(runErr, a.Close()); err != nil {
		zl.Error("exiting with errors", zap.Error(err))
		zl.Sync()
		os.Exit(1)
	}
	zl.Info("exiting")
}
