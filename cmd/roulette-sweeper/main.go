package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"maproulette/internal/roulette/app"
	"maproulette/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/roulette_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	var cfg app.Config
	if err := app.LoadYAML(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	roulette, err := app.New(ctx, &cfg)
	if err != nil {
		logger.Error(ctx, "init roulette failed", zap.Error(err))
		return
	}
	defer roulette.Close()

	if *once {
		reclaimed, err := roulette.Sweeper.RunOnce(ctx)
		if err != nil {
			logger.Error(ctx, "sweep failed", zap.Error(err))
			return
		}
		fmt.Printf("reclaimed %d tasks\n", reclaimed)
		return
	}

	logger.Info(ctx, "roulette sweeper started", zap.Duration("interval", cfg.Sweeper.Interval))
	roulette.Sweeper.Start(ctx)
	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")
}
