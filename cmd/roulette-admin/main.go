package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"maproulette/internal/cli/command"
	"maproulette/internal/cli/repl"
	"maproulette/internal/roulette/app"
	"maproulette/pkg/utils/logger"
)

const (
	defaultConfigPath  = "configs/roulette_service.yaml"
	defaultHistoryFile = ".roulette_admin_history"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	history := flag.String("history", defaultHistoryFile, "Readline history file")
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
	// Service logs go to stderr so command output stays clean.
	cfg.Logger.OutputPath = "stderr"
	if cfg.Logger.Level == "info" {
		cfg.Logger.Level = "warn"
	}
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	roulette, err := app.New(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init roulette failed: %v\n", err)
		os.Exit(1)
	}

	session := repl.New(roulette, command.Registry(), os.Stdout)
	code := 0
	if args := flag.Args(); len(args) > 0 {
		if err := session.Execute(ctx, args); err != nil {
			session.PrintError(err)
			code = 1
		}
	} else if err := session.Run(ctx, *history); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		code = 1
	}

	roulette.Close()
	_ = logger.Sync()
	os.Exit(code)
}
