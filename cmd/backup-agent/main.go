package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edvin/dbbackup/internal/agent"
	"github.com/edvin/dbbackup/internal/config"
	"github.com/edvin/dbbackup/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("backup-agent"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure agent")
	}
	if err := a.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("agent failed")
	}
	logger.Info().Msg("backup agent stopped")
}
