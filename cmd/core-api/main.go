package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/dbbackup/internal/api"
	"github.com/edvin/dbbackup/internal/config"
	"github.com/edvin/dbbackup/internal/core"
	"github.com/edvin/dbbackup/internal/crypto"
	"github.com/edvin/dbbackup/internal/db"
	"github.com/edvin/dbbackup/internal/logging"
	"github.com/edvin/dbbackup/internal/metrics"
	"github.com/edvin/dbbackup/internal/scheduler"
	"github.com/edvin/dbbackup/internal/storage"
	"github.com/edvin/dbbackup/internal/strategy"
	"github.com/edvin/dbbackup/internal/supervisor"
	"github.com/edvin/dbbackup/internal/watcher"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("core-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(cfg.CoreDatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	corePool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, corePool)

	dialOpts, err := cfg.TemporalOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	store, err := storage.New(ctx, cfg.Storage, cfg.BackupTempDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}
	strategies, err := strategy.DefaultRegistry(cfg.BackupTempDir, strategy.Deps{Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure backup strategies")
	}

	bridge := scheduler.New(tc.ScheduleClient(), cfg.TemporalTaskQueue, logger)
	services := core.NewServices(corePool, crypto.NewKeyring(cfg.CredentialsKey), tc, bridge, strategies, store, cfg.TemporalTaskQueue, logger)

	srv := api.NewServer(logger, corePool, tc, services, cfg)
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sup := supervisor.New("core-api", logger)
	sup.Add(supervisor.NewHTTPService("core-api-http", httpServer))

	if local, ok := store.(*storage.Local); ok {
		sup.Add(watcher.New(local, services.Backup, logger))
	}

	logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting core API server")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("supervisor failed")
	}
	logger.Info().Msg("core API stopped")
}
