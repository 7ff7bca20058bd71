package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/dbbackup/internal/activity"
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
	"github.com/edvin/dbbackup/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

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

	sched := scheduler.New(tc.ScheduleClient(), cfg.TemporalTaskQueue, logger)
	services := core.NewServices(corePool, crypto.NewKeyring(cfg.CredentialsKey), tc, sched, strategies, store, cfg.TemporalTaskQueue, logger)

	w := worker.New(tc, cfg.TemporalTaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ErrorTypingInterceptor{}},
	})
	w.RegisterActivity(activity.NewBackup(services.BackupJob, services.Agent, services.Backup, store, strategies, cfg.BackupTempDir, logger))
	workflow.Register(w)

	if err := w.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start temporal worker")
	}
	defer w.Stop()
	logger.Info().Str("taskQueue", cfg.TemporalTaskQueue).Msg("started temporal worker")

	syncSchedules(ctx, sched, services.BackupJob, cfg, logger)

	sup := supervisor.New("worker", logger)
	if cfg.MetricsAddr != "" {
		sup.Add(supervisor.NewHTTPService("metrics", metrics.NewServer(cfg.MetricsAddr)))
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
	}
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("supervisor failed")
	}
	logger.Info().Msg("shutting down worker")
}

// syncSchedules brings Temporal schedules in line with the catalog. A
// failure is logged so a broken job does not keep the worker down.
func syncSchedules(ctx context.Context, sched *scheduler.Scheduler, jobs *core.BackupJobService, cfg *config.Config, logger zerolog.Logger) {
	if err := sched.Ensure(ctx, workflow.CompressionScheduleID, cfg.CompressionCron, "CompressBackupsWorkflow", cfg.CompressAfter()); err != nil {
		logger.Error().Err(err).Msg("failed to ensure compression schedule")
	}

	all, err := jobs.ListAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load backup jobs for schedule sync")
		return
	}
	if err := sched.Sync(ctx, all); err != nil {
		logger.Error().Err(err).Msg("some job schedules failed to sync")
		return
	}
	logger.Info().Int("jobs", len(all)).Msg("synced job schedules")
}
