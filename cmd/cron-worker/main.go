package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scribeflow/scribeflow-backend/internal/allowance"
	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/internal/cron"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
	"github.com/scribeflow/scribeflow-backend/internal/users"
	"github.com/scribeflow/scribeflow-backend/pkg/config"
	"github.com/scribeflow/scribeflow-backend/pkg/db"
	"github.com/scribeflow/scribeflow-backend/pkg/instance"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
	"github.com/scribeflow/scribeflow-backend/pkg/metrics"
	"github.com/scribeflow/scribeflow-backend/pkg/migrate"
	"github.com/scribeflow/scribeflow-backend/pkg/outbox"
	"github.com/scribeflow/scribeflow-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	usersRepo := users.NewRepository(dbClient.DB())
	usageRepo := usage.NewRepository(dbClient.DB())
	creditsRepo := credits.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:    creditsRepo,
		Tx:      dbClient,
		Outbox:  outboxService,
		Users:   usersRepo,
		Usage:   usageRepo,
		Logger:  logg,
		Metrics: ledgerMetrics,
		Config:  cfg.Ledger,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	allowanceService, err := allowance.NewService(creditsService, usersRepo, logg, cfg.Allowance)
	if err != nil {
		logg.Error(context.Background(), "failed to create allowance service", err)
		os.Exit(1)
	}

	allowanceJob, err := cron.NewAllowanceJob(cron.AllowanceJobParams{
		Logger:  logg,
		Service: allowanceService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create allowance job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	auditJob, err := cron.NewConsistencyAuditJob(cron.ConsistencyAuditJobParams{
		Logger:  logg,
		Checker: creditsService,
		Ledger:  creditsRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create consistency audit job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(allowanceJob, retentionJob, auditJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "single cron cycle failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "single cron cycle complete")
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
