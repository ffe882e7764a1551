package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scribeflow/scribeflow-backend/api/routes"
	"github.com/scribeflow/scribeflow-backend/internal/costs"
	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/internal/metering"
	"github.com/scribeflow/scribeflow-backend/internal/pricing"
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

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	pricingService, err := pricing.NewService(pricing.NewRepository(dbClient.DB()), usersRepo, cfg.Pricing)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing service", err)
		os.Exit(1)
	}

	estimator, err := costs.NewEstimator(pricingService, cfg.Metering)
	if err != nil {
		logg.Error(context.Background(), "failed to create cost estimator", err)
		os.Exit(1)
	}

	usageService, err := usage.NewService(usageRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:    credits.NewRepository(dbClient.DB()),
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

	usageParser, err := usage.NewParser(logg, ledgerMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create usage parser", err)
		os.Exit(1)
	}

	engine, err := metering.NewEngine(metering.EngineParams{
		Estimator: estimator,
		Credits:   creditsService,
		Provider:  metering.NewHTTPProvider(cfg.Vendor),
		Parser:    usageParser,
		Pricing:   pricingService,
		Usage:     usageService,
		Logger:    logg,
		Config:    cfg.Metering,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create metering engine", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			creditsService,
			usageService,
			pricingService,
			estimator,
			engine,
		),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shut down gracefully")
}
