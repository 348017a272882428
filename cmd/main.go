package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/payout-service/payout_service/internal/api/routes"
	"github.com/payout-service/payout_service/internal/infrastructure/cache"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
	"github.com/payout-service/payout_service/internal/infrastructure/database"
	"github.com/payout-service/payout_service/internal/infrastructure/di"
	"github.com/payout-service/payout_service/internal/workers/reconciliation_worker"
	"github.com/payout-service/payout_service/internal/workers/settlement_consumer"
	"github.com/payout-service/payout_service/pkg/graceful"
	"github.com/payout-service/payout_service/pkg/logger"
	"github.com/payout-service/payout_service/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	log.Info("Starting payout service", "environment", cfg.Environment)

	shutdownTracing, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("Tracing shutdown error", "error", err)
		}
	}()

	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	container, err := di.Build(cfg, log, db, redisClient)
	if err != nil {
		log.Fatal("Failed to build container", "error", err)
	}

	router := routes.SetupRoutes(routes.Dependencies{
		Config:             cfg,
		Logger:             log,
		SettlementHandlers: container.SettlementHandlers,
		CoreHandlers:       container.CoreHandlers,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	shutdown := graceful.NewShutdownManager(server, db.DB, log)

	if cfg.Reconciliation.Enabled {
		reconWorker := reconciliation_worker.NewWorker(container.Reconciler, cfg.Reconciliation, log.Zap())
		if err := reconWorker.Start(); err != nil {
			log.Fatal("Failed to start reconciliation worker", "error", err)
		}
		shutdown.RegisterStop(reconWorker.Stop)
	}

	if cfg.Kafka.Enabled {
		consumer := settlement_consumer.NewWorker(container.Orchestrator, cfg.Kafka, log.Zap())
		consumer.Start()
		shutdown.RegisterStop(consumer.Stop)
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
}
