package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/catalog"
	"github.com/variantlab/experiment-analytics-service/internal/config"
	"github.com/variantlab/experiment-analytics-service/internal/handler"
	"github.com/variantlab/experiment-analytics-service/internal/logger"
	"github.com/variantlab/experiment-analytics-service/internal/queue/sqs"
	"github.com/variantlab/experiment-analytics-service/internal/registry"
	"github.com/variantlab/experiment-analytics-service/internal/retention"
	"github.com/variantlab/experiment-analytics-service/internal/rollup"
	"github.com/variantlab/experiment-analytics-service/internal/service"
	"github.com/variantlab/experiment-analytics-service/internal/store/clickhouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	ctx := context.Background()

	// Initialize SQS client (event publishing onto the bus)
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Initialize ClickHouse-backed events store
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}

	eventStore := clickhouse.NewStore(chClient, log)
	defer func() {
		if err := eventStore.Close(); err != nil {
			log.Error("Failed to close events store", zap.Error(err))
		}
	}()

	// Rollup state: rebuilt from the events store, then kept current by
	// tailing the append stream.
	rollupStore := rollup.NewStore(log)
	engine := rollup.NewEngine(rollupStore, eventStore, rollup.EngineConfig{
		Workers:       cfg.Aggregation.Workers,
		PollInterval:  time.Duration(cfg.Aggregation.PollIntervalSec) * time.Second,
		PollBatchSize: cfg.Aggregation.PollBatchSize,
	}, log)

	if err := engine.Rebuild(ctx); err != nil {
		log.Fatal("Failed to rebuild rollups", zap.Error(err))
	}

	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go engine.Run(engineCtx)

	// Assignment registry and metadata catalog (enrollment/config path)
	assignments := registry.New(log)
	experiments := catalog.New(log)

	// Background retention over the events store
	retentionManager := retention.NewManager(eventStore, retention.Config{
		Horizon:       time.Duration(cfg.Retention.Days) * 24 * time.Hour,
		CheckInterval: time.Duration(cfg.Retention.CheckIntervalSec) * time.Second,
	}, log)
	go retentionManager.Start(engineCtx)

	analytics := service.NewAnalyticsService(
		sqsClient, eventStore, rollupStore, assignments, experiments, retentionManager, log)

	h := handler.NewHandler(analytics, log)

	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	log.Info("API server starting", zap.String("address", addr))

	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal("Failed to start API server", zap.Error(err))
	}
}
