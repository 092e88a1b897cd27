package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/config"
	"github.com/variantlab/experiment-analytics-service/internal/consumer"
	"github.com/variantlab/experiment-analytics-service/internal/logger"
	"github.com/variantlab/experiment-analytics-service/internal/queue/sqs"
	"github.com/variantlab/experiment-analytics-service/internal/store/clickhouse"
)

func main() {
	// Load configuration
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

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment),
		zap.Int("shards", len(cfg.SQS.QueueURLs)))

	ctx := context.Background()

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

	// Initialize schema (create tables if not exist)
	if err := eventStore.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Events store schema initialized")

	// Initialize SQS client and shard consumers
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	metrics := consumer.NewMetrics(registry, cfg.Consumer.SkipAlarmThreshold)

	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, shard := range sqsClient.Shards() {
		c, err := consumer.NewConsumer(cfg, shard, eventStore, metrics, log)
		if err != nil {
			log.Fatal("Failed to create consumer", zap.Error(err))
		}

		go func(url string) {
			if err := c.Start(consumerCtx); err != nil {
				log.Error("Consumer stopped", zap.String("shard", url), zap.Error(err))
			}
		}(shard.QueueURL())
	}

	// Health check and metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := eventStore.Ping(r.Context()); err != nil {
				log.Warn("Health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		addr := ":" + cfg.Service.HealthCheckPort
		log.Info("Health check server starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	log.Info("Consumer pipelines running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down consumer gracefully")
	cancel()
}
