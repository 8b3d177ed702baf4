// Package main is the entry point for the outbox relay worker.
// It drains the transactional outbox to Kafka, parks poison events in the
// dead letter queue, expires stale idempotency keys and moves delivered
// events into compressed archive rows.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockledger/internal/infrastructure/messaging"
	"stockledger/internal/infrastructure/metrics"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	log.Info("starting outbox relay")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getEnv("KAFKA_TOPIC", "stockledger.events")
	publisher := messaging.NewKafkaPublisher(brokers, topic)
	defer publisher.Close()

	batchSize := getEnvInt("OUTBOX_BATCH_SIZE", 100)
	relay := postgres.NewOutboxRelay(pool.Unwrap(), batchSize, publisher)

	txManager := postgres.NewTxManager(pool)
	idempotencyStore := postgres.NewIdempotencyStore(txManager, getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour))

	archiveStore, err := postgres.NewArchiveStore(pool.Unwrap())
	if err != nil {
		log.Fatalw("failed to create archive store", "error", err)
	}
	archiveRetention := getEnvDuration("ARCHIVE_RETENTION", 7*24*time.Hour)
	archiveBatchSize := getEnvInt("ARCHIVE_BATCH_SIZE", 1000)

	// Prometheus endpoint for the worker
	metricsPort := getEnv("METRICS_PORT", "9090")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+metricsPort, mux); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server failed", "error", err)
		}
	}()

	pollInterval := getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second)
	cleanupInterval := getEnvDuration("CLEANUP_INTERVAL", time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	log.Infow("relay running",
		"poll_interval", pollInterval.String(),
		"batch_size", batchSize,
		"topic", topic,
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("relay stopped")
			return

		case <-ticker.C:
			published, err := relay.ProcessBatch(ctx)
			if err != nil {
				log.Errorw("outbox batch failed", "error", err)
				metrics.OutboxFailedTotal.Inc()
				continue
			}
			if published > 0 {
				metrics.OutboxPublishedTotal.Add(float64(published))
			}
			if pending, err := relay.PendingCount(ctx); err == nil {
				metrics.OutboxPending.Set(float64(pending))
			}

		case <-cleanup.C:
			if parked, err := relay.MoveToDLQ(ctx); err != nil {
				log.Errorw("dlq sweep failed", "error", err)
			} else if parked > 0 {
				log.Warnw("events parked in dlq", "count", parked)
			}

			if removed, err := idempotencyStore.CleanupExpired(ctx); err != nil {
				log.Errorw("idempotency cleanup failed", "error", err)
			} else if removed > 0 {
				log.Infow("expired idempotency keys removed", "count", removed)
			}

			if archived, err := archiveStore.ArchivePublished(ctx, archiveRetention, archiveBatchSize); err != nil {
				log.Errorw("outbox archiving failed", "error", err)
			} else if archived > 0 {
				log.Infow("published events archived", "count", archived)
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
