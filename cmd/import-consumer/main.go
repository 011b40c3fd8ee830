// Command import-consumer tails the import event stream and prints one JSON
// line per fetched product.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/config"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/events"
	"github.com/maltedev/amazon-product-fetcher/internal/database"
	"github.com/maltedev/amazon-product-fetcher/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	enc := json.NewEncoder(os.Stdout)

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream:   getEnv("REDIS_STREAM", database.DefaultTargetStream),
		Group:    getEnv("CONSUMER_GROUP", "import-consumer-group"),
		Consumer: getEnv("CONSUMER_NAME", hostname),
	}, func(_ context.Context, e *events.ProductFetchedPayload) error {
		log.Info("product fetched",
			"job_id", e.JobID,
			"position", e.Position,
			"asin", e.ASIN,
			"success", e.Success,
			"fields", len(e.Fields))
		return enc.Encode(e)
	}, log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
