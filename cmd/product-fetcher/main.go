package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/api"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/config"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/jobs"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/maltedev/amazon-product-fetcher/internal/browser"
	"github.com/maltedev/amazon-product-fetcher/internal/cache"
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

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.HealthCheck{}

	fetcher := scraper.NewFetcher(&http.Client{}, cfg.FetcherConfig(), log)
	if cfg.Browser.Fallback {
		b, err := browser.New(cfg.BrowserOptions(), log)
		if err != nil {
			log.Warn("browser fallback unavailable", "error", err)
		} else {
			defer b.Close()
			fetcher.WithFallback(b)
		}
	}

	var opts []scraper.Option
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		opts = append(opts, scraper.WithCache(cache.NewRedisCache(redisClient, cfg.Cache.Prefix, cfg.Cache.TTL)))
	}

	extractor := scraper.NewExtractor(cfg.Scraper.FieldDelayMin, cfg.Scraper.FieldDelayMax, log)
	service := scraper.NewService(fetcher, extractor, cfg.Scraper.DefaultDomain, log, opts...)

	var jobSvc api.JobService
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
		}
		checks["postgres"] = db.Ping

		manager := jobs.NewManager(database.NewImportJobRepository(db), service, jobs.Config{
			PollInterval: cfg.Jobs.PollInterval,
			ItemDelayMin: cfg.Jobs.ItemDelayMin,
			ItemDelayMax: cfg.Jobs.ItemDelayMax,
			MaxInputs:    cfg.Jobs.MaxInputs,
		}, log)
		go manager.StartWorker(ctx)
		jobSvc = manager

		if redisClient != nil {
			relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, log, database.RelayConfig{
				PollInterval: cfg.Relay.PollInterval,
				BatchSize:    cfg.Relay.BatchSize,
				MaxStreamLen: cfg.Relay.MaxStreamLen,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		} else {
			log.Warn("redis disabled: import events stay in the outbox")
		}
	}

	handlers := api.NewHandlers(service, jobSvc, checks, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handlers, cfg.Server.RequestTimeout),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"port", cfg.Server.Port,
			"imports", jobSvc != nil,
			"cache", redisClient != nil,
			"browser_fallback", cfg.Browser.Fallback)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
