package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/harmonia-music/harmonia/internal/cache"
	"github.com/harmonia-music/harmonia/internal/config"
	"github.com/harmonia-music/harmonia/internal/database"
	"github.com/harmonia-music/harmonia/internal/event"
	"github.com/harmonia-music/harmonia/internal/logging"
	"github.com/harmonia-music/harmonia/internal/music"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
	"github.com/harmonia-music/harmonia/internal/version"
	"github.com/harmonia-music/harmonia/internal/webhook"
)

const cacheCleanupInterval = 6 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("HM_CONFIG_PATH")
	if configPath == "" {
		configPath = "/data/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	logger.Info("starting harmonia",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	// Open library database and run migrations
	libDB, err := database.Open(cfg.Database.LibraryPath)
	if err != nil {
		return fmt.Errorf("opening library database: %w", err)
	}
	defer func() {
		if err := libDB.Close(); err != nil {
			logger.Error("closing library database", "error", err)
		}
	}()

	if err := database.Migrate(libDB); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("library database ready", slog.String("path", cfg.Database.LibraryPath))

	// The cache lives in its own database so cache churn never bloats the
	// library file.
	cacheDB, err := database.Open(cfg.Database.CachePath)
	if err != nil {
		return fmt.Errorf("opening cache database: %w", err)
	}
	defer func() {
		if err := cacheDB.Close(); err != nil {
			logger.Error("closing cache database", "error", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheStore, err := cache.New(ctx, cacheDB, logger)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}
	defer cacheStore.Close()
	go cacheStore.StartCleanup(ctx, cacheCleanupInterval)

	rowStore := store.New(libDB, logger)

	// Provider infrastructure. Concrete provider plugins register here;
	// the core only sees the capability interface.
	registry := provider.NewRegistry()
	rateLimiters := provider.NewRateLimiterMap()
	for _, pc := range cfg.Providers {
		if pc.RateLimit > 0 {
			burst := pc.Burst
			if burst < 1 {
				burst = 1
			}
			rateLimiters.SetLimit(pc.Instance, rate.Limit(pc.RateLimit), burst)
		}
	}
	for _, pc := range cfg.Providers {
		if pc.ShareLimitWith != "" {
			rateLimiters.Share(pc.Instance, pc.ShareLimitWith)
		}
	}

	eventBus := event.NewBus(logger, cfg.Events.BufferSize)
	go eventBus.Start()
	defer eventBus.Stop()

	if len(cfg.Webhooks) > 0 {
		dispatcher := webhook.NewDispatcher(cfg.Webhooks, logger)
		eventBus.SubscribeAll(dispatcher.HandleEvent)
		logger.Info("webhook dispatch enabled", slog.Int("endpoints", len(cfg.Webhooks)))
	}

	controllers := music.NewSet(rowStore, cacheStore, registry, rateLimiters, eventBus, logger, music.Options{
		MatchConcurrency: cfg.Match.Concurrency,
		SyncConcurrency:  cfg.Sync.Concurrency,
	})

	// Reload logging settings when the config file changes on disk
	go func() {
		err := config.Watch(ctx, configPath, logger, func(updated *config.Config) {
			logManager.Reconfigure(updated.Logging)
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	// Periodic full library sync
	if cfg.Sync.IntervalMinutes > 0 {
		go func() {
			interval := time.Duration(cfg.Sync.IntervalMinutes) * time.Minute
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := controllers.RunSync(ctx, nil, nil); err != nil {
						logger.Error("scheduled sync failed", "error", err)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
