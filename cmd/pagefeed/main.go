// Package main wires together the pagefeed service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/pagefeed/pagefeed/internal/api"
	"github.com/pagefeed/pagefeed/internal/archive/gcs"
	"github.com/pagefeed/pagefeed/internal/archive/local"
	"github.com/pagefeed/pagefeed/internal/cache"
	"github.com/pagefeed/pagefeed/internal/config"
	"github.com/pagefeed/pagefeed/internal/extract"
	"github.com/pagefeed/pagefeed/internal/feed"
	"github.com/pagefeed/pagefeed/internal/fetcher/headless"
	"github.com/pagefeed/pagefeed/internal/fetcher/plain"
	"github.com/pagefeed/pagefeed/internal/logging"
	"github.com/pagefeed/pagefeed/internal/metrics"
	"github.com/pagefeed/pagefeed/internal/publisher/pubsub"
	"github.com/pagefeed/pagefeed/internal/render"
	"github.com/pagefeed/pagefeed/internal/robots"
	"github.com/pagefeed/pagefeed/internal/runner"
	"github.com/pagefeed/pagefeed/internal/scheduler"
	memorystorage "github.com/pagefeed/pagefeed/internal/storage/memory"
	"github.com/pagefeed/pagefeed/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store feed.Store
	if cfg.Database.DSN != "" {
		if cfg.Database.Migrate {
			version, migErr := postgres.Migrate(cfg.Database.DSN)
			if migErr != nil {
				logger.Fatal("database migration failed", zap.Error(migErr))
			}
			logger.Info("database migrated", zap.Uint("version", version))
		}
		pgStore, pgErr := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetime) * time.Second,
		})
		if pgErr != nil {
			logger.Fatal("postgres init failed", zap.Error(pgErr))
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Info("no database configured, using in-memory store")
		store = memorystorage.NewStore()
	}

	var responseCache feed.ResponseCache
	if cfg.Redis.Address != "" {
		redisCache, redisErr := cache.NewRedis(cache.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if redisErr != nil {
			logger.Fatal("redis init failed", zap.Error(redisErr))
		}
		defer func() {
			if closeErr := redisCache.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
		responseCache = redisCache
	} else {
		logger.Info("no redis configured, using in-memory cache")
		responseCache = cache.NewMemory()
	}

	policy := robots.New(robots.Config{
		Override: cfg.Robots.Override,
		TTL:      cfg.RobotsTTL(),
	}, logger.Named("robots"))

	var fetcher feed.Fetcher
	switch cfg.Fetch.Mode {
	case "headless":
		fetcher, err = headless.New(headless.Config{
			MaxParallel:       cfg.Fetch.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		}, policy)
		if err != nil {
			logger.Fatal("headless fetcher init failed", zap.Error(err))
		}
	default:
		fetcher = plain.New(plain.Config{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}, policy)
	}

	var snapshots feed.SnapshotStore
	switch {
	case cfg.Archive.GCSBucket != "":
		client, gcsErr := gcsclient.NewClient(ctx)
		if gcsErr != nil {
			logger.Fatal("gcs client init failed", zap.Error(gcsErr))
		}
		snapshots, err = gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			logger.Fatal("gcs archive init failed", zap.Error(err))
		}
	case cfg.Archive.LocalDir != "":
		snapshots, err = local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			logger.Fatal("local archive init failed", zap.Error(err))
		}
	}

	var publisher feed.Publisher
	if cfg.PubSub.ProjectID != "" {
		psPublisher, psErr := pubsub.New(ctx, cfg.PubSub.ProjectID)
		if psErr != nil {
			logger.Fatal("pubsub init failed", zap.Error(psErr))
		}
		defer func() {
			if closeErr := psPublisher.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = psPublisher
	}

	engine := extract.New(extract.Config{MaxItems: cfg.Extract.MaxItems})
	renderer := render.NewGenerator(render.Config{BaseURL: cfg.Server.BaseURL})

	run, err := runner.New(runner.Config{
		UserAgent:  cfg.Fetch.UserAgent,
		CacheTTL:   cfg.CacheTTL(),
		EventTopic: cfg.PubSub.TopicName,
	}, runner.Deps{
		Store:     store,
		Fetcher:   fetcher,
		Engine:    engine,
		Renderer:  renderer,
		Cache:     responseCache,
		Snapshots: snapshots,
		Publisher: publisher,
		Logger:    logger.Named("runner"),
	})
	if err != nil {
		logger.Fatal("runner init failed", zap.Error(err))
	}

	sched := scheduler.New(store, run, logger.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	apiServer := api.NewServer(api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
		CacheTTL:    cfg.CacheTTL(),
	}, api.Deps{
		Store:     store,
		Runner:    run,
		Scheduler: sched,
		Cache:     responseCache,
		Renderer:  renderer,
		Engine:    engine,
		Logger:    logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Stop()
	if err := fetcher.Close(shutdownCtx); err != nil {
		logger.Warn("fetcher close failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
