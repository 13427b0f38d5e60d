// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bukudoa/cache"
	"github.com/briangreenhill/bukudoa/internal/clients"
	"github.com/briangreenhill/bukudoa/internal/config"
	"github.com/briangreenhill/bukudoa/internal/http/routes"
	"github.com/briangreenhill/bukudoa/internal/jobs"
	"github.com/briangreenhill/bukudoa/internal/metrics"
	"github.com/briangreenhill/bukudoa/internal/notify"
	"github.com/briangreenhill/bukudoa/internal/offline"
	"github.com/briangreenhill/bukudoa/internal/release"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache storage
	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Cache.Backend).Msg("open cache storage")
	}
	defer closeStorage()

	manifest, err := release.LoadManifest(cfg.Cache.PrecacheManifest)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Cache.PrecacheManifest).Msg("load precache manifest")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	// Clients and notifications
	hub := clients.NewHub(logger)
	sender, err := notify.FromURLs(logger, hub, cfg.Push.NotifyURLs)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure notifications")
	}

	mgr, err := offline.New(offline.Options{
		CacheVersion:   cfg.Cache.Version,
		Namespace:      cfg.Cache.Namespace,
		Origin:         cfg.PublicURL,
		Upstream:       cfg.OriginURL,
		ShellAssets:    cfg.Cache.ShellAssets,
		Precache:       manifest,
		OfflinePage:    cfg.Cache.OfflinePage,
		StrictPrecache: cfg.Cache.StrictPrecache,
		SkipWaiting:    cfg.Cache.SkipWaiting,
		VersionPath:    cfg.Update.VersionPath,
		AppVersion:     cfg.Update.AppVersion,
		UpdateInterval: cfg.Update.Interval,
		UpdateTimeout:  cfg.Update.Timeout,
		Push: offline.PushOptions{
			Title:       cfg.Push.Title,
			DefaultBody: cfg.Push.DefaultBody,
			Icon:        cfg.Push.Icon,
			TTL:         cfg.Push.NotificationTTL,
		},
		Storage:  storage,
		Client:   &http.Client{Timeout: cfg.FetchTimeout},
		Clients:  hub,
		Notifier: sender,
		Metrics:  met,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create offline manager")
	}

	if err := mgr.Register(ctx); err != nil {
		logger.Fatal().Err(err).Msg("install cache generation")
	}

	// Version checks: asynq when Redis is configured, otherwise in process
	var queue routes.Enqueuer
	if cfg.HasRedis() {
		redis := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

		client := asynq.NewClient(redis)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("close asynq client")
			}
		}()
		queue = client

		worker := asynq.NewServer(redis, asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{jobs.QueueVersion: 1},
		})
		if err := worker.Start(jobs.NewMux(mgr, logger)); err != nil {
			logger.Fatal().Err(err).Msg("start asynq server")
		}
		defer worker.Shutdown()
	} else {
		go jobs.Ticker{Interval: cfg.Update.Interval, Checker: mgr, Log: logger}.Run(ctx)
	}

	// Router / server
	s, err := routes.New(routes.ServerOptions{
		Worker:   mgr,
		Clients:  hub,
		Queue:    queue,
		Cfg:      cfg,
		Metrics:  met,
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()
	logger.Info().
		Str("port", cfg.Port).
		Str("cache_version", cfg.Cache.Version).
		Str("backend", cfg.Cache.Backend).
		Bool("redis", cfg.HasRedis()).
		Msg("gateway listening")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	mgr.Retire()
	mgr.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config) (cache.Storage, func(), error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return cache.NewMemoryStorage(), func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := cache.NewPgStorage(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		fs, err := cache.NewFileStorage(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}
