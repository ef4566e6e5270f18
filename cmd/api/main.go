package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"servicemanual/api/internal/app"
	"servicemanual/api/internal/config"
	"servicemanual/api/internal/logger"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/search"
	"servicemanual/api/internal/store"
	"servicemanual/api/internal/tagging"
	"servicemanual/api/internal/telemetry"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()

	var (
		repo          store.Repository
		searchService *search.Service
	)
	switch strings.ToLower(cfg.StoreBackend) {
	case "memory":
		log.Info("using in-memory store")
		repo = store.NewMemoryStore()
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL, store.ServerPool)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		if len(applied) > 0 {
			log.Info("migrations applied", "versions", applied)
		}
		repo = store.NewPostgresStore(db)

		pgfts := search.NewPgFTS(db)
		var meili *search.Meili
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
			defer meili.Close()
		}
		searchService = search.NewService(meili, pgfts, log)
		if meili != nil {
			go searchService.ReindexAllFromPG(ctx, pgfts)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	queue, err := openTaggingQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer queue.Close()

	api := publishing.NewClient(cfg.PublishingAPIURL, cfg.PublishingAPIToken, cfg.PublishingAPITimeout, metrics)
	service := app.New(cfg, repo, api, queue, searchService, log, metrics)
	if _, ok := repo.(*store.MemoryStore); ok {
		if err := service.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	worker := tagging.NewWorker(queue, api, cfg.TaggingWorkers, log, metrics)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(ctx) }()

	httpServer := app.NewHTTPServer(service, cfg.JWTSecret, cfg.CORSOrigin, log, metrics)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("service manual API listening", "addr", cfg.Addr, "store", cfg.StoreBackend, "tagging", cfg.TaggingBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	if err := <-workerDone; err != nil {
		log.Warn("tagging worker stopped", "error", err)
	}
	return nil
}

func openTaggingQueue(ctx context.Context, cfg config.Config, log *logger.Logger) (tagging.Queue, error) {
	switch strings.ToLower(cfg.TaggingBackend) {
	case "memory":
		return tagging.NewChannelQueue(1024), nil
	case "redis":
		queue, err := tagging.NewRedisQueue(cfg.RedisURL, "")
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("tagging jobs queued in redis")
		return queue, nil
	case "nats":
		queue, err := tagging.NewNatsQueue(ctx, cfg.NatsURL, cfg.TaggingSubject)
		if err != nil {
			return nil, fmt.Errorf("nats connection failed: %w", err)
		}
		log.Info("tagging jobs queued in nats jetstream", "subject", cfg.TaggingSubject)
		return queue, nil
	default:
		return nil, fmt.Errorf("unknown TAGGING_BACKEND %q", cfg.TaggingBackend)
	}
}
