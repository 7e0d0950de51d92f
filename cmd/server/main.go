package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dennispaul8/bot-dashboard/internal/api"
	"github.com/dennispaul8/bot-dashboard/internal/auth"
	"github.com/dennispaul8/bot-dashboard/internal/config"
	"github.com/dennispaul8/bot-dashboard/internal/database"
	"github.com/dennispaul8/bot-dashboard/internal/logging"
	"github.com/dennispaul8/bot-dashboard/internal/media"
	"github.com/dennispaul8/bot-dashboard/internal/metrics"
	"github.com/dennispaul8/bot-dashboard/internal/push"
	"github.com/dennispaul8/bot-dashboard/internal/server"
	"github.com/dennispaul8/bot-dashboard/internal/social"
	"github.com/dennispaul8/bot-dashboard/internal/watcher"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting bot-dashboard")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.Database.URL

	logger.Info("connecting to database")
	db, err := database.Connect(context.Background(), dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// Run pending migrations (non-fatal to allow app to start even if migrations fail)
	if err := database.RunMigrations(db, "./migrations", logger); err != nil {
		logger.Warn("failed to run migrations, continuing anyway", "error", err)
	}

	// Create repositories
	accountRepo := database.NewPostgresAccountRepository(db)
	activityRepo := database.NewActivityLogRepository(db, cfg.Watcher.LogCap)

	// Platform client and media storage
	twitterClient := social.NewClient(
		cfg.Twitter.APIKey,
		cfg.Twitter.APISecret,
		cfg.Twitter.BearerToken,
		cfg.Twitter.RatePerSec,
		cfg.Twitter.RequestTimeout,
		logger,
	)

	mediaStore, err := media.NewStore(cfg.Media.UploadDir, cfg.Media.MaxUploadBytes)
	if err != nil {
		logger.Error("failed to init media store", "error", err)
		os.Exit(1)
	}

	// Metrics
	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	// Live dashboard push
	hub := push.NewHub()

	// Watch loop
	fetcher := watcher.NewFetcher(twitterClient, cfg.Watcher.FetchCacheTTL, cfg.Watcher.FetchTimeout, logger)
	dispatcher := watcher.NewDispatcher(twitterClient, mediaStore, logger)
	milestoneWatcher := watcher.New(accountRepo, activityRepo, fetcher, dispatcher, hub, collector, logger, watcher.Config{
		Step:       cfg.Watcher.Step,
		AttemptTTL: cfg.Watcher.AttemptTTL,
		Workers:    cfg.Watcher.Workers,
	})

	// Setup HTTP routes
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.HealthCheck(r.Context(), db); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Service info endpoint
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"bot-dashboard","status":"ready","version":"0.1.0"}`))
	})

	mux.Handle("/metrics", collector.Handler())

	// Load auth configuration
	authConfig := auth.LoadConfigFromEnv()
	logger.Info("auth configured", "jwt_secret_set", authConfig.JWTSecret != "change-this-secret")

	// Add REST API routes
	logger.Info("setting up REST API")
	api.SetupRoutes(mux, accountRepo, activityRepo, fetcher, milestoneWatcher, mediaStore, hub, authConfig, logger)

	// Start the milestone watcher
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := milestoneWatcher.Start(watchCtx, cfg.Watcher.CronSpec); err != nil {
		logger.Error("failed to start milestone watcher", "error", err)
		os.Exit(1)
	}

	// Serve the dashboard SPA around the API routes
	handler := server.SPAMiddleware(collector.InstrumentHandler(mux), "./static", "./static/index.html")

	srv := server.New(cfg.Server, logger, handler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	stopWatch()
	milestoneWatcher.Stop()

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("bot-dashboard stopped")
}
