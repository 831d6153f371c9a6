// Package main is the entry point for the galaxy atlas server.
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

	"go.uber.org/zap"

	"github.com/galaxy-atlas/server/internal/api"
	"github.com/galaxy-atlas/server/internal/cache"
	"github.com/galaxy-atlas/server/internal/config"
	"github.com/galaxy-atlas/server/internal/logging"
	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/internal/render"
	"github.com/galaxy-atlas/server/internal/service"
	"github.com/galaxy-atlas/server/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting galaxy atlas server", zap.Int("port", cfg.Server.Port), zap.String("sqlite", cfg.Store.SQLitePath))

	transform, err := cfg.Transform()
	if err != nil {
		return err
	}
	table := transform.Regions()
	diskRadius, diskHeight := cfg.DiskBounds(table)
	logger.Info("region table loaded",
		zap.Int("regions", len(table.Ordered())),
		zap.Float64("scale", cfg.Galaxy.Scale),
		zap.Float64("disk_radius", diskRadius),
		zap.Float64("disk_height", diskHeight))

	st, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		MapCacheSizeMB: cfg.Cache.MapSizeMB,
		MapTTL:         time.Duration(cfg.Cache.MapTTLMinutes) * time.Minute,
		QueryCacheSize: cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheManager.Close()

	renderer := render.NewGalaxyRenderer(table, render.Config{
		MapSize:         cfg.Render.MapSize,
		DefaultColormap: cfg.Render.Colormap,
	})

	galaxyService := service.NewGalaxyService(service.GalaxyServiceConfig{
		Store:      st,
		Transform:  transform,
		Cache:      cacheManager,
		Renderer:   renderer,
		DiskRadius: diskRadius,
		DiskHeight: diskHeight,
		Logger:     logger,
	})

	runner := reconcile.NewRunner(transform, reconcile.Config{
		Concurrency:   cfg.Reconcile.Concurrency,
		BatchInterval: time.Duration(cfg.Reconcile.BatchIntervalMS) * time.Millisecond,
		Logger:        logger,
	})
	reconcileService := service.NewReconcileService(service.ReconcileServiceConfig{
		Store:      st,
		Runner:     runner,
		Galaxy:     galaxyService,
		BatchSize:  cfg.Reconcile.BatchSize,
		DiskRadius: diskRadius,
		DiskHeight: diskHeight,
		Logger:     logger,
	})

	// Sweep jobs run in the background with SQLite persistence
	jobManager := api.NewJobManager(st, reconcileService.ExecuteSweepJob, api.JobManagerConfig{
		MaxConcurrent: cfg.Reconcile.MaxConcurrentSweeps,
		RetentionDays: cfg.Reconcile.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
		Logger:        logger,
	})
	jobManager.Start()
	defer jobManager.Stop()
	logger.Info("sweep job manager started",
		zap.Int("max_concurrent", cfg.Reconcile.MaxConcurrentSweeps),
		zap.Int("retention_days", cfg.Reconcile.RetentionDays))

	router := api.NewRouter(api.RouterConfig{
		Galaxy:      galaxyService,
		Reconcile:   reconcileService,
		JobManager:  jobManager,
		CORSOrigins: cfg.Server.CORSOrigins,
		Title:       cfg.Server.Title,
		MapSize:     cfg.Render.MapSize,
		BatchSize:   cfg.Reconcile.BatchSize,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
