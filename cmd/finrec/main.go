package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finrec/internal/backend"
	"finrec/internal/cache"
	"finrec/internal/cli"
	"finrec/internal/core"
	apphttp "finrec/internal/http"
	"finrec/internal/log"
	"finrec/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.ErrorContext(context.Background(), "Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.ErrorContext(context.Background(), "Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	ingest := services.NewIngestService(be.Store, be.Publisher)

	var (
		recordCache  *cache.LRUCache[[]core.FinancialRecord]
		cacheManager = cache.NewManager()
		cacheStats   func() (int, uint64, uint64)
	)
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		recordCache = cache.NewLRUCache[[]core.FinancialRecord](cfg.CacheSize, cfg.CacheTTL)
		cacheManager.Register(recordCache)
		cacheManager.StartCleanup(time.Minute)
		cacheStats = func() (int, uint64, uint64) {
			hits, misses := recordCache.Stats()
			return recordCache.Size(), hits, misses
		}
	}
	records := services.NewRecordService(be.Store, recordCache)
	ingest.OnReplaced(records.Invalidate)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Ingest:  ingest,
		Records: records,
		Store:   be.Store,
		Logger:  logger,
	}, apphttp.Options{
		UploadDir:          cfg.UploadDir,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CacheStats:         cacheStats,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "Server shutdown error", "error", err)
		}
		cacheManager.Stop()
		if err := be.Cleanup(); err != nil {
			logger.ErrorContext(shutdownCtx, "Backend cleanup error", "error", err)
		}
	})

	logger.InfoContext(ctx, "Starting finrec server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"upload_dir", cfg.UploadDir,
		"amqp_enabled", be.Publisher != nil,
		"cache_enabled", recordCache != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorContext(ctx, "Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.InfoContext(context.Background(), "Server stopped gracefully")
}
