package main

import (
	"context"
	"errors"
	"os"
	"time"

	"finrec/internal/amqp"
	"finrec/internal/cli"
	"finrec/internal/log"
	gsheet "finrec/internal/sheets/google"
	"finrec/internal/worker"

	"golang.org/x/sync/errgroup"
)

const healthInterval = 5 * time.Minute

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.InfoContext(context.Background(), "Starting finrec-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateWorker(); err != nil {
		logger.ErrorContext(context.Background(), "Worker configuration invalid", "error", err)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	sheetsClient, err := gsheet.NewFromEnv(context.Background())
	if err != nil {
		logger.ErrorContext(context.Background(), "Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.InfoContext(context.Background(), "Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.ErrorContext(context.Background(), "Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	mirror := worker.NewMirrorWorker(repo, sheetsClient)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, nil)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumePartitionReplaced(gctx, mirror.HandlePartitionReplaced)
	})
	g.Go(func() error {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := repo.Ping(gctx); err != nil {
					logger.WarnContext(gctx, "Storage health check failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(context.Background(), "Worker stopped with error", "error", err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.InfoContext(context.Background(), "Worker shutdown complete")
}
