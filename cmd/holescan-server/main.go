// Package main provides the holescan coordination server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minhvn/holescan/internal/blob"
	"github.com/minhvn/holescan/internal/config"
	"github.com/minhvn/holescan/internal/db"
	"github.com/minhvn/holescan/internal/dispatch"
	"github.com/minhvn/holescan/internal/listing"
	"github.com/minhvn/holescan/internal/match"
	"github.com/minhvn/holescan/internal/metrics"
	"github.com/minhvn/holescan/internal/notify"
	"github.com/minhvn/holescan/internal/queue"
	"github.com/minhvn/holescan/internal/report"
	"github.com/minhvn/holescan/internal/server"
	"github.com/minhvn/holescan/internal/store"
	"github.com/minhvn/holescan/internal/worker"
)

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize logging
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}()
	slog.SetDefault(logger)

	logger.Info("starting holescan-server",
		"addr", cfg.ListenAddr, "store", cfg.StoreBackend, "queue", cfg.QueueBackend,
		"blob", cfg.BlobBackend, "workers", cfg.Workers)

	if err := run(cfg, *wipeDB, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func run(cfg config.Config, wipeDB bool, logger *slog.Logger) error {
	// Connect SurrealDB when either backend needs it
	var dbClient *db.Client
	if cfg.StoreBackend == "surreal" || cfg.QueueBackend == "surreal" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		var err error
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			cancel()
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			cancel()
			return fmt.Errorf("initialize schema: %w", err)
		}
		if wipeDB || os.Getenv("HOLESCAN_WIPE_DB") == "true" {
			if err := dbClient.WipeData(ctx); err != nil {
				cancel()
				return fmt.Errorf("wipe database: %w", err)
			}
		}
		cancel()
		defer func() {
			if err := dbClient.Close(context.Background()); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()
	}

	// Backend selection
	var st store.Store
	switch cfg.StoreBackend {
	case "surreal":
		st = store.NewSurreal(dbClient)
	case "memory":
		st = store.NewMemory()
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case "surreal":
		q = queue.NewSurreal(dbClient, cfg.VisibilityTimeout)
	case "memory":
		q = queue.NewMemory(cfg.VisibilityTimeout)
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	var blobs blob.ObjectStore
	switch cfg.BlobBackend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		s3Store, err := blob.NewS3(ctx, cfg.S3Bucket, cfg.S3Prefix, time.Hour)
		cancel()
		if err != nil {
			return fmt.Errorf("init s3 store: %w", err)
		}
		blobs = s3Store
	case "fs":
		fsStore, err := blob.NewFS(cfg.ArtifactDir)
		if err != nil {
			return fmt.Errorf("init artifact dir: %w", err)
		}
		blobs = fsStore
	default:
		return fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}

	// Shared coordination components
	hub := notify.NewHub(logger)
	coll := metrics.NewCollector()
	disp := dispatch.New(st, q, hub, cfg.BatchSize, logger)

	srv := server.New(server.Deps{
		Store:      st,
		Lister:     listing.NewLocal(),
		Dispatcher: disp,
		Hub:        hub,
		Metrics:    coll,
		Logger:     logger,
	})

	// Worker pool
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	pool := worker.NewPool(cfg.Workers, worker.Deps{
		Store:     st,
		Queue:     q,
		Processor: match.NewCodeMatcher(),
		Reports:   report.NewExcelBuilder(),
		Blobs:     blobs,
		Notifier:  hub,
		Metrics:   coll,
		Logger:    logger,
	}, 0)
	pool.Start(workerCtx)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		stopWorkers()
		return err
	case <-quit:
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		stopWorkers()
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Drain workers after the listener closes
	stopWorkers()
	pool.Wait()

	return nil
}
