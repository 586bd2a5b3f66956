// Package main implements the productdb worker process.
// The worker dequeues tasks from Redis, runs them and records their progress in
// the result store, where the progress page polls it.
//
// Features:
//   - Priority queues with per-type rate limiting
//   - Progress reporting (STARTED, PROCESSING, SUCCESS, FAILURE)
//   - Automatic retry with exponential backoff, then Dead Letter Queue
//   - Prometheus metrics on worker.metrics_addr
//
// Usage:
//
//	go run ./cmd/worker -config configs/productdb.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/productdb/pkg/config"
	"github.com/guido-cesarano/productdb/pkg/logger"
	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/guido-cesarano/productdb/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", os.Getenv("PDB_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Setup(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := queue.NewClient(cfg.Redis.Addr,
		queue.WithPassword(cfg.Redis.Password),
		queue.WithDB(cfg.Redis.DB),
		queue.WithResultTTL(cfg.Results.TTL),
	)
	defer client.Close()

	ts, closeStore, err := store.Open(ctx, cfg.Results, client)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to open result store")
	}
	defer closeStore()

	metrics := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Log.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("Metrics server listening")
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go collectQueueMetrics(ctx, client)

	w := newWorker(client, ts, workerOptions{
		MaxRetries: cfg.Worker.MaxRetries,
		RateLimit:  cfg.Worker.RateLimit,
		Burst:      cfg.Worker.Burst,
	})

	logger.Log.Info().Msg("Worker started. Waiting for tasks...")
	w.run(ctx)

	logger.Log.Info().Msg("Shutting down worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metrics.Shutdown(shutdownCtx)
}
