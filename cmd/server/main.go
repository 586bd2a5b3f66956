// Package main implements the productdb HTTP server.
//
// API Endpoints:
//
//	POST /enqueue                       - Submits a job and returns its progress URLs
//	POST /schedule                      - Registers a periodic job
//	GET  /stats                         - Queue depths
//	GET  /tasks?queue=<name>            - Inspects up to 50 tasks of a queue
//	GET  /productdb/task/{id}           - Progress page for a task
//	GET  /productdb/task/watch/{id}     - Status snapshot polled by the progress page
//	GET  /metrics, GET /health
//
// Enqueue request:
//
//	{
//	  "type": "productdb.import_price_list",
//	  "payload": {"file": "prices.csv"},
//	  "priority": 2,
//	  "title": "Importing price list",
//	  "redirect_to": "/productdb/prices/",
//	  "auto_redirect": true
//	}
//
// Usage:
//
//	go run ./cmd/server -config configs/productdb.yaml
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
	"github.com/guido-cesarano/productdb/pkg/status"
	"github.com/guido-cesarano/productdb/pkg/store"
	"github.com/guido-cesarano/productdb/pkg/tasks"
)

// purgeInterval is how often expired rows are removed from the MySQL backend.
const purgeInterval = time.Hour

type purger interface {
	Purge(ctx context.Context) (int64, error)
}

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

	if err := run(ctx, cfg); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
	logger.Log.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	client := queue.NewClient(cfg.Redis.Addr,
		queue.WithPassword(cfg.Redis.Password),
		queue.WithDB(cfg.Redis.DB),
		queue.WithResultTTL(cfg.Results.TTL),
	)
	defer client.Close()

	ts, closeStore, err := store.Open(ctx, cfg.Results, client)
	if err != nil {
		return err
	}
	defer closeStore()

	if p, ok := ts.(purger); ok {
		go purgeLoop(ctx, p)
	}

	client.StartCronScheduler()
	defer client.StopCronScheduler()
	for _, sc := range cfg.Schedules {
		entryID, err := client.Schedule(ctx, sc.Spec, tasks.Task{Type: sc.Type, Priority: sc.Priority})
		if err != nil {
			return err
		}
		logger.Log.Info().Str("spec", sc.Spec).Str("type", sc.Type).Int("entry_id", int(entryID)).Msg("Periodic job registered")
	}

	if cfg.Server.APIKey == "" {
		logger.Log.Warn().Msg("server.api_key not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}
	if cfg.Server.Debug {
		logger.Log.Warn().Msg("Debug mode: task status is served to non-ajax requests")
	}

	svc := status.NewService(ts, ts,
		status.WithLogger(logger.GetLogger()),
		status.WithHomePath(cfg.Server.HomePath),
	)
	app := newApplication(client, ts, svc, cfg.Server.APIKey, cfg.Server.Debug)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           setupRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("addr", cfg.Server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func purgeLoop(ctx context.Context, p purger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Purge(ctx)
			if err != nil {
				logger.Log.Error().Err(err).Msg("Failed to purge expired results")
				continue
			}
			if n > 0 {
				logger.Log.Info().Int64("rows", n).Msg("Purged expired results")
			}
		}
	}
}
