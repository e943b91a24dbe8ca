package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"savtogether/internal/amqp"
	"savtogether/internal/cache"
	"savtogether/internal/cli"
	"savtogether/internal/clock"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
	"savtogether/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting savtogether-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	clk := clock.Real{}
	m := metrics.New()
	feed := worker.NewFeed(cfg.ActivityFeedSize)
	seen := cache.NewLRU[struct{}](cfg.ActivityFeedSize*4, worker.DedupeWindow, clk)
	activity := worker.NewActivityWorker(feed, seen, m, logger)

	sweeper := cache.NewManager(clk)
	sweeper.Register(seen)
	sweeper.OnSweep = func(n int) {
		if n > 0 {
			logger.Debug("Expired dedupe keys", "count", n)
		}
	}
	sweeper.Start(time.Hour)
	defer sweeper.Stop()

	mux := http.NewServeMux()
	mux.Handle("GET /activity", feed.Handler())
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              ":" + cfg.WorkerPort,
		Handler:           log.Middleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeEvents(gctx, activity.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info("Serving activity feed", "port", cfg.WorkerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped", log.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
