package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"savtogether/internal/cli"
	"savtogether/internal/clock"
	"savtogether/internal/config"
	"savtogether/internal/core"
	"savtogether/internal/facade"
	apphttp "savtogether/internal/http"
	"savtogether/internal/latency"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
	"savtogether/internal/poller"
	"savtogether/internal/random"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	be := cli.InitBackend(ctx, logger, cfg)

	m := metrics.New()
	clk := clock.Real{}
	f := facade.New(facade.Config{
		AcceptDelay: cfg.InviteAcceptDelay,
		Poller: poller.Config{
			InvitationInterval:      cfg.InvitationPollInterval,
			ContributionInterval:    cfg.ContributionInterval,
			ContributionProbability: cfg.ContributionProbability,
		},
	}, facade.Deps{
		Store:     be.Store,
		Clock:     clk,
		Latency:   latency.New(clk, cfg.LatencyScale),
		Random:    newRandom(cfg, logger),
		Publisher: be.Publisher,
		Metrics:   m,
		Logger:    logger,
	})

	if u, err := f.Restore(ctx); err == nil {
		logger.Info("Restored session", log.FieldUserID, u.ID, "partnered", u.HasPartner())
	} else if !errors.Is(err, core.ErrNotAuthenticated) {
		logger.Warn("Failed to restore session", log.FieldError, err)
	}

	srv := apphttp.NewServer(":"+cfg.Port, f, apphttp.Options{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:    cfg.TrustedProxies,
		Clock:             clk,
		Metrics:           m,
		Logger:            logger,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		f.Close()
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting savtogether server", "port", cfg.Port, "backend", cfg.DataBackend, "events", be.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}

// newRandom seeds the contribution simulator from RANDOM_SEED, or from
// crypto/rand when it is unset.
func newRandom(cfg *config.Config, logger *log.Logger) random.Source {
	if cfg.RandomSeed != 0 {
		return random.NewSeeded(int64(cfg.RandomSeed))
	}
	seed, err := random.NewSeed()
	if err != nil {
		logger.Warn("Falling back to time-based seed", log.FieldError, err)
		seed = time.Now().UnixNano()
	}
	return random.NewSeeded(seed)
}
