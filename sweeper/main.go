package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/claim-radar/backend/internal/bootstrap"
	"github.com/DeafMist/claim-radar/backend/internal/config"
	"github.com/DeafMist/claim-radar/backend/internal/logger"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

type sweepTarget interface {
	RetryDeferred(ctx context.Context, limit int) (pipeline.RetryReport, error)
	Store() store.Store
}

func main() {
	log := logger.New("sweeper")
	cfg, err := config.LoadSweeper()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	llm, err := config.LoadLLM()
	if err != nil {
		log.Error("load llm config", slog.Any("err", err))
		os.Exit(1)
	}
	pcfg, err := config.LoadPipeline()
	if err != nil {
		log.Error("load pipeline config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, _, err := bootstrap.OpenStore(ctx, cfg.Common, llm.Dimensions, bootstrap.DefaultConnectOptions(), log)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}

	p, err := bootstrap.NewPipeline(st, llm, pcfg, bootstrap.PipelineDeps{}, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("sweeper running",
		slog.Duration("interval", cfg.Interval),
		slog.Int("retry_batch", cfg.RetryBatch),
		slog.Duration("purge_max_age", cfg.PurgeMaxAge),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr, log) })
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		// Run immediately on start, but don't fail if the store is temporarily unavailable
		runOnce(gctx, log, p, cfg, time.Now)

		for {
			select {
			case <-gctx.Done():
				log.Info("shutdown signal received")
				return nil
			case <-ticker.C:
				runOnce(gctx, log, p, cfg, time.Now)
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error("sweeper stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

// runOnce re-drives deferred documents, purges old confirmed duplicates and
// refreshes the deferred gauge. Failures are logged and retried next interval.
func runOnce(ctx context.Context, log *slog.Logger, target sweepTarget, cfg *config.Sweeper, now func() time.Time) {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	report, err := target.RetryDeferred(subCtx, cfg.RetryBatch)
	if err != nil {
		log.Warn("deferred retry failed (will retry on next interval)", slog.Any("err", err))
	} else if report.Attempted > 0 {
		log.Info("deferred retry completed",
			slog.Int("attempted", report.Attempted),
			slog.Int("recovered", report.Recovered),
			slog.Int("flagged", report.Flagged),
			slog.Int("deferred", report.Deferred),
			slog.Int("failed", report.Failed),
		)
	} else {
		log.Debug("deferred retry completed, nothing to do")
	}

	if cfg.PurgeMaxAge > 0 {
		deleted, err := target.Store().PurgeDuplicates(subCtx, now().Add(-cfg.PurgeMaxAge))
		if err != nil {
			log.Warn("duplicate purge failed (will retry on next interval)", slog.Any("err", err))
		} else if deleted > 0 {
			log.Info("duplicate purge completed", slog.Int64("deleted", deleted))
		}
	}

	pending, err := target.Store().ListDeferred(subCtx, store.NormalizeLimit(1000))
	if err != nil {
		log.Warn("count deferred documents", slog.Any("err", err))
		return
	}
	metrics.DeferredDocuments.Set(float64(len(pending)))
}
