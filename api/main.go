package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/claim-radar/backend/internal/bootstrap"
	"github.com/DeafMist/claim-radar/backend/internal/config"
	"github.com/DeafMist/claim-radar/backend/internal/events"
	"github.com/DeafMist/claim-radar/backend/internal/logger"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
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

	st, health, err := bootstrap.OpenStore(ctx, cfg.Common, llm.Dimensions, bootstrap.DefaultConnectOptions(), log)
	if err != nil {
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}

	var notifier workflow.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		w := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.VerdictTopic)
		defer w.Close()
		notifier = events.NewPublisher(w, log)
		log.Info("verdict events go to kafka", slog.String("topic", cfg.VerdictTopic))
	} else {
		notifier = events.NewRescorer(bootstrap.NewScorer(st, pcfg, log), log)
		log.Info("no kafka brokers configured, rescoring actors in process")
	}

	p, err := bootstrap.NewPipeline(st, llm, pcfg, bootstrap.PipelineDeps{Notifier: notifier}, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{log: log, cfg: cfg, pipeline: p, health: health}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Ingest waits on upstream retries.
		WriteTimeout: 2*pcfg.UpstreamTimeout + 15*time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	pipeline *pipeline.Pipeline
	health   bootstrap.HealthFunc
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.handleSearchDocuments)
		r.Post("/", s.handleIngest)
		r.Post("/retry", s.handleRetryDeferred)
		r.Get("/{id}", s.handleGetDocument)
	})

	r.Route("/dedup", func(r chi.Router) {
		r.Get("/review", s.handleReviewQueue)
		r.Post("/review/{id}", s.handleResolveDuplicate)
	})

	r.Route("/claims", func(r chi.Router) {
		r.Get("/", s.handleListClaims)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetClaim)
			r.Post("/transitions", s.handleTransition)
			r.Get("/verdicts", s.handleListVerdicts)
			r.Post("/verdicts", s.handlePublishVerdict)
			r.Post("/retract", s.handleRetract)
			r.Get("/actors", s.handleClaimActors)
		})
	})

	r.Route("/actors", func(r chi.Router) {
		r.Post("/", s.handlePutActor)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetActor)
			r.Post("/claims", s.handleLinkClaim)
			r.Post("/risk", s.handleRecomputeRisk)
		})
	})

	return r
}
