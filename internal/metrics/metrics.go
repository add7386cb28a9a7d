// Package metrics holds the Prometheus collectors shared by the binaries.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claimradar"

var (
	// IngestOutcomes counts pipeline results by outcome.
	IngestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_outcomes_total",
		Help:      "Documents processed by the pipeline, by outcome.",
	}, []string{"outcome"})

	// DedupResults counts deduplication decisions by kind.
	DedupResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dedup_results_total",
		Help:      "Deduplication decisions, by kind.",
	}, []string{"kind"})

	// UpstreamDuration observes calls to the embedding and extraction services.
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_call_seconds",
		Help:      "Latency of upstream calls, by service and result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "result"})

	// UpstreamRetries counts retried upstream calls.
	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_retries_total",
		Help:      "Retried upstream calls, by service.",
	}, []string{"service"})

	// ClaimTransitions counts applied workflow transitions.
	ClaimTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_transitions_total",
		Help:      "Applied claim status transitions.",
	}, []string{"from", "to"})

	// ClaimTransitionRejections counts rejected transitions by reason.
	ClaimTransitionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_transition_rejections_total",
		Help:      "Rejected claim status transitions, by reason.",
	}, []string{"reason"})

	// RiskRecomputations counts actor risk recomputations by resulting tier.
	RiskRecomputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "risk_recomputations_total",
		Help:      "Actor risk recomputations, by resulting tier.",
	}, []string{"tier"})

	// DeferredDocuments tracks documents waiting for a retry after the last sweep.
	DeferredDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deferred_documents",
		Help:      "Documents carrying the deferred retry marker at the last sweep.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
