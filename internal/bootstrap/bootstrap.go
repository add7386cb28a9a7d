// Package bootstrap wires the content store, the upstream model clients and
// the pipeline for the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/config"
	"github.com/DeafMist/claim-radar/backend/internal/dedupe"
	"github.com/DeafMist/claim-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/claim-radar/backend/internal/embedding"
	"github.com/DeafMist/claim-radar/backend/internal/extract"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
	"github.com/DeafMist/claim-radar/backend/internal/risk"
	"github.com/DeafMist/claim-radar/backend/internal/store"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

// HealthFunc reports whether the store backend is reachable.
type HealthFunc func(ctx context.Context) error

// ConnectOptions bound the startup connection loop.
type ConnectOptions struct {
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// DefaultConnectOptions retries for roughly three minutes.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{MaxRetries: 10, RetryDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// OpenStore returns the configured store backend. The Elasticsearch backend is
// pinged with exponential backoff and its indices are created when missing.
func OpenStore(ctx context.Context, common config.Common, dimensions int, opts ConnectOptions, log *slog.Logger) (store.Store, HealthFunc, error) {
	if common.StoreBackend == config.BackendMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), func(context.Context) error { return nil }, nil
	}

	es, err := ConnectElasticsearch(ctx, common, dimensions, opts, log)
	if err != nil {
		return nil, nil, err
	}
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := es.EnsureIndices(setupCtx); err != nil {
		return nil, nil, fmt.Errorf("ensure indices: %w", err)
	}
	return es, es.Health, nil
}

// ConnectElasticsearch creates a client and waits until the cluster answers a ping.
func ConnectElasticsearch(ctx context.Context, common config.Common, dimensions int, opts ConnectOptions, log *slog.Logger) (*elasticsearch.Client, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	delay := opts.RetryDelay

	esClient, err := elasticsearch.New(common.ElasticsearchAddr, common.ElasticsearchIndex, elasticsearch.Options{
		Dimensions: dimensions,
		Refresh:    common.ElasticsearchRefresh,
	}, log)
	if err != nil {
		return nil, err
	}

	var pingErr error
	for i := 0; i < opts.MaxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr = esClient.Ping(pingCtx)
		cancel()
		if pingErr == nil {
			log.Info("connected to elasticsearch", slog.String("addr", common.ElasticsearchAddr))
			return esClient, nil
		}

		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", pingErr),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", opts.MaxRetries),
			slog.Duration("retry_in", delay),
		)
		if i == opts.MaxRetries-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if opts.MaxDelay > 0 && delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return nil, fmt.Errorf("elasticsearch unreachable after %d attempts: %w", opts.MaxRetries, pingErr)
}

// NewGateway builds the embedding gateway: OpenAI client, rate limit, memo cache.
func NewGateway(llm *config.LLM) (embedding.Gateway, error) {
	base, err := embedding.NewOpenAI(llm.APIKey, llm.BaseURL, llm.EmbeddingModel, llm.Dimensions)
	if err != nil {
		return nil, err
	}
	return embedding.NewCached(embedding.NewThrottled(base, llm.RatePerSecond, llm.Burst), llm.CacheTTL), nil
}

// NewExtractor builds the rate limited claim extractor.
func NewExtractor(llm *config.LLM) (extract.Extractor, error) {
	base, err := extract.NewOpenAI(llm.APIKey, llm.BaseURL, llm.ChatModel)
	if err != nil {
		return nil, err
	}
	return extract.NewThrottled(base, llm.RatePerSecond, llm.Burst), nil
}

// NewScorer builds a risk scorer on st outside of a pipeline.
func NewScorer(st store.Store, cfg pipeline.Config, log *slog.Logger) *risk.Scorer {
	return risk.New(st, risk.Config{Weights: risk.DefaultWeights(), HalfLife: cfg.RiskHalfLife}, log)
}

// PipelineDeps are the optional collaborators of NewPipeline.
type PipelineDeps struct {
	Notifier workflow.Notifier
	Recent   *dedupe.Recent
}

// NewPipeline wires the upstream clients around st.
func NewPipeline(st store.Store, llm *config.LLM, cfg pipeline.Config, deps PipelineDeps, log *slog.Logger) (*pipeline.Pipeline, error) {
	gw, err := NewGateway(llm)
	if err != nil {
		return nil, fmt.Errorf("embedding gateway: %w", err)
	}
	ex, err := NewExtractor(llm)
	if err != nil {
		return nil, fmt.Errorf("claim extractor: %w", err)
	}
	return pipeline.New(pipeline.Deps{
		Store:     st,
		Gateway:   gw,
		Extractor: ex,
		Notifier:  deps.Notifier,
		Recent:    deps.Recent,
	}, cfg, log)
}
