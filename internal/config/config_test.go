package config_test

import (
	"testing"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/config"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("ELASTICSEARCH_ADDR", "")
	t.Setenv("ELASTICSEARCH_INDEX", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("KAFKA_VERDICT_TOPIC", "")
	t.Setenv("KAFKA_CONSUMER_GROUP", "")
	t.Setenv("KAFKA_VERDICT_CONSUMER_GROUP", "")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, config.BackendElasticsearch, cfg.StoreBackend)
	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "claimradar", cfg.ElasticsearchIndex)
	require.Equal(t, "false", cfg.ElasticsearchRefresh)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "documents_raw", cfg.KafkaTopic)
	require.Equal(t, "documents_raw_dlq", cfg.DLQTopic())
	require.Equal(t, "verdicts_published", cfg.VerdictTopic)
	require.Equal(t, "claim-worker", cfg.KafkaConsumer)
	require.Equal(t, "claim-rescorer", cfg.VerdictConsumer)
	require.Equal(t, 20000, cfg.DedupeCapacity)
	require.Equal(t, 24*time.Hour, cfg.DedupeTTL)
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("ELASTICSEARCH_ADDR", "http://localhost:9999")
	t.Setenv("ELASTICSEARCH_INDEX", "custom")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093")
	t.Setenv("KAFKA_TOPIC", "custom_topic")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")
	t.Setenv("WORKER_DEDUPE_CAPACITY", "5")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_BATCH_SIZE", "3")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, config.BackendMemory, cfg.StoreBackend)
	require.Equal(t, "http://localhost:9999", cfg.ElasticsearchAddr)
	require.Equal(t, "custom", cfg.ElasticsearchIndex)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, "custom_topic", cfg.KafkaTopic)
	require.Equal(t, "custom_topic_dlq", cfg.DLQTopic())
	require.Equal(t, "custom-group", cfg.KafkaConsumer)
	require.Equal(t, 5, cfg.DedupeCapacity)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 3, cfg.BatchSize)
}

func TestLoadWorkerRejectsSharedConsumerGroup(t *testing.T) {
	t.Setenv("KAFKA_CONSUMER_GROUP", "same")
	t.Setenv("KAFKA_VERDICT_CONSUMER_GROUP", "same")

	_, err := config.LoadWorker()
	require.Error(t, err)
}

func TestLoadCommonRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")

	_, err := config.LoadCommon()
	require.Error(t, err)
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "15")
	t.Setenv("API_MAX_PAGE_SIZE", "200")
	t.Setenv("ELASTICSEARCH_ADDR", "http://api-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "api-index")
	t.Setenv("KAFKA_BROKERS", " , ")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultPage)
	require.Equal(t, 200, cfg.MaxPage)
	require.Equal(t, "http://api-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "api-index", cfg.ElasticsearchIndex)
	require.Empty(t, cfg.KafkaBrokers)
}

func TestLoadAPIWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Empty(t, cfg.KafkaBrokers)

	_, err = config.LoadWorker()
	require.Error(t, err)
}

func TestLoadAPIPageBounds(t *testing.T) {
	t.Setenv("API_PAGE_SIZE", "50")
	t.Setenv("API_MAX_PAGE_SIZE", "10")

	_, err := config.LoadAPI()
	require.Error(t, err)
}

func TestLoadSweeper(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://sweep-es:9200")
	t.Setenv("SWEEPER_INTERVAL", "90s")
	t.Setenv("SWEEPER_RETRY_BATCH", "25")
	t.Setenv("SWEEPER_PURGE_MAX_AGE", "0s")

	cfg, err := config.LoadSweeper()
	require.NoError(t, err)

	require.Equal(t, 90*time.Second, cfg.Interval)
	require.Equal(t, 25, cfg.RetryBatch)
	require.Zero(t, cfg.PurgeMaxAge)
	require.Equal(t, "http://sweep-es:9200", cfg.ElasticsearchAddr)
}

func TestLoadFeeder(t *testing.T) {
	t.Setenv("FEEDER_URLS", "https://a.example/rss, https://b.example/atom")
	t.Setenv("FEEDER_SOURCE_TYPE", "Official")
	t.Setenv("FEEDER_INTERVAL", "1m")

	cfg, err := config.LoadFeeder()
	require.NoError(t, err)

	require.Equal(t, []string{"https://a.example/rss", "https://b.example/atom"}, cfg.FeedURLs)
	require.Equal(t, models.SourceOfficial, cfg.SourceType)
	require.Equal(t, time.Minute, cfg.Interval)
	require.Equal(t, "documents_raw", cfg.KafkaTopic)
}

func TestLoadFeederValidation(t *testing.T) {
	t.Setenv("FEEDER_URLS", "")
	_, err := config.LoadFeeder()
	require.Error(t, err)

	t.Setenv("FEEDER_URLS", "https://a.example/rss")
	t.Setenv("FEEDER_SOURCE_TYPE", "blog")
	_, err = config.LoadFeeder()
	require.Error(t, err)
}

func TestLoadPipelineDefaults(t *testing.T) {
	cfg, err := config.LoadPipeline()
	require.NoError(t, err)

	require.Equal(t, 0.92, cfg.Dedup.HighThreshold)
	require.Equal(t, 0.80, cfg.Dedup.LowThreshold)
	require.Equal(t, 72*time.Hour, cfg.Dedup.Window)
	require.Equal(t, 10, cfg.Dedup.Neighbors)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Retry.BaseBackoff)
	require.Equal(t, 180*24*time.Hour, cfg.RiskHalfLife)
}

func TestLoadPipelineOverrides(t *testing.T) {
	t.Setenv("DEDUP_HIGH_THRESHOLD", "0.95")
	t.Setenv("DEDUP_LOW_THRESHOLD", "0.7")
	t.Setenv("DEDUP_WINDOW", "24h")
	t.Setenv("RETRY_MAX_ATTEMPTS", "2")
	t.Setenv("UPSTREAM_TIMEOUT", "5s")
	t.Setenv("RISK_HALF_LIFE", "720h")

	cfg, err := config.LoadPipeline()
	require.NoError(t, err)

	require.Equal(t, 0.95, cfg.Dedup.HighThreshold)
	require.Equal(t, 0.7, cfg.Dedup.LowThreshold)
	require.Equal(t, 24*time.Hour, cfg.Dedup.Window)
	require.Equal(t, 2, cfg.Retry.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	require.Equal(t, 720*time.Hour, cfg.RiskHalfLife)
}

func TestLoadPipelineRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("DEDUP_HIGH_THRESHOLD", "0.5")
	t.Setenv("DEDUP_LOW_THRESHOLD", "0.9")

	_, err := config.LoadPipeline()
	require.Error(t, err)
}

func TestLoadLLM(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LLM_BASE_URL", "")
	_, err := config.LoadLLM()
	require.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("LLM_RATE_LIMIT", "2.5")
	cfg, err := config.LoadLLM()
	require.NoError(t, err)
	require.Equal(t, "sk-test", cfg.APIKey)
	require.Equal(t, 768, cfg.Dimensions)
	require.Equal(t, 2.5, cfg.RatePerSecond)
	require.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
}
