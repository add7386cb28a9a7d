package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendElasticsearch = "elasticsearch"
	BackendMemory        = "memory"
)

// Common contains content store parameters shared by every service.
type Common struct {
	StoreBackend         string
	ElasticsearchAddr    string
	ElasticsearchIndex   string
	ElasticsearchRefresh string
}

// Kafka lists the brokers and topics shared by producers and consumers.
type Kafka struct {
	KafkaBrokers []string
	KafkaTopic   string
	VerdictTopic string
}

// DLQTopic is where the worker parks messages it could not process.
func (k Kafka) DLQTopic() string {
	return k.KafkaTopic + "_dlq"
}

// Worker holds configuration for the Kafka -> pipeline worker.
type Worker struct {
	Common
	Kafka
	KafkaConsumer   string
	VerdictConsumer string
	DedupeCapacity  int
	DedupeTTL       time.Duration
	BatchSize       int
	MetricsAddr     string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Kafka
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Sweeper configures the deferred-retry and duplicate purge loop.
type Sweeper struct {
	Common
	Interval   time.Duration
	RetryBatch int
	// PurgeMaxAge is how long confirmed duplicates are kept. Zero disables the purge.
	PurgeMaxAge time.Duration
	MetricsAddr string
}

// Feeder configures the RSS/Atom producer.
type Feeder struct {
	Kafka
	FeedURLs       []string
	Interval       time.Duration
	SourceType     models.SourceType
	RequestTimeout time.Duration
	SeenCapacity   int
}

// LLM configures the OpenAI-compatible embedding and extraction services.
type LLM struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Dimensions     int
	RatePerSecond  float64
	Burst          int
	CacheTTL       time.Duration
}

// LoadCommon reads the store selection.
func LoadCommon() (Common, error) {
	c := Common{
		StoreBackend:         strings.ToLower(getEnv("STORE_BACKEND", BackendElasticsearch)),
		ElasticsearchAddr:    getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex:   getEnv("ELASTICSEARCH_INDEX", "claimradar"),
		ElasticsearchRefresh: getEnv("ELASTICSEARCH_REFRESH", "false"),
	}

	switch c.StoreBackend {
	case BackendElasticsearch, BackendMemory:
	default:
		return Common{}, fmt.Errorf("STORE_BACKEND must be %q or %q", BackendElasticsearch, BackendMemory)
	}

	switch c.ElasticsearchRefresh {
	case "false", "true", "wait_for":
	default:
		return Common{}, fmt.Errorf("ELASTICSEARCH_REFRESH must be false, true or wait_for")
	}

	return c, nil
}

func loadKafka(requireBrokers bool) (Kafka, error) {
	// An explicitly empty KAFKA_BROKERS turns the bus off where that is allowed.
	brokers := "kafka:9092"
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		brokers = v
	}
	k := Kafka{
		KafkaBrokers: splitAndTrim(brokers),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "documents_raw"),
		VerdictTopic: getEnv("KAFKA_VERDICT_TOPIC", "verdicts_published"),
	}
	if requireBrokers && len(k.KafkaBrokers) == 0 {
		return Kafka{}, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	return k, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	common, err := LoadCommon()
	if err != nil {
		return nil, err
	}
	kafka, err := loadKafka(true)
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:          common,
		Kafka:           kafka,
		KafkaConsumer:   getEnv("KAFKA_CONSUMER_GROUP", "claim-worker"),
		VerdictConsumer: getEnv("KAFKA_VERDICT_CONSUMER_GROUP", "claim-rescorer"),
		DedupeCapacity:  getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:       getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:       getInt("WORKER_BATCH_SIZE", 10),
		MetricsAddr:     getEnv("WORKER_METRICS_ADDR", ":9101"),
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.KafkaConsumer == c.VerdictConsumer {
		return nil, fmt.Errorf("KAFKA_CONSUMER_GROUP and KAFKA_VERDICT_CONSUMER_GROUP must differ")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables. KAFKA_BROKERS may
// be empty, in which case verdict events are handled in process.
func LoadAPI() (*API, error) {
	common, err := LoadCommon()
	if err != nil {
		return nil, err
	}
	kafka, err := loadKafka(false)
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:      common,
		Kafka:       kafka,
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadSweeper builds a Sweeper config from environment variables.
func LoadSweeper() (*Sweeper, error) {
	common, err := LoadCommon()
	if err != nil {
		return nil, err
	}

	c := &Sweeper{
		Common:      common,
		Interval:    getDuration("SWEEPER_INTERVAL", "5m"),
		RetryBatch:  getInt("SWEEPER_RETRY_BATCH", 100),
		PurgeMaxAge: getDuration("SWEEPER_PURGE_MAX_AGE", "720h"),
		MetricsAddr: getEnv("SWEEPER_METRICS_ADDR", ":9102"),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("SWEEPER_INTERVAL must be positive")
	}
	if c.RetryBatch <= 0 {
		return nil, fmt.Errorf("SWEEPER_RETRY_BATCH must be positive")
	}
	if c.PurgeMaxAge < 0 {
		return nil, fmt.Errorf("SWEEPER_PURGE_MAX_AGE cannot be negative")
	}

	return c, nil
}

// LoadFeeder builds a Feeder config from environment variables.
func LoadFeeder() (*Feeder, error) {
	kafka, err := loadKafka(true)
	if err != nil {
		return nil, err
	}

	c := &Feeder{
		Kafka:          kafka,
		FeedURLs:       splitAndTrim(getEnv("FEEDER_URLS", "")),
		Interval:       getDuration("FEEDER_INTERVAL", "10m"),
		SourceType:     models.SourceType(strings.ToLower(getEnv("FEEDER_SOURCE_TYPE", string(models.SourceMedia)))),
		RequestTimeout: getDuration("FEEDER_REQUEST_TIMEOUT", "30s"),
		SeenCapacity:   getInt("FEEDER_SEEN_CAPACITY", 5000),
	}

	if len(c.FeedURLs) == 0 {
		return nil, fmt.Errorf("FEEDER_URLS must contain at least one feed")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("FEEDER_INTERVAL must be positive")
	}
	if !c.SourceType.Valid() {
		return nil, fmt.Errorf("FEEDER_SOURCE_TYPE %q is not a known source type", c.SourceType)
	}
	if c.SeenCapacity <= 0 {
		return nil, fmt.Errorf("FEEDER_SEEN_CAPACITY must be positive")
	}

	return c, nil
}

// LoadPipeline builds the orchestrator config, starting from its defaults.
func LoadPipeline() (pipeline.Config, error) {
	c := pipeline.DefaultConfig()

	c.Dedup.HighThreshold = getFloat("DEDUP_HIGH_THRESHOLD", c.Dedup.HighThreshold)
	c.Dedup.LowThreshold = getFloat("DEDUP_LOW_THRESHOLD", c.Dedup.LowThreshold)
	c.Dedup.Window = getDuration("DEDUP_WINDOW", c.Dedup.Window.String())
	c.Dedup.Neighbors = getInt("DEDUP_NEIGHBORS", c.Dedup.Neighbors)

	c.Retry.MaxAttempts = getInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseBackoff = getDuration("RETRY_BASE_BACKOFF", c.Retry.BaseBackoff.String())
	c.Retry.Multiplier = getFloat("RETRY_MULTIPLIER", c.Retry.Multiplier)
	c.Retry.MaxBackoff = getDuration("RETRY_MAX_BACKOFF", c.Retry.MaxBackoff.String())

	c.UpstreamTimeout = getDuration("UPSTREAM_TIMEOUT", c.UpstreamTimeout.String())
	c.RiskHalfLife = getDuration("RISK_HALF_LIFE", c.RiskHalfLife.String())
	c.KeywordLimit = getInt("PIPELINE_KEYWORD_LIMIT", c.KeywordLimit)
	c.KeywordMinLength = getInt("PIPELINE_KEYWORD_MIN_LEN", c.KeywordMinLength)
	c.DefaultTags = getInt("PIPELINE_DEFAULT_TAGS", c.DefaultTags)
	c.MaxDeferredAttempts = getInt("PIPELINE_MAX_DEFERRED_ATTEMPTS", c.MaxDeferredAttempts)

	if err := c.Validate(); err != nil {
		return pipeline.Config{}, fmt.Errorf("pipeline config: %w", err)
	}
	return c, nil
}

// LoadLLM builds the upstream model config. Either LLM_API_KEY or
// LLM_BASE_URL must be set.
func LoadLLM() (*LLM, error) {
	c := &LLM{
		APIKey:         getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		BaseURL:        getEnv("LLM_BASE_URL", ""),
		EmbeddingModel: getEnv("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		ChatModel:      getEnv("LLM_CHAT_MODEL", "gpt-4o-mini"),
		Dimensions:     getInt("LLM_EMBEDDING_DIMENSIONS", 1536),
		RatePerSecond:  getFloat("LLM_RATE_LIMIT", 5),
		Burst:          getInt("LLM_RATE_BURST", 5),
		CacheTTL:       getDuration("LLM_CACHE_TTL", "24h"),
	}

	if c.APIKey == "" && c.BaseURL == "" {
		return nil, fmt.Errorf("LLM_API_KEY or LLM_BASE_URL must be set")
	}
	if c.Dimensions <= 0 {
		return nil, fmt.Errorf("LLM_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.RatePerSecond <= 0 || c.Burst <= 0 {
		return nil, fmt.Errorf("LLM_RATE_LIMIT and LLM_RATE_BURST must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
