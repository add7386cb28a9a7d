package pipeline

import (
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/dedupe"
	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/risk"
)

// RetryConfig bounds the exponential backoff applied to upstream calls.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
}

// Config is everything the orchestrator needs besides its collaborators.
type Config struct {
	Dedup            dedupe.Config
	Retry            RetryConfig
	UpstreamTimeout  time.Duration
	RiskHalfLife     time.Duration
	KeywordLimit     int
	KeywordMinLength int
	// DefaultTags is how many document keywords become tags of claims the
	// extractor returned without any.
	DefaultTags int
	// MaxDeferredAttempts bounds how often a document whose extraction fails
	// with a non-retryable error is retried before it is marked failed.
	MaxDeferredAttempts int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Dedup: dedupe.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseBackoff: 500 * time.Millisecond,
			Multiplier:  2,
			MaxBackoff:  10 * time.Second,
		},
		UpstreamTimeout:  30 * time.Second,
		RiskHalfLife:     risk.DefaultConfig().HalfLife,
		KeywordLimit:     8,
		KeywordMinLength: 4,
		DefaultTags:      3,

		MaxDeferredAttempts: 5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts <= 0 {
		return faults.Invalid("retry.max_attempts", "must be positive")
	}
	if c.Retry.BaseBackoff < 0 || c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return faults.Invalid("retry.backoff", "base must be non-negative and not exceed max")
	}
	if c.Retry.Multiplier < 1 {
		return faults.Invalid("retry.multiplier", "must be at least 1")
	}
	if c.UpstreamTimeout <= 0 {
		return faults.Invalid("upstream_timeout", "must be positive")
	}
	if c.RiskHalfLife <= 0 {
		return faults.Invalid("risk_half_life", "must be positive")
	}
	if c.KeywordLimit <= 0 {
		return faults.Invalid("keyword_limit", "must be positive")
	}
	if c.MaxDeferredAttempts <= 0 {
		return faults.Invalid("max_deferred_attempts", "must be positive")
	}
	if c.KeywordMinLength < 0 {
		return faults.Invalid("keyword_min_length", "cannot be negative")
	}
	return nil
}
