package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
)

// call runs fn with a per-attempt timeout and retries upstream failures with
// exponential backoff. Other errors are returned at once.
func (p *Pipeline) call(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	backoff := p.cfg.Retry.BaseBackoff
	var err error
	for attempt := 1; attempt <= p.cfg.Retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.UpstreamTimeout)
		start := time.Now()
		err = fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.UpstreamDuration.WithLabelValues(service, result).Observe(time.Since(start).Seconds())

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !faults.IsRetryable(err) && !timedOut {
			return err
		}
		if attempt == p.cfg.Retry.MaxAttempts {
			break
		}

		metrics.UpstreamRetries.WithLabelValues(service).Inc()
		p.log.Warn("upstream call failed, retrying",
			slog.String("service", service),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("err", err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = next(backoff, p.cfg.Retry)
	}
	return faults.Upstream(service, err)
}

func next(current time.Duration, cfg RetryConfig) time.Duration {
	n := time.Duration(float64(current) * cfg.Multiplier)
	if n > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return n
}
