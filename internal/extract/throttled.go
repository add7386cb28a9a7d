package extract

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
)

// Throttled applies a token bucket in front of next.
type Throttled struct {
	next    Extractor
	limiter *rate.Limiter
}

// NewThrottled limits extraction calls to perSecond with the given burst.
func NewThrottled(next Extractor, perSecond float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) Extract(ctx context.Context, doc models.Document) ([]models.CandidateClaim, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, faults.Upstream(service, fmt.Errorf("rate limit wait: %w", err))
	}
	return t.next.Extract(ctx, doc)
}
