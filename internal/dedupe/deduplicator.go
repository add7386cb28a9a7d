// Package dedupe decides whether an incoming document is new, an exact copy of
// stored content or a near-duplicate by embedding similarity.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/embedding"
	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

// Kind is the classification of a document against stored content.
type Kind string

const (
	Unique         Kind = "unique"
	ExactDuplicate Kind = "exact_duplicate"
	NearDuplicate  Kind = "near_duplicate"
)

// Result is the outcome of Check.
type Result struct {
	Kind       Kind
	MatchID    string
	Similarity float64
	// NeedsReview is set for near-duplicates between the low and high thresholds.
	NeedsReview bool
	// Embedding is the vector computed for the document, if any.
	Embedding []float32
}

// Status maps the result to the stored dedup status of the document.
func (r Result) Status() models.DedupStatus {
	switch {
	case r.Kind == NearDuplicate && r.NeedsReview:
		return models.DedupPossibleDuplicate
	case r.Kind == NearDuplicate:
		return models.DedupNearDuplicate
	default:
		return models.DedupUnique
	}
}

// Config holds the similarity policy.
type Config struct {
	HighThreshold float64
	LowThreshold  float64
	Window        time.Duration
	Neighbors     int
}

// DefaultConfig returns the default similarity policy.
func DefaultConfig() Config {
	return Config{
		HighThreshold: 0.92,
		LowThreshold:  0.80,
		Window:        72 * time.Hour,
		Neighbors:     10,
	}
}

// Validate checks threshold ordering and bounds.
func (c Config) Validate() error {
	if c.HighThreshold <= 0 || c.HighThreshold > 1 {
		return faults.Invalid("high_threshold", "must be in (0,1]")
	}
	if c.LowThreshold <= 0 || c.LowThreshold > c.HighThreshold {
		return faults.Invalid("low_threshold", "must be in (0,high_threshold]")
	}
	if c.Window <= 0 {
		return faults.Invalid("window", "must be positive")
	}
	return nil
}

// Deduplicator classifies documents. It keeps no state besides the optional
// recent-hash hint, the store stays authoritative.
type Deduplicator struct {
	docs    store.Documents
	gateway embedding.Gateway
	cfg     Config
	recent  *Recent
}

// New creates a deduplicator. recent may be nil.
func New(docs store.Documents, gateway embedding.Gateway, cfg Config, recent *Recent) *Deduplicator {
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = DefaultConfig().Neighbors
	}
	return &Deduplicator{docs: docs, gateway: gateway, cfg: cfg, recent: recent}
}

// Check classifies doc. An exact hash match wins without calling the gateway.
// Gateway failures are returned as upstream errors, never as Unique.
func (d *Deduplicator) Check(ctx context.Context, doc models.Document) (Result, error) {
	if id, ok := d.lookupRecent(doc.ContentHash); ok {
		metrics.DedupResults.WithLabelValues(string(ExactDuplicate)).Inc()
		return Result{Kind: ExactDuplicate, MatchID: id, Similarity: 1}, nil
	}

	existing, err := d.docs.FindByHash(ctx, doc.ContentHash)
	if err != nil {
		return Result{}, fmt.Errorf("find by hash: %w", err)
	}
	if existing != nil {
		d.Remember(existing.ContentHash, existing.ID)
		metrics.DedupResults.WithLabelValues(string(ExactDuplicate)).Inc()
		return Result{Kind: ExactDuplicate, MatchID: existing.ID, Similarity: 1}, nil
	}

	return d.CheckSimilar(ctx, doc)
}

// CheckSimilar runs only the embedding comparison. It is used for documents
// that are already stored, which are excluded from their own neighbourhood.
func (d *Deduplicator) CheckSimilar(ctx context.Context, doc models.Document) (Result, error) {
	vector := doc.Embedding
	if len(vector) == 0 {
		v, err := d.gateway.Embed(ctx, embedding.Text(doc.Title, doc.Content))
		if err != nil {
			return Result{}, faults.Upstream("embedding", err)
		}
		vector = v
	}

	neighbors, err := d.docs.NearestDocuments(ctx, store.NeighborQuery{
		Vector:     vector,
		SourceType: doc.SourceType,
		From:       doc.PublishedAt.Add(-d.cfg.Window),
		To:         doc.PublishedAt.Add(d.cfg.Window),
		ExcludeID:  doc.ID,
		K:          d.cfg.Neighbors,
	})
	if err != nil {
		return Result{}, fmt.Errorf("nearest documents: %w", err)
	}

	res := d.classify(neighbors)
	res.Embedding = vector
	metrics.DedupResults.WithLabelValues(string(res.Kind)).Inc()
	return res, nil
}

func (d *Deduplicator) classify(neighbors []store.Neighbor) Result {
	if len(neighbors) == 0 {
		return Result{Kind: Unique}
	}
	store.SortNeighbors(neighbors)
	best := neighbors[0]

	switch {
	case best.Similarity >= d.cfg.HighThreshold:
		return Result{Kind: NearDuplicate, MatchID: best.ID, Similarity: best.Similarity}
	case best.Similarity >= d.cfg.LowThreshold:
		return Result{Kind: NearDuplicate, MatchID: best.ID, Similarity: best.Similarity, NeedsReview: true}
	default:
		return Result{Kind: Unique, Similarity: best.Similarity}
	}
}

// Remember feeds the recent-hash hint after a successful put.
func (d *Deduplicator) Remember(hash, id string) {
	if d.recent != nil && hash != "" {
		d.recent.Remember(hash, id)
	}
}

func (d *Deduplicator) lookupRecent(hash string) (string, bool) {
	if d.recent == nil || hash == "" {
		return "", false
	}
	return d.recent.Lookup(hash)
}
