// Package pipeline composes the content store, deduplicator, embedding
// gateway, claim extractor and claim workflow into the ingest-to-claim flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/dedupe"
	"github.com/DeafMist/claim-radar/backend/internal/embedding"
	"github.com/DeafMist/claim-radar/backend/internal/extract"
	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/processing"
	"github.com/DeafMist/claim-radar/backend/internal/risk"
	"github.com/DeafMist/claim-radar/backend/internal/store"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

// Outcome is the result category of an ingest.
type Outcome string

const (
	OutcomeStored           Outcome = "stored"
	OutcomeDuplicateSkipped Outcome = "duplicate_skipped"
	OutcomeFailed           Outcome = "failed"
)

// DedupInfo is the part of a dedup decision reported to callers.
type DedupInfo struct {
	Kind        dedupe.Kind `json:"kind"`
	MatchID     string      `json:"match_id,omitempty"`
	Similarity  float64     `json:"similarity,omitempty"`
	NeedsReview bool        `json:"needs_review,omitempty"`
}

// IngestResult describes what happened to one document.
type IngestResult struct {
	Outcome    Outcome   `json:"outcome"`
	DocumentID string    `json:"document_id,omitempty"`
	ExistingID string    `json:"existing_id,omitempty"`
	ClaimIDs   []string  `json:"claim_ids,omitempty"`
	Dedup      DedupInfo `json:"dedup"`
	// Deferred is set when the document was stored but an upstream call
	// exhausted its retries; the sweeper picks it up later.
	Deferred bool   `json:"deferred,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Store     store.Store
	Gateway   embedding.Gateway
	Extractor extract.Extractor
	Notifier  workflow.Notifier
	Recent    *dedupe.Recent
}

// Pipeline is the ingest orchestrator. It holds no mutable state besides what
// the store serializes, so concurrent Ingest calls are safe.
type Pipeline struct {
	store     store.Store
	dedup     *dedupe.Deduplicator
	extractor extract.Extractor
	machine   *workflow.Machine
	scorer    *risk.Scorer
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// New wires a pipeline.
func New(deps Deps, cfg Config, log *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if deps.Store == nil || deps.Gateway == nil || deps.Extractor == nil {
		return nil, errors.New("pipeline needs a store, an embedding gateway and an extractor")
	}
	if log == nil {
		log = slog.Default()
	}

	var opts []workflow.Option
	if deps.Notifier != nil {
		opts = append(opts, workflow.WithNotifier(deps.Notifier))
	}
	riskCfg := risk.DefaultConfig()
	riskCfg.HalfLife = cfg.RiskHalfLife

	return &Pipeline{
		store:     deps.Store,
		dedup:     dedupe.New(deps.Store, deps.Gateway, cfg.Dedup, deps.Recent),
		extractor: deps.Extractor,
		machine:   workflow.New(deps.Store, log, opts...),
		scorer:    risk.New(deps.Store, riskCfg, log),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}, nil
}

// Machine exposes the claim workflow sharing the pipeline's store.
func (p *Pipeline) Machine() *workflow.Machine { return p.machine }

// Scorer exposes the actor risk scorer sharing the pipeline's store.
func (p *Pipeline) Scorer() *risk.Scorer { return p.scorer }

// Store exposes the content store.
func (p *Pipeline) Store() store.Store { return p.store }

// Ingest runs one raw document through normalization, dedup, storage and
// claim extraction. Validation failures return a failed result together with
// the validation error.
func (p *Pipeline) Ingest(ctx context.Context, raw models.RawDocument) (IngestResult, error) {
	res, err := p.ingest(ctx, raw)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
	}
	metrics.IngestOutcomes.WithLabelValues(outcomeLabel(res)).Inc()
	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, raw models.RawDocument) (IngestResult, error) {
	if err := models.ValidateRaw(raw); err != nil {
		return IngestResult{}, err
	}
	doc := processing.Normalize(raw, p.cfg.KeywordLimit, p.cfg.KeywordMinLength, p.now())
	log := p.log.With(slog.String("document_id", doc.ID), slog.String("source", doc.Source))

	var check dedupe.Result
	err := p.call(ctx, "embedding", func(ctx context.Context) error {
		var err error
		check, err = p.dedup.Check(ctx, doc)
		return err
	})
	switch {
	case faults.IsRetryable(err):
		return p.storeDeferred(ctx, doc, err, log)
	case err != nil:
		return IngestResult{DocumentID: doc.ID}, fmt.Errorf("dedup: %w", err)
	}

	if check.Kind == dedupe.ExactDuplicate {
		log.Debug("duplicate document", slog.String("existing_id", check.MatchID))
		return IngestResult{
			Outcome:    OutcomeDuplicateSkipped,
			DocumentID: check.MatchID,
			ExistingID: check.MatchID,
			Dedup:      dedupInfo(check),
		}, nil
	}

	doc.Embedding = check.Embedding
	doc.DedupStatus = check.Status()
	if check.Kind == dedupe.NearDuplicate {
		doc.DuplicateOf = check.MatchID
		doc.Similarity = check.Similarity
	}

	id, isNew, err := p.store.PutDocument(ctx, doc)
	if err != nil {
		return IngestResult{DocumentID: doc.ID}, fmt.Errorf("put document: %w", err)
	}
	p.dedup.Remember(doc.ContentHash, id)
	if !isNew {
		// A concurrent ingest of the same content won the insert and owns extraction.
		return IngestResult{
			Outcome:    OutcomeDuplicateSkipped,
			DocumentID: id,
			ExistingID: id,
			Dedup:      DedupInfo{Kind: dedupe.ExactDuplicate, MatchID: id, Similarity: 1},
		}, nil
	}

	result := IngestResult{Outcome: OutcomeStored, DocumentID: id, Dedup: dedupInfo(check)}
	if check.Kind == dedupe.NearDuplicate {
		log.Info("near-duplicate stored for review",
			slog.String("duplicate_of", check.MatchID),
			slog.Float64("similarity", check.Similarity),
			slog.Bool("needs_review", check.NeedsReview),
		)
		return result, nil
	}

	claimIDs, deferred, err := p.extractClaims(ctx, doc)
	if err != nil {
		return result, err
	}
	result.ClaimIDs = claimIDs
	result.Deferred = deferred
	log.Info("document stored", slog.Int("claims", len(claimIDs)), slog.Bool("deferred", deferred))
	return result, nil
}

// storeDeferred keeps a document whose dedup could not run. Its exact hash is
// already known to be new, so only the similarity check is pending.
func (p *Pipeline) storeDeferred(ctx context.Context, doc models.Document, cause error, log *slog.Logger) (IngestResult, error) {
	doc.DedupStatus = models.DedupUnchecked
	doc.Stage = models.StageExtractionPending
	doc.RetryDeferred = true
	doc.RetryAttempts = 1
	doc.LastError = cause.Error()

	id, isNew, err := p.store.PutDocument(ctx, doc)
	if err != nil {
		return IngestResult{DocumentID: doc.ID}, fmt.Errorf("put deferred document: %w", err)
	}
	if !isNew {
		return IngestResult{Outcome: OutcomeDuplicateSkipped, DocumentID: id, ExistingID: id}, nil
	}
	log.Warn("upstream unavailable, document deferred", slog.Any("err", cause))
	return IngestResult{Outcome: OutcomeStored, DocumentID: id, Deferred: true, Reason: cause.Error()}, nil
}

// ResolveDuplicate records a human decision about a flagged near-duplicate.
// Confirming the document as unique triggers claim extraction.
func (p *Pipeline) ResolveDuplicate(ctx context.Context, docID string, unique bool) (IngestResult, error) {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return IngestResult{}, err
	}
	if !doc.DedupStatus.Flagged() {
		return IngestResult{}, fmt.Errorf("document %s has dedup status %s: %w", docID, doc.DedupStatus, faults.ErrConflict)
	}

	if !unique {
		state := doc.DocumentState
		state.DedupStatus = models.DedupConfirmedDuplicate
		if err := p.store.UpdateDocumentState(ctx, docID, state); err != nil {
			return IngestResult{}, fmt.Errorf("update document state: %w", err)
		}
		return IngestResult{
			Outcome:    OutcomeDuplicateSkipped,
			DocumentID: docID,
			ExistingID: doc.DuplicateOf,
			Dedup:      DedupInfo{Kind: dedupe.NearDuplicate, MatchID: doc.DuplicateOf, Similarity: doc.Similarity},
		}, nil
	}

	doc.DedupStatus = models.DedupConfirmedUnique
	if err := p.store.UpdateDocumentState(ctx, docID, doc.DocumentState); err != nil {
		return IngestResult{}, fmt.Errorf("update document state: %w", err)
	}
	claimIDs, deferred, err := p.extractClaims(ctx, *doc)
	if err != nil {
		return IngestResult{DocumentID: docID}, err
	}
	return IngestResult{
		Outcome:    OutcomeStored,
		DocumentID: docID,
		ClaimIDs:   claimIDs,
		Dedup:      DedupInfo{Kind: dedupe.Unique},
		Deferred:   deferred,
	}, nil
}

// RetryReport summarises a RetryDeferred sweep.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Recovered int `json:"recovered"`
	Flagged   int `json:"flagged"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

// RetryDeferred redoes the pending steps of documents carrying the deferred
// marker: the similarity check when it never ran, then claim extraction.
func (p *Pipeline) RetryDeferred(ctx context.Context, limit int) (RetryReport, error) {
	docs, err := p.store.ListDeferred(ctx, limit)
	if err != nil {
		return RetryReport{}, fmt.Errorf("list deferred: %w", err)
	}

	var report RetryReport
	for _, doc := range docs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Attempted++
		log := p.log.With(slog.String("document_id", doc.ID))

		if doc.DedupStatus == models.DedupUnchecked {
			flagged, err := p.recheck(ctx, &doc)
			if err != nil {
				if faults.IsRetryable(err) {
					report.Deferred++
				} else {
					report.Failed++
				}
				log.Warn("deferred dedup failed", slog.Any("err", err))
				continue
			}
			if flagged {
				report.Flagged++
				continue
			}
		}

		_, deferred, err := p.extractClaims(ctx, doc)
		switch {
		case err != nil:
			report.Failed++
			log.Error("deferred extraction failed", slog.Any("err", err))
		case deferred:
			report.Deferred++
		default:
			report.Recovered++
		}
	}
	return report, nil
}

// recheck runs the similarity check for a stored document and persists the
// outcome. It reports whether the document is now waiting for review.
func (p *Pipeline) recheck(ctx context.Context, doc *models.Document) (bool, error) {
	var check dedupe.Result
	err := p.call(ctx, "embedding", func(ctx context.Context) error {
		var err error
		check, err = p.dedup.CheckSimilar(ctx, *doc)
		return err
	})
	if err != nil {
		if faults.IsRetryable(err) {
			state := doc.DocumentState
			state.RetryAttempts++
			state.LastError = err.Error()
			if uerr := p.store.UpdateDocumentState(ctx, doc.ID, state); uerr != nil {
				return false, errors.Join(err, uerr)
			}
		}
		return false, err
	}

	if len(doc.Embedding) == 0 && len(check.Embedding) > 0 {
		if err := p.store.SetDocumentEmbedding(ctx, doc.ID, check.Embedding); err != nil {
			return false, fmt.Errorf("set embedding: %w", err)
		}
		doc.Embedding = check.Embedding
	}

	doc.DedupStatus = check.Status()
	if check.Kind == dedupe.NearDuplicate {
		doc.DuplicateOf = check.MatchID
		doc.Similarity = check.Similarity
		doc.Stage = models.StageStored
		doc.RetryDeferred = false
		doc.LastError = ""
	}
	if err := p.store.UpdateDocumentState(ctx, doc.ID, doc.DocumentState); err != nil {
		return false, fmt.Errorf("update document state: %w", err)
	}
	return check.Kind == dedupe.NearDuplicate, nil
}

func dedupInfo(r dedupe.Result) DedupInfo {
	return DedupInfo{Kind: r.Kind, MatchID: r.MatchID, Similarity: r.Similarity, NeedsReview: r.NeedsReview}
}

func outcomeLabel(r IngestResult) string {
	if r.Deferred {
		return "deferred"
	}
	return string(r.Outcome)
}
