package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/processing"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

const pipelineActor = "pipeline"

// extractClaims calls the extractor for a stored document and saves the
// candidates. When the extractor stays unavailable the document keeps the
// extraction_pending stage with the deferred marker and deferred is true.
// Any other failure also leaves the marker behind before the error is
// returned, so the sweeper finishes the document later.
func (p *Pipeline) extractClaims(ctx context.Context, doc models.Document) ([]string, bool, error) {
	state := doc.DocumentState
	state.Stage = models.StageExtractionPending
	if err := p.store.UpdateDocumentState(ctx, doc.ID, state); err != nil {
		return nil, false, p.markFailed(ctx, doc.ID, state, nil, fmt.Errorf("update document state: %w", err))
	}

	var candidates []models.CandidateClaim
	err := p.call(ctx, "extraction", func(ctx context.Context) error {
		var err error
		candidates, err = p.extractor.Extract(ctx, doc)
		return err
	})
	if err != nil {
		if !faults.IsRetryable(err) {
			return nil, false, p.markFailed(ctx, doc.ID, state, nil, fmt.Errorf("extract claims: %w", err))
		}
		state.RetryDeferred = true
		state.RetryAttempts++
		state.LastError = err.Error()
		if uerr := p.store.UpdateDocumentState(ctx, doc.ID, state); uerr != nil {
			return nil, false, errors.Join(err, uerr)
		}
		p.log.Warn("claim extraction deferred",
			slog.String("document_id", doc.ID),
			slog.Int("attempts", state.RetryAttempts),
			slog.Any("err", err),
		)
		return nil, true, nil
	}

	claimIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if err := models.ValidateCandidate(c); err != nil {
			p.log.Debug("dropping invalid candidate", slog.String("document_id", doc.ID), slog.Any("err", err))
			continue
		}
		id, err := p.saveClaim(ctx, doc, c)
		if err != nil {
			return claimIDs, false, p.markFailed(ctx, doc.ID, state, claimIDs, err)
		}
		claimIDs = append(claimIDs, id)
	}

	state.Stage = models.StageExtracted
	state.RetryDeferred = false
	state.LastError = ""
	state.ClaimIDs = claimIDs
	if err := p.store.UpdateDocumentState(ctx, doc.ID, state); err != nil {
		return claimIDs, false, p.markFailed(ctx, doc.ID, doc.DocumentState, claimIDs, fmt.Errorf("update document state: %w", err))
	}
	return claimIDs, false, nil
}

// markFailed records cause on the document and sets the deferred marker.
// After MaxDeferredAttempts the document moves to extraction_failed instead.
// The write ignores cancellation of ctx. It returns cause, joined with the
// write error when the marker could not be stored.
func (p *Pipeline) markFailed(ctx context.Context, docID string, state models.DocumentState, claimIDs []string, cause error) error {
	state.Stage = models.StageExtractionPending
	state.RetryDeferred = true
	state.RetryAttempts++
	state.LastError = cause.Error()
	if len(claimIDs) > 0 {
		state.ClaimIDs = claimIDs
	}
	if state.RetryAttempts >= p.cfg.MaxDeferredAttempts {
		state.Stage = models.StageExtractionFailed
		state.RetryDeferred = false
	}

	log := p.log.With(slog.String("document_id", docID), slog.Int("attempts", state.RetryAttempts))
	if err := p.store.UpdateDocumentState(context.WithoutCancel(ctx), docID, state); err != nil {
		log.Error("document left without retry marker", slog.Any("err", err))
		return errors.Join(cause, fmt.Errorf("mark document deferred: %w", err))
	}
	if state.Stage == models.StageExtractionFailed {
		log.Error("claim extraction abandoned", slog.Any("err", cause))
	} else {
		log.Warn("claim extraction failed, deferred", slog.Any("err", cause))
	}
	return cause
}

// saveClaim stores a candidate as received and advances it to
// extraction_pending. Claim ids are derived from the document and text, so a
// repeated extraction finds the existing claim and leaves it untouched.
func (p *Pipeline) saveClaim(ctx context.Context, doc models.Document, c models.CandidateClaim) (string, error) {
	now := p.now().UTC()
	tags := c.Tags
	if len(tags) == 0 && p.cfg.DefaultTags > 0 {
		tags = doc.Keywords
		if len(tags) > p.cfg.DefaultTags {
			tags = tags[:p.cfg.DefaultTags]
		}
	}
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = processing.GenerateTitleFromText(c.ClaimText, processing.MaxTitleWords)
	}

	claim := models.Claim{
		ID:               processing.ClaimID(doc.ID, c.ClaimText),
		Title:            title,
		Description:      c.Description,
		ClaimText:        strings.TrimSpace(c.ClaimText),
		Category:         c.Category,
		Tags:             append([]string(nil), tags...),
		Speaker:          c.Speaker,
		Confidence:       c.Confidence,
		SuggestedRisk:    c.SuggestedRisk,
		DocumentIDs:      []string{doc.ID},
		Status:           models.StatusReceived,
		CreatedAt:        now,
		LastTransitionAt: now,
	}

	id, isNew, err := p.store.SaveClaim(ctx, claim)
	if err != nil {
		return "", fmt.Errorf("save claim: %w", err)
	}
	if !isNew {
		return id, nil
	}

	_, err = p.machine.Transition(ctx, id, 1, models.StatusExtractionPending, workflow.TransitionInput{Actor: pipelineActor})
	if err != nil && !errors.Is(err, faults.ErrConflict) {
		return "", fmt.Errorf("advance claim %s: %w", id, err)
	}

	if err := p.linkSpeaker(ctx, c.Speaker, c.SpeakerKind, id); err != nil {
		p.log.Warn("speaker not linked", slog.String("claim_id", id), slog.Any("err", err))
	}
	return id, nil
}

// linkSpeaker tracks the claim's speaker as an actor. A speaker whose
// normalized name is close enough to a known actor's name or alias is linked
// to that actor instead of creating a new one.
func (p *Pipeline) linkSpeaker(ctx context.Context, speaker string, kind models.ActorKind, claimID string) error {
	speaker = processing.CollapseWhitespace(speaker)
	if speaker == "" {
		return nil
	}
	actorID := processing.ActorID(speaker)
	_, err := p.store.GetActor(ctx, actorID)
	switch {
	case err == nil:
		return p.store.LinkActorClaim(ctx, actorID, claimID)
	case !errors.Is(err, faults.ErrNotFound):
		return err
	}

	known, err := p.store.ListActors(ctx, maxActorScan)
	if err != nil {
		return err
	}
	if match, ok := closestActor(known, speaker); ok {
		return p.store.LinkActorClaim(ctx, match.ID, claimID)
	}

	if kind == "" {
		kind = processing.DetectActorKind(speaker)
	}
	if _, err := p.store.PutActor(ctx, models.Actor{ID: actorID, Name: speaker, Kind: kind}); err != nil {
		return err
	}
	return p.store.LinkActorClaim(ctx, actorID, claimID)
}

const maxActorScan = 1000

func closestActor(known []models.Actor, speaker string) (models.Actor, bool) {
	key := processing.NormalizeActorName(speaker)
	if key == "" {
		return models.Actor{}, false
	}
	var (
		best  models.Actor
		score float64
	)
	for _, a := range known {
		for _, name := range append([]string{a.Name}, a.Aliases...) {
			s := processing.NameSimilarity(key, processing.NormalizeActorName(name))
			if s > score {
				best, score = a, s
			}
		}
	}
	return best, score >= processing.ActorMatchThreshold
}
