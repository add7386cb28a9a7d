package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/claim-radar/backend/internal/dedupe"
	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
	"github.com/DeafMist/claim-radar/backend/internal/processing"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

type stubGateway struct {
	mu      sync.Mutex
	vectors map[string][]float32
	fail    atomic.Bool
	calls   atomic.Int32
}

func (g *stubGateway) Embed(_ context.Context, text string) ([]float32, error) {
	g.calls.Add(1)
	if g.fail.Load() {
		return nil, faults.Upstream("embedding", errors.New("503 from model"))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type stubExtractor struct {
	claims []models.CandidateClaim
	err    error
	block  bool
	calls  atomic.Int32
}

func (e *stubExtractor) Extract(ctx context.Context, _ models.Document) ([]models.CandidateClaim, error) {
	e.calls.Add(1)
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.claims, nil
}

func bridgeClaims() []models.CandidateClaim {
	return []models.CandidateClaim{{
		Title:         "Bridge cost",
		ClaimText:     "The bridge cost $50M",
		Category:      "infrastructure",
		Speaker:       "Ministerio de Obras",
		Confidence:    90,
		SuggestedRisk: models.RiskHigh,
	}}
}

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Retry = pipeline.RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Multiplier:  2,
		MaxBackoff:  4 * time.Millisecond,
	}
	cfg.UpstreamTimeout = time.Second
	return cfg
}

func newPipeline(t *testing.T, gw *stubGateway, ex *stubExtractor, cfg pipeline.Config) (*pipeline.Pipeline, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	if gw.vectors == nil {
		gw.vectors = map[string][]float32{}
	}
	p, err := pipeline.New(pipeline.Deps{
		Store:     s,
		Gateway:   gw,
		Extractor: ex,
	}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p, s
}

func bridgeDoc() models.RawDocument {
	return models.RawDocument{
		Title:         "A",
		URL:           "http://x/1",
		Content:       "Panama bridge cost $50M",
		Source:        "siteA",
		PublishedDate: "2025-03-01T10:00:00Z",
	}
}

func TestIngestTwiceSkipsDuplicate(t *testing.T) {
	ex := &stubExtractor{claims: bridgeClaims()}
	p, s := newPipeline(t, &stubGateway{}, ex, testConfig())
	ctx := context.Background()

	first, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeStored, first.Outcome)
	require.Len(t, first.ClaimIDs, 1)

	second, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeDuplicateSkipped, second.Outcome)
	require.Equal(t, first.DocumentID, second.ExistingID)
	require.Equal(t, int32(1), ex.calls.Load())

	doc, err := s.GetDocument(ctx, first.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.StageExtracted, doc.Stage)
	require.Equal(t, models.DedupUnique, doc.DedupStatus)
	require.Equal(t, first.ClaimIDs, doc.ClaimIDs)
	require.NotEmpty(t, doc.Embedding)
}

func TestIngestSavesClaimsAsExtractionPending(t *testing.T) {
	p, s := newPipeline(t, &stubGateway{}, &stubExtractor{claims: bridgeClaims()}, testConfig())
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)

	claim, err := s.GetClaim(ctx, res.ClaimIDs[0])
	require.NoError(t, err)
	require.Equal(t, models.StatusExtractionPending, claim.Status)
	require.Equal(t, []string{res.DocumentID}, claim.DocumentIDs)
	require.Equal(t, models.RiskHigh, claim.SuggestedRisk)
	require.Empty(t, claim.RiskLevel)
	require.Len(t, claim.History, 1)
	require.Equal(t, models.StatusReceived, claim.History[0].From)

	actors, err := s.ActorsByClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Len(t, actors, 1)
	require.Equal(t, processing.ActorID("Ministerio de Obras"), actors[0].ID)
	require.Equal(t, models.ActorOfficial, actors[0].Kind)
}

func TestSpeakerVariantsShareOneActor(t *testing.T) {
	ex := &stubExtractor{claims: []models.CandidateClaim{
		{ClaimText: "Tolls rise 10%", Speaker: "Ministro Juan Pérez", Confidence: 90},
		{ClaimText: "Rates stay flat", Speaker: "juan peres", SpeakerKind: models.ActorOfficial, Confidence: 90},
		{ClaimText: "Bus fares double", Speaker: "Radio Panamá", Confidence: 90},
	}}
	p, s := newPipeline(t, &stubGateway{}, ex, testConfig())
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)
	require.Len(t, res.ClaimIDs, 3)

	first, err := s.ActorsByClaim(ctx, res.ClaimIDs[0])
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, processing.ActorID("juan perez"), first[0].ID)
	require.Equal(t, models.ActorPerson, first[0].Kind)

	second, err := s.ActorsByClaim(ctx, res.ClaimIDs[1])
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, first[0].ID, second[0].ID)

	media, err := s.ActorsByClaim(ctx, res.ClaimIDs[2])
	require.NoError(t, err)
	require.Len(t, media, 1)
	require.Equal(t, models.ActorMediaOutlet, media[0].Kind)

	all, err := s.ListActors(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSpeakerKindHintWins(t *testing.T) {
	ex := &stubExtractor{claims: []models.CandidateClaim{
		{ClaimText: "Rates stay flat", Speaker: "Ana Ruiz", SpeakerKind: models.ActorOrganization, Confidence: 90},
	}}
	p, s := newPipeline(t, &stubGateway{}, ex, testConfig())
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)

	actors, err := s.ActorsByClaim(ctx, res.ClaimIDs[0])
	require.NoError(t, err)
	require.Len(t, actors, 1)
	require.Equal(t, models.ActorOrganization, actors[0].Kind)
}

func TestIngestNearDuplicateFlaggedWithoutClaims(t *testing.T) {
	gw := &stubGateway{vectors: map[string][]float32{
		"A\n\nPanama bridge cost $50M":      {1, 0},
		"A\n\nPanama bridge cost 50 million": {0.95, float32(math.Sqrt(1 - 0.95*0.95))},
	}}
	ex := &stubExtractor{claims: bridgeClaims()}
	p, s := newPipeline(t, gw, ex, testConfig())
	ctx := context.Background()

	first, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)

	repost := bridgeDoc()
	repost.URL = "http://y/2"
	repost.Content = "Panama bridge cost 50 million"
	second, err := p.Ingest(ctx, repost)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeStored, second.Outcome)
	require.Equal(t, dedupe.NearDuplicate, second.Dedup.Kind)
	require.Equal(t, first.DocumentID, second.Dedup.MatchID)
	require.GreaterOrEqual(t, second.Dedup.Similarity, 0.92)
	require.False(t, second.Dedup.NeedsReview)
	require.Empty(t, second.ClaimIDs)
	require.Equal(t, int32(1), ex.calls.Load())

	doc, err := s.GetDocument(ctx, second.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.DedupNearDuplicate, doc.DedupStatus)
	require.Equal(t, first.DocumentID, doc.DuplicateOf)

	review, err := s.ListDocumentsByDedupStatus(ctx, models.DedupNearDuplicate, 10)
	require.NoError(t, err)
	require.Len(t, review, 1)
}

func TestResolveDuplicate(t *testing.T) {
	gw := &stubGateway{vectors: map[string][]float32{
		"A\n\nPanama bridge cost $50M":      {1, 0},
		"A\n\nPanama bridge cost 50 million": {0.95, float32(math.Sqrt(1 - 0.95*0.95))},
	}}
	ex := &stubExtractor{claims: []models.CandidateClaim{{ClaimText: "The bridge cost 50 million"}}}
	p, s := newPipeline(t, gw, ex, testConfig())
	ctx := context.Background()

	first, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)
	repost := bridgeDoc()
	repost.URL = "http://y/2"
	repost.Content = "Panama bridge cost 50 million"
	second, err := p.Ingest(ctx, repost)
	require.NoError(t, err)

	res, err := p.ResolveDuplicate(ctx, second.DocumentID, true)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeStored, res.Outcome)
	require.Len(t, res.ClaimIDs, 1)

	doc, err := s.GetDocument(ctx, second.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.DedupConfirmedUnique, doc.DedupStatus)
	require.Equal(t, models.StageExtracted, doc.Stage)

	_, err = p.ResolveDuplicate(ctx, first.DocumentID, false)
	require.ErrorIs(t, err, faults.ErrConflict)

	_, err = p.ResolveDuplicate(ctx, "missing", true)
	require.ErrorIs(t, err, faults.ErrNotFound)
}

func TestIngestExtractionFailureIsDeferredThenRecovered(t *testing.T) {
	ex := &stubExtractor{err: faults.Upstream("extraction", errors.New("timeout"))}
	cfg := testConfig()
	p, s := newPipeline(t, &stubGateway{}, ex, cfg)
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeStored, res.Outcome)
	require.True(t, res.Deferred)
	require.Empty(t, res.ClaimIDs)
	require.Equal(t, int32(cfg.Retry.MaxAttempts), ex.calls.Load())

	doc, err := s.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.StageExtractionPending, doc.Stage)
	require.True(t, doc.RetryDeferred)
	require.NotEmpty(t, doc.LastError)

	ex.err = nil
	ex.claims = bridgeClaims()
	report, err := p.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, pipeline.RetryReport{Attempted: 1, Recovered: 1}, report)

	doc, err = s.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.False(t, doc.RetryDeferred)
	require.Equal(t, models.StageExtracted, doc.Stage)
	require.Len(t, doc.ClaimIDs, 1)
}

func TestIngestEmbeddingFailureIsDeferredNotUnique(t *testing.T) {
	gw := &stubGateway{}
	gw.fail.Store(true)
	ex := &stubExtractor{claims: bridgeClaims()}
	p, s := newPipeline(t, gw, ex, testConfig())
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)
	require.True(t, res.Deferred)
	require.Zero(t, ex.calls.Load())

	doc, err := s.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.DedupUnchecked, doc.DedupStatus)
	require.True(t, doc.RetryDeferred)

	report, err := p.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)

	gw.fail.Store(false)
	report, err = p.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Recovered)

	doc, err = s.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.DedupUnique, doc.DedupStatus)
	require.NotEmpty(t, doc.Embedding)
	require.Len(t, doc.ClaimIDs, 1)
}

func TestIngestUpstreamTimeoutIsRetryable(t *testing.T) {
	ex := &stubExtractor{block: true}
	cfg := testConfig()
	cfg.UpstreamTimeout = 10 * time.Millisecond
	p, _ := newPipeline(t, &stubGateway{}, ex, cfg)

	res, err := p.Ingest(context.Background(), bridgeDoc())
	require.NoError(t, err)
	require.True(t, res.Deferred)
	require.Equal(t, int32(cfg.Retry.MaxAttempts), ex.calls.Load())
}

func TestIngestNonRetryableExtractorErrorFails(t *testing.T) {
	ex := &stubExtractor{err: errors.New("bad request")}
	p, s := newPipeline(t, &stubGateway{}, ex, testConfig())
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.Error(t, err)
	require.Equal(t, pipeline.OutcomeFailed, res.Outcome)
	require.NotEmpty(t, res.Reason)
	require.Equal(t, int32(1), ex.calls.Load())

	doc, err := s.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.StageExtractionPending, doc.Stage)
	require.True(t, doc.RetryDeferred)
	require.Contains(t, doc.LastError, "bad request")

	again, err := p.Ingest(ctx, bridgeDoc())
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeDuplicateSkipped, again.Outcome)

	ex.err = nil
	ex.claims = bridgeClaims()
	report, err := p.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, pipeline.RetryReport{Attempted: 1, Recovered: 1}, report)

	doc, err = s.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.StageExtracted, doc.Stage)
	require.False(t, doc.RetryDeferred)
	require.Len(t, doc.ClaimIDs, 1)
}

func TestPermanentExtractionFailureIsAbandoned(t *testing.T) {
	ex := &stubExtractor{err: errors.New("bad request")}
	cfg := testConfig()
	cfg.MaxDeferredAttempts = 2
	p, s := newPipeline(t, &stubGateway{}, ex, cfg)
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.Error(t, err)

	report, err := p.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, pipeline.RetryReport{Attempted: 1, Failed: 1}, report)

	doc, err := s.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.StageExtractionFailed, doc.Stage)
	require.False(t, doc.RetryDeferred)
	require.Equal(t, 2, doc.RetryAttempts)

	report, err = p.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, report.Attempted)
}

// failingClaims rejects claim writes while fail is set.
type failingClaims struct {
	*store.Memory
	fail atomic.Bool
}

func (f *failingClaims) SaveClaim(ctx context.Context, claim models.Claim) (string, bool, error) {
	if f.fail.Load() {
		return "", false, errors.New("claims index unavailable")
	}
	return f.Memory.SaveClaim(ctx, claim)
}

func TestClaimStoreFailureLeavesDocumentRecoverable(t *testing.T) {
	st := &failingClaims{Memory: store.NewMemory()}
	st.fail.Store(true)
	p, err := pipeline.New(pipeline.Deps{
		Store:     st,
		Gateway:   &stubGateway{vectors: map[string][]float32{}},
		Extractor: &stubExtractor{claims: bridgeClaims()},
	}, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := p.Ingest(ctx, bridgeDoc())
	require.ErrorContains(t, err, "claims index unavailable")

	doc, err := st.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.True(t, doc.RetryDeferred)
	require.Equal(t, models.StageExtractionPending, doc.Stage)

	st.fail.Store(false)
	report, err := p.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Recovered)

	claims, err := st.ListClaims(ctx, models.ClaimFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
}

func TestIngestValidationFailure(t *testing.T) {
	p, _ := newPipeline(t, &stubGateway{}, &stubExtractor{}, testConfig())
	raw := bridgeDoc()
	raw.URL = "not a url"

	res, err := p.Ingest(context.Background(), raw)
	var verr *faults.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "url", verr.Field)
	require.Equal(t, pipeline.OutcomeFailed, res.Outcome)
}

func TestConcurrentIngestStoresAndExtractsOnce(t *testing.T) {
	ex := &stubExtractor{claims: bridgeClaims()}
	p, s := newPipeline(t, &stubGateway{}, ex, testConfig())

	const workers = 16
	results := make([]pipeline.IngestResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Ingest(context.Background(), bridgeDoc())
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	stored := 0
	for _, r := range results {
		if r.Outcome == pipeline.OutcomeStored {
			stored++
		} else {
			require.Equal(t, pipeline.OutcomeDuplicateSkipped, r.Outcome)
		}
	}
	require.Equal(t, 1, stored)
	require.Equal(t, int32(1), ex.calls.Load())

	claims, err := s.ListClaims(context.Background(), models.ClaimFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
}

func TestIngestCancellationIsIsolated(t *testing.T) {
	p, _ := newPipeline(t, &stubGateway{}, &stubExtractor{claims: bridgeClaims()}, testConfig())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Ingest(cancelled, bridgeDoc())
	require.Error(t, err)

	other := bridgeDoc()
	other.URL = "http://x/2"
	res, err := p.Ingest(context.Background(), other)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeStored, res.Outcome)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, pipeline.DefaultConfig().Validate())

	cfg := pipeline.DefaultConfig()
	cfg.Retry.MaxAttempts = 0
	require.ErrorIs(t, cfg.Validate(), faults.ErrValidation)

	cfg = pipeline.DefaultConfig()
	cfg.MaxDeferredAttempts = 0
	require.ErrorIs(t, cfg.Validate(), faults.ErrValidation)
}
