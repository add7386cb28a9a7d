package dedupe_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/claim-radar/backend/internal/dedupe"
	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

type stubGateway struct {
	vector []float32
	err    error
	calls  int
}

func (g *stubGateway) Embed(context.Context, string) ([]float32, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.vector, nil
}

var published = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func storedDoc(t *testing.T, s *store.Memory, id string, vector []float32, at time.Time) {
	t.Helper()
	_, _, err := s.PutDocument(context.Background(), models.Document{
		ID:          id,
		ContentHash: "hash-" + id,
		Source:      "siteA",
		SourceType:  models.SourceMedia,
		Title:       id,
		PublishedAt: at,
		Embedding:   vector,
	})
	require.NoError(t, err)
}

func incoming() models.Document {
	return models.Document{
		ID:          "incoming",
		ContentHash: "hash-incoming",
		SourceType:  models.SourceMedia,
		Title:       "A",
		Content:     "Panama bridge cost $50M",
		PublishedAt: published,
	}
}

// vectorWithCosine returns a unit vector whose cosine with (1,0) is c.
func vectorWithCosine(c float64) []float32 {
	s := 1 - c*c
	if s < 0 {
		s = 0
	}
	return []float32{float32(c), float32(math.Sqrt(s))}
}

func TestCheckExactDuplicateSkipsGateway(t *testing.T) {
	s := store.NewMemory()
	storedDoc(t, s, "first", []float32{1, 0}, published)

	gw := &stubGateway{vector: []float32{1, 0}}
	d := dedupe.New(s, gw, dedupe.DefaultConfig(), nil)

	doc := incoming()
	doc.ContentHash = "hash-first"
	res, err := d.Check(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, dedupe.ExactDuplicate, res.Kind)
	require.Equal(t, "first", res.MatchID)
	require.Zero(t, gw.calls)
}

func TestCheckRecentHintShortCircuits(t *testing.T) {
	recent := dedupe.NewRecent(10, time.Minute)
	d := dedupe.New(store.NewMemory(), &stubGateway{err: errors.New("unused")}, dedupe.DefaultConfig(), recent)
	d.Remember("hash-incoming", "doc9")

	res, err := d.Check(context.Background(), incoming())
	require.NoError(t, err)
	require.Equal(t, dedupe.ExactDuplicate, res.Kind)
	require.Equal(t, "doc9", res.MatchID)
}

func TestCheckClassifiesBySimilarity(t *testing.T) {
	tests := []struct {
		name        string
		cosine      float64
		kind        dedupe.Kind
		needsReview bool
		status      models.DedupStatus
	}{
		{name: "near duplicate", cosine: 0.95, kind: dedupe.NearDuplicate, status: models.DedupNearDuplicate},
		{name: "review band", cosine: 0.85, kind: dedupe.NearDuplicate, needsReview: true, status: models.DedupPossibleDuplicate},
		{name: "unique", cosine: 0.5, kind: dedupe.Unique, status: models.DedupUnique},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemory()
			storedDoc(t, s, "first", []float32{1, 0}, published.Add(-time.Hour))

			d := dedupe.New(s, &stubGateway{vector: vectorWithCosine(tt.cosine)}, dedupe.DefaultConfig(), nil)
			res, err := d.Check(context.Background(), incoming())
			require.NoError(t, err)
			require.Equal(t, tt.kind, res.Kind)
			require.Equal(t, tt.needsReview, res.NeedsReview)
			require.Equal(t, tt.status, res.Status())
			require.InDelta(t, tt.cosine, res.Similarity, 1e-4)
			require.NotEmpty(t, res.Embedding)
			if tt.kind == dedupe.NearDuplicate {
				require.Equal(t, "first", res.MatchID)
			}
		})
	}
}

func TestCheckTieBreaksOnEarliestPublication(t *testing.T) {
	s := store.NewMemory()
	storedDoc(t, s, "b-newer", []float32{1, 0}, published.Add(-time.Hour))
	storedDoc(t, s, "z-older", []float32{1, 0}, published.Add(-2*time.Hour))

	d := dedupe.New(s, &stubGateway{vector: []float32{1, 0}}, dedupe.DefaultConfig(), nil)
	res, err := d.Check(context.Background(), incoming())
	require.NoError(t, err)
	require.Equal(t, "z-older", res.MatchID)
}

func TestCheckIgnoresOutsideWindowAndOtherSourceTypes(t *testing.T) {
	s := store.NewMemory()
	storedDoc(t, s, "stale", []float32{1, 0}, published.AddDate(0, 0, -30))
	_, _, err := s.PutDocument(context.Background(), models.Document{
		ID: "official", ContentHash: "hash-official", SourceType: models.SourceOfficial,
		PublishedAt: published, Embedding: []float32{1, 0},
	})
	require.NoError(t, err)

	d := dedupe.New(s, &stubGateway{vector: []float32{1, 0}}, dedupe.DefaultConfig(), nil)
	res, err := d.Check(context.Background(), incoming())
	require.NoError(t, err)
	require.Equal(t, dedupe.Unique, res.Kind)
}

func TestCheckGatewayFailureIsUpstream(t *testing.T) {
	d := dedupe.New(store.NewMemory(), &stubGateway{err: context.DeadlineExceeded}, dedupe.DefaultConfig(), nil)
	_, err := d.Check(context.Background(), incoming())
	require.ErrorIs(t, err, faults.ErrUpstreamUnavailable)
	require.True(t, faults.IsRetryable(err))
}

func TestCheckSimilarExcludesSelf(t *testing.T) {
	s := store.NewMemory()
	storedDoc(t, s, "incoming", []float32{1, 0}, published)

	d := dedupe.New(s, &stubGateway{vector: []float32{1, 0}}, dedupe.DefaultConfig(), nil)
	res, err := d.CheckSimilar(context.Background(), incoming())
	require.NoError(t, err)
	require.Equal(t, dedupe.Unique, res.Kind)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, dedupe.DefaultConfig().Validate())

	cfg := dedupe.DefaultConfig()
	cfg.LowThreshold = 0.95
	var verr *faults.ValidationError
	require.ErrorAs(t, cfg.Validate(), &verr)
	require.Equal(t, "low_threshold", verr.Field)
}
