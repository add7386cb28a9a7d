package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
	"github.com/DeafMist/claim-radar/backend/internal/processing"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

type stubGateway struct{}

func (stubGateway) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 7)
	}
	return v, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, _ models.Document) ([]models.CandidateClaim, error) {
	return []models.CandidateClaim{{
		Title:      "Costo del puente",
		ClaimText:  "El puente costó 50 millones",
		Speaker:    "Ministro de Obras",
		Category:   "economia",
		Confidence: 90,
	}}, nil
}

func testApp(t *testing.T) (*app, *store.Memory, *bytes.Buffer) {
	t.Helper()
	st := store.NewMemory()
	p, err := pipeline.New(pipeline.Deps{
		Store:     st,
		Gateway:   stubGateway{},
		Extractor: stubExtractor{},
	}, pipeline.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &app{
		out:          out,
		openPipeline: func(context.Context) (*pipeline.Pipeline, error) { return p, nil },
		ensureIndices: func(context.Context) error {
			return errors.New("no elasticsearch in tests")
		},
	}, st, out
}

func run(a *app, args ...string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func rawLine(t *testing.T, doc models.RawDocument) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

var bridge = models.RawDocument{
	Title:         "Puente nuevo",
	URL:           "https://diario.example/puente",
	Content:       "El ministro afirmó que el puente costó 50 millones.",
	Source:        "diario",
	PublishedDate: "2024-01-02T15:04:05Z",
}

func TestIngestCountsOutcomes(t *testing.T) {
	a, st, out := testApp(t)
	path := writeJSONL(t,
		rawLine(t, bridge),
		"",
		rawLine(t, bridge),
		"{not json",
		rawLine(t, models.RawDocument{Content: "sin url", Source: "x"}),
	)

	err := run(a, "ingest", "--concurrency", "2", path)
	require.EqualError(t, err, "2 of 4 documents failed")

	var summary ingestSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 1, summary.Stored)
	require.Equal(t, 1, summary.Duplicates)
	require.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Errors, 2)
	require.Equal(t, 4, summary.Errors[0].Line)
	require.Equal(t, 5, summary.Errors[1].Line)

	claims, err := st.ListClaims(context.Background(), models.ClaimFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
}

func TestIngestRejectsBadConcurrency(t *testing.T) {
	a, _, _ := testApp(t)
	err := run(a, "ingest", "--concurrency", "0", writeJSONL(t, rawLine(t, bridge)))
	require.Error(t, err)
}

func TestReviewLifecycleFromCommandLine(t *testing.T) {
	a, st, out := testApp(t)
	require.NoError(t, run(a, "ingest", writeJSONL(t, rawLine(t, bridge))))

	ctx := context.Background()
	claims, err := st.ListClaims(ctx, models.ClaimFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	id := claims[0].ID

	require.NoError(t, run(a, "transition", id, "--to", "under_review", "--version", "2"))
	err = run(a, "transition", id, "--to", "verified", "--version", "3")
	require.Error(t, err)
	require.NoError(t, run(a, "transition", id, "--to", "verified", "--version", "3", "--risk", "high"))

	out.Reset()
	require.NoError(t, run(a, "verdict", id, "--version", "4", "--conclusion", "false", "--rationale", "contratos públicos", "--reviewer", "ana"))
	var published struct {
		Claim   models.Claim   `json:"claim"`
		Verdict models.Verdict `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &published))
	require.Equal(t, models.StatusPublished, published.Claim.Status)
	require.Equal(t, models.ConclusionFalse, published.Verdict.Conclusion)

	out.Reset()
	require.NoError(t, run(a, "rescore", processing.ActorID("Ministro de Obras")))
	var profile models.RiskProfile
	require.NoError(t, json.Unmarshal(out.Bytes(), &profile))
	require.Equal(t, 30, profile.Score)

	require.Error(t, run(a, "retract", id, "--version", "5"))
	require.NoError(t, run(a, "retract", id, "--version", "5", "--rationale", "fuente corregida"))

	out.Reset()
	require.NoError(t, run(a, "rescore", processing.ActorID("Ministro de Obras")))
	require.NoError(t, json.Unmarshal(out.Bytes(), &profile))
	require.Equal(t, 0, profile.Score)
}

func TestTransitionValidatesFlags(t *testing.T) {
	a, _, _ := testApp(t)
	require.Error(t, run(a, "transition", "clm_x", "--to", "limbo", "--version", "1"))
	require.Error(t, run(a, "transition", "clm_x", "--version", "1"))
	require.Error(t, run(a, "verdict", "clm_x", "--version", "1", "--conclusion", "maybe"))
}

func TestRetryReportsNothingPending(t *testing.T) {
	a, _, out := testApp(t)
	require.NoError(t, run(a, "retry", "--limit", "10"))

	var report pipeline.RetryReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Zero(t, report.Attempted)
}

func TestEnsureIndicesSurfacesErrors(t *testing.T) {
	a, _, _ := testApp(t)
	require.EqualError(t, run(a, "ensure-indices"), "no elasticsearch in tests")
}
