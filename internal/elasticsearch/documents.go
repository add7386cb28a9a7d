package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/processing"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

// PutDocument creates doc under its hash-derived id. An existing id reports
// isNew=false and leaves the stored document untouched.
func (c *Client) PutDocument(ctx context.Context, doc models.Document) (string, bool, error) {
	if doc.ID == "" || doc.ContentHash == "" {
		return "", false, faults.Invalid("id", "document id and content hash are required")
	}
	created, err := c.create(ctx, c.documentsIndex(), doc.ID, doc)
	if err != nil {
		return "", false, err
	}
	return doc.ID, created, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if _, err := c.get(ctx, c.documentsIndex(), id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByHash is a realtime get on the id derived from hash.
func (c *Client) FindByHash(ctx context.Context, hash string) (*models.Document, error) {
	doc, err := c.GetDocument(ctx, processing.DocumentID(hash))
	if errors.Is(err, faults.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.ContentHash != hash {
		return nil, nil
	}
	return doc, nil
}

// UpdateDocumentState overwrites every processing field, including empty ones
// that the document encoding would omit.
func (c *Client) UpdateDocumentState(ctx context.Context, id string, state models.DocumentState) error {
	claimIDs := state.ClaimIDs
	if claimIDs == nil {
		claimIDs = []string{}
	}
	return c.patch(ctx, c.documentsIndex(), id, map[string]any{
		"dedup_status":   state.DedupStatus,
		"duplicate_of":   state.DuplicateOf,
		"similarity":     state.Similarity,
		"stage":          state.Stage,
		"retry_deferred": state.RetryDeferred,
		"retry_attempts": state.RetryAttempts,
		"last_error":     state.LastError,
		"claim_ids":      claimIDs,
	})
}

func (c *Client) SetDocumentEmbedding(ctx context.Context, id string, vector []float32) error {
	return c.patch(ctx, c.documentsIndex(), id, map[string]any{"embedding": vector})
}

func (c *Client) ListDeferred(ctx context.Context, limit int) ([]models.Document, error) {
	return c.listDocuments(ctx, map[string]any{"term": map[string]any{"retry_deferred": true}}, limit)
}

func (c *Client) ListDocumentsByDedupStatus(ctx context.Context, status models.DedupStatus, limit int) ([]models.Document, error) {
	return c.listDocuments(ctx, map[string]any{"term": map[string]any{"dedup_status": string(status)}}, limit)
}

func (c *Client) listDocuments(ctx context.Context, filter map[string]any, limit int) ([]models.Document, error) {
	hits, _, err := c.search(ctx, c.documentsIndex(), map[string]any{
		"size":  store.NormalizeLimit(limit),
		"query": map[string]any{"bool": map[string]any{"filter": []map[string]any{filter}}},
		"sort": []map[string]any{
			{"ingested_at": map[string]any{"order": "asc"}},
			{"id": map[string]any{"order": "asc"}},
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeDocuments(hits)
}

// NearestDocuments runs an approximate kNN search restricted to the source
// type and time window. Cosine similarity is recovered from the score.
func (c *Client) NearestDocuments(ctx context.Context, q store.NeighborQuery) ([]store.Neighbor, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	k := q.K
	if k <= 0 {
		k = 10
	}

	filters := make([]map[string]any, 0, 2)
	if q.SourceType != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"source_type": string(q.SourceType)}})
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		rangeQuery := map[string]any{}
		if !q.From.IsZero() {
			rangeQuery["gte"] = q.From.UTC().Format(time.RFC3339Nano)
		}
		if !q.To.IsZero() {
			rangeQuery["lte"] = q.To.UTC().Format(time.RFC3339Nano)
		}
		filters = append(filters, map[string]any{"range": map[string]any{"published_at": rangeQuery}})
	}
	filter := map[string]any{"filter": filters}
	if q.ExcludeID != "" {
		filter["must_not"] = []map[string]any{{"ids": map[string]any{"values": []string{q.ExcludeID}}}}
	}

	hits, _, err := c.search(ctx, c.documentsIndex(), map[string]any{
		"size":    k,
		"_source": []string{"id", "published_at"},
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   q.Vector,
			"k":              k,
			"num_candidates": max(k*10, 100),
			"filter":         map[string]any{"bool": filter},
		},
	})
	if err != nil {
		return nil, err
	}

	out := make([]store.Neighbor, 0, len(hits))
	for _, h := range hits {
		var src struct {
			ID          string    `json:"id"`
			PublishedAt time.Time `json:"published_at"`
		}
		if err := json.Unmarshal(h.Source, &src); err != nil {
			return nil, fmt.Errorf("decode neighbor: %w", err)
		}
		id := src.ID
		if id == "" {
			id = h.ID
		}
		out = append(out, store.Neighbor{ID: id, PublishedAt: src.PublishedAt, Similarity: 2*h.Score - 1})
	}
	store.SortNeighbors(out)
	return out, nil
}

// SearchDocuments executes a bool query with optional filters.
func (c *Client) SearchDocuments(ctx context.Context, params store.DocumentSearch) (*store.DocumentPage, error) {
	size := store.NormalizeLimit(params.Size)
	if size > 200 {
		size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 5)

	if q := strings.TrimSpace(params.Query); q != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"title^2", "content"},
			},
		})
	}
	if len(params.Keywords) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"keywords": params.Keywords}})
	}
	if params.Source != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"source": params.Source}})
	}
	if params.SourceType != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"source_type": string(params.SourceType)}})
	}
	if params.DedupStatus != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"dedup_status": string(params.DedupStatus)}})
	}
	if params.Start != nil || params.End != nil {
		rangeQuery := map[string]any{}
		if params.Start != nil {
			rangeQuery["gte"] = params.Start.UTC().Format(time.RFC3339)
		}
		if params.End != nil {
			rangeQuery["lte"] = params.End.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{"range": map[string]any{"published_at": rangeQuery}})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}

	hits, total, err := c.search(ctx, c.documentsIndex(), map[string]any{
		"from":             params.From,
		"size":             size,
		"track_total_hits": true,
		"_source":          map[string]any{"excludes": []string{"embedding"}},
		"query":            map[string]any{"bool": boolQuery},
		"sort": []map[string]any{
			{"published_at": map[string]any{"order": "desc"}},
			{"id": map[string]any{"order": "asc"}},
		},
	})
	if err != nil {
		return nil, err
	}
	items, err := decodeDocuments(hits)
	if err != nil {
		return nil, err
	}
	return &store.DocumentPage{Total: total, Items: items}, nil
}

// PurgeDuplicates removes confirmed duplicates ingested before cutoff using
// batched delete-by-query. It loops until a batch deletes fewer documents than
// the batch size.
func (c *Client) PurgeDuplicates(ctx context.Context, cutoff time.Time) (int64, error) {
	const batchSize = 1000
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"max_docs": batchSize,
			"query": map[string]any{
				"bool": map[string]any{
					"filter": []map[string]any{
						{"term": map[string]any{"dedup_status": string(models.DedupConfirmedDuplicate)}},
						{"range": map[string]any{"ingested_at": map[string]any{"lte": cutoff.UTC().Format(time.RFC3339)}}},
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.documentsIndex()},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted
		if parsed.Deleted < batchSize {
			break
		}
	}

	return totalDeleted, nil
}

func decodeDocuments(hits []searchHit) ([]models.Document, error) {
	out := make([]models.Document, 0, len(hits))
	for _, h := range hits {
		var doc models.Document
		if err := json.Unmarshal(h.Source, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, doc)
	}
	return out, nil
}
