// Package elasticsearch is the production content store. Documents and
// claims are keyed by content-derived ids: inserts use op_type=create so the
// first writer wins, and claim updates are compare-and-set on
// if_seq_no/if_primary_term.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

// Client wraps go-elasticsearch and implements store.Store.
type Client struct {
	es         *elasticsearch.Client
	prefix     string
	dimensions int
	refresh    string
	log        *slog.Logger
}

var _ store.Store = (*Client)(nil)

// Options tune index layout and write visibility.
type Options struct {
	// Dimensions of the embedding vectors, used by the documents mapping.
	Dimensions int
	// Refresh is passed to write requests ("false", "true" or "wait_for").
	Refresh string
}

// New instantiates the Elasticsearch client. Indices are named <prefix>-documents,
// <prefix>-claims, <prefix>-verdicts and <prefix>-actors.
func New(addr, prefix string, opts Options, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = 1536
	}
	if opts.Refresh == "" {
		opts.Refresh = "false"
	}

	return &Client{es: es, prefix: prefix, dimensions: opts.Dimensions, refresh: opts.Refresh, log: logger}, nil
}

func (c *Client) documentsIndex() string { return c.prefix + "-documents" }
func (c *Client) claimsIndex() string    { return c.prefix + "-claims" }
func (c *Client) verdictsIndex() string  { return c.prefix + "-verdicts" }
func (c *Client) actorsIndex() string    { return c.prefix + "-actors" }

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health pings Elasticsearch to ensure connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// EnsureIndices creates every missing index with its mapping.
func (c *Client) EnsureIndices(ctx context.Context) error {
	for name, mapping := range c.mappings() {
		res, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, c.es)
		if err != nil {
			return fmt.Errorf("check index %s: %w", name, err)
		}
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			continue
		}

		payload, err := json.Marshal(mapping)
		if err != nil {
			return fmt.Errorf("marshal mapping %s: %w", name, err)
		}
		res, err = esapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(payload)}.Do(ctx, c.es)
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			// Another replica may have created it first.
			if strings.Contains(string(data), "resource_already_exists_exception") {
				continue
			}
			return fmt.Errorf("create index %s failed: %s", name, strings.TrimSpace(string(data)))
		}
		res.Body.Close()
		c.log.Info("index created", slog.String("index", name))
	}
	return nil
}

// hitMeta carries the concurrency token of a fetched document.
type hitMeta struct {
	SeqNo       int
	PrimaryTerm int
}

// create inserts body under id unless the id exists. It reports whether the
// document was created.
func (c *Client) create(ctx context.Context, index, id string, body any) (bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", index, err)
	}

	res, err := esapi.CreateRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
		Refresh:    c.refresh,
	}.Do(ctx, c.es)
	if err != nil {
		return false, fmt.Errorf("create %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return false, nil
	}
	if res.IsError() {
		return false, responseError("create "+index, res)
	}
	return true, nil
}

// get fetches id into dst. A missing document maps to faults.ErrNotFound.
func (c *Client) get(ctx context.Context, index, id string, dst any) (hitMeta, error) {
	res, err := esapi.GetRequest{Index: index, DocumentID: id}.Do(ctx, c.es)
	if err != nil {
		return hitMeta{}, fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return hitMeta{}, fmt.Errorf("%s %s: %w", strings.TrimPrefix(index, c.prefix+"-"), id, faults.ErrNotFound)
	}
	if res.IsError() {
		return hitMeta{}, responseError("get "+index, res)
	}

	var parsed struct {
		Found       bool            `json:"found"`
		SeqNo       int             `json:"_seq_no"`
		PrimaryTerm int             `json:"_primary_term"`
		Source      json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return hitMeta{}, fmt.Errorf("decode get response: %w", err)
	}
	if !parsed.Found {
		return hitMeta{}, fmt.Errorf("%s %s: %w", strings.TrimPrefix(index, c.prefix+"-"), id, faults.ErrNotFound)
	}
	if err := json.Unmarshal(parsed.Source, dst); err != nil {
		return hitMeta{}, fmt.Errorf("decode %s source: %w", index, err)
	}
	return hitMeta{SeqNo: parsed.SeqNo, PrimaryTerm: parsed.PrimaryTerm}, nil
}

// replace writes body over id. With a non-nil token the write only succeeds
// when the stored document is unchanged; otherwise faults.ErrConflict.
func (c *Client) replace(ctx context.Context, index, id string, body any, token *hitMeta) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", index, err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
		Refresh:    c.refresh,
	}
	if token != nil {
		seqNo, term := token.SeqNo, token.PrimaryTerm
		req.IfSeqNo = &seqNo
		req.IfPrimaryTerm = &term
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return fmt.Errorf("%s %s changed concurrently: %w", strings.TrimPrefix(index, c.prefix+"-"), id, faults.ErrConflict)
	}
	if res.IsError() {
		return responseError("index "+index, res)
	}
	return nil
}

// patch applies a partial document update.
func (c *Client) patch(ctx context.Context, index, id string, partial any) error {
	payload, err := json.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return fmt.Errorf("marshal %s update: %w", index, err)
	}

	retries := 3
	res, err := esapi.UpdateRequest{
		Index:           index,
		DocumentID:      id,
		Body:            bytes.NewReader(payload),
		Refresh:         c.refresh,
		RetryOnConflict: &retries,
	}.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", strings.TrimPrefix(index, c.prefix+"-"), id, faults.ErrNotFound)
	}
	if res.IsError() {
		return responseError("update "+index, res)
	}
	return nil
}

type searchHit struct {
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// search runs body against index and returns the raw hits and total.
func (c *Client) search(ctx context.Context, index string, body map[string]any) ([]searchHit, int64, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, 0, responseError("search "+index, res)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []searchHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Hits.Hits, parsed.Hits.Total.Value, nil
}

func responseError(op string, res *esapi.Response) error {
	data, _ := io.ReadAll(res.Body)
	return fmt.Errorf("%s failed: %s", op, strings.TrimSpace(string(data)))
}
