// Package embedding is the boundary to the external embedding model.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
)

const service = "embedding"

// MaxInputChars bounds the text sent to the model.
const MaxInputChars = 8000

// Gateway turns text into a vector. Implementations are stateless request/response.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAI calls an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAI creates a gateway. baseURL may point at a local compatible server.
func NewOpenAI(apiKey, baseURL, model string, dimensions int) (*OpenAI, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("embedding gateway needs an API key or a base URL")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(cfg),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
	}, nil
}

// Embed requests a single embedding.
func (g *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(strings.TrimSpace(text), MaxInputChars)
	if text == "" {
		return nil, faults.Invalid("text", "nothing to embed")
	}

	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      g.model,
		Dimensions: g.dimensions,
	})
	if err != nil {
		return nil, faults.Upstream(service, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, faults.Upstream(service, errors.New("empty embedding response"))
	}
	if g.dimensions > 0 && len(resp.Data[0].Embedding) != g.dimensions {
		return nil, faults.Upstream(service, fmt.Errorf("expected %d dimensions, got %d", g.dimensions, len(resp.Data[0].Embedding)))
	}
	return resp.Data[0].Embedding, nil
}

// Cached memoizes vectors by text hash. Embeddings are a pure function of
// the text, so a hit never changes dedup outcomes.
type Cached struct {
	next  Gateway
	cache *gocache.Cache
}

// NewCached wraps next with a TTL cache.
func NewCached(next Gateway, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cached{next: next, cache: gocache.New(ttl, 10*time.Minute)}
}

// Embed returns a copy of the cached vector, so callers may modify it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v.([]float32)), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, slices.Clone(vec))
	return vec, nil
}

// Throttled applies a token bucket in front of next.
type Throttled struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewThrottled limits calls to perSecond with the given burst.
func NewThrottled(next Gateway, perSecond float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, faults.Upstream(service, fmt.Errorf("rate limit wait: %w", err))
	}
	return t.next.Embed(ctx, text)
}

// Text builds the string embedded for a document.
func Text(title, content string) string {
	return strings.TrimSpace(title + "\n\n" + content)
}

func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return "emb:v1:" + hex.EncodeToString(h[:])
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
