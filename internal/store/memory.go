package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
)

// Memory is an in-process Store. It backs tests and STORE_BACKEND=memory.
type Memory struct {
	mu              sync.RWMutex
	docs            map[string]models.Document
	byHash          map[string]string
	claims          map[string]models.Claim
	verdicts        map[string]models.Verdict
	verdictsByClaim map[string][]string
	actors          map[string]models.Actor
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:            make(map[string]models.Document),
		byHash:          make(map[string]string),
		claims:          make(map[string]models.Claim),
		verdicts:        make(map[string]models.Verdict),
		verdictsByClaim: make(map[string][]string),
		actors:          make(map[string]models.Actor),
	}
}

// PutDocument inserts doc unless a document with the same hash exists.
func (m *Memory) PutDocument(_ context.Context, doc models.Document) (string, bool, error) {
	if doc.ID == "" || doc.ContentHash == "" {
		return "", false, faults.Invalid("id", "document id and content hash are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byHash[doc.ContentHash]; ok {
		return id, false, nil
	}
	if _, ok := m.docs[doc.ID]; ok {
		return doc.ID, false, nil
	}
	m.docs[doc.ID] = cloneDocument(doc)
	m.byHash[doc.ContentHash] = doc.ID
	return doc.ID, true, nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, faults.ErrNotFound)
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (m *Memory) FindByHash(_ context.Context, hash string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	out := cloneDocument(m.docs[id])
	return &out, nil
}

func (m *Memory) UpdateDocumentState(_ context.Context, id string, state models.DocumentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, faults.ErrNotFound)
	}
	state.ClaimIDs = append([]string(nil), state.ClaimIDs...)
	doc.DocumentState = state
	m.docs[id] = doc
	return nil
}

func (m *Memory) SetDocumentEmbedding(_ context.Context, id string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, faults.ErrNotFound)
	}
	doc.Embedding = append([]float32(nil), vector...)
	m.docs[id] = doc
	return nil
}

func (m *Memory) ListDeferred(_ context.Context, limit int) ([]models.Document, error) {
	return m.listDocuments(limit, func(d models.Document) bool { return d.RetryDeferred }), nil
}

func (m *Memory) ListDocumentsByDedupStatus(_ context.Context, status models.DedupStatus, limit int) ([]models.Document, error) {
	return m.listDocuments(limit, func(d models.Document) bool { return d.DedupStatus == status }), nil
}

func (m *Memory) listDocuments(limit int, keep func(models.Document) bool) []models.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Document, 0)
	for _, d := range m.docs {
		if keep(d) {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.Before(out[j].IngestedAt)
		}
		return out[i].ID < out[j].ID
	})
	limit = NormalizeLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) SearchDocuments(_ context.Context, q DocumentSearch) (*DocumentPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(q.Query))
	var hits []models.Document
	for _, d := range m.docs {
		if query != "" && !strings.Contains(strings.ToLower(d.Title+" "+d.Content), query) {
			continue
		}
		if q.Source != "" && d.Source != q.Source {
			continue
		}
		if q.SourceType != "" && d.SourceType != q.SourceType {
			continue
		}
		if q.DedupStatus != "" && d.DedupStatus != q.DedupStatus {
			continue
		}
		if q.Start != nil && d.PublishedAt.Before(*q.Start) {
			continue
		}
		if q.End != nil && d.PublishedAt.After(*q.End) {
			continue
		}
		if len(q.Keywords) > 0 && !anyOf(d.Keywords, q.Keywords) {
			continue
		}
		hits = append(hits, cloneDocument(d))
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].PublishedAt.Equal(hits[j].PublishedAt) {
			return hits[i].PublishedAt.After(hits[j].PublishedAt)
		}
		return hits[i].ID < hits[j].ID
	})

	page := &DocumentPage{Total: int64(len(hits)), Items: []models.Document{}}
	from := q.From
	if from < 0 {
		from = 0
	}
	if from >= len(hits) {
		return page, nil
	}
	end := from + NormalizeLimit(q.Size)
	if end > len(hits) {
		end = len(hits)
	}
	page.Items = hits[from:end]
	return page, nil
}

func (m *Memory) PurgeDuplicates(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, d := range m.docs {
		if d.DedupStatus != models.DedupConfirmedDuplicate || d.IngestedAt.After(cutoff) {
			continue
		}
		delete(m.docs, id)
		delete(m.byHash, d.ContentHash)
		deleted++
	}
	return deleted, nil
}

func anyOf(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (m *Memory) NearestDocuments(_ context.Context, q NeighborQuery) ([]Neighbor, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Neighbor
	for _, d := range m.docs {
		if d.ID == q.ExcludeID || len(d.Embedding) == 0 {
			continue
		}
		if q.SourceType != "" && d.SourceType != q.SourceType {
			continue
		}
		if !q.From.IsZero() && d.PublishedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && d.PublishedAt.After(q.To) {
			continue
		}
		out = append(out, Neighbor{
			ID:          d.ID,
			PublishedAt: d.PublishedAt,
			Similarity:  Cosine(q.Vector, d.Embedding),
		})
	}

	SortNeighbors(out)
	k := q.K
	if k <= 0 {
		k = 10
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// SaveClaim inserts claim unless its id is already stored.
func (m *Memory) SaveClaim(_ context.Context, claim models.Claim) (string, bool, error) {
	if err := models.ValidateClaim(claim); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.claims[claim.ID]; ok {
		return claim.ID, false, nil
	}
	if claim.Version == 0 {
		claim.Version = 1
	}
	m.claims[claim.ID] = cloneClaim(claim)
	return claim.ID, true, nil
}

func (m *Memory) GetClaim(_ context.Context, id string) (*models.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", id, faults.ErrNotFound)
	}
	out := cloneClaim(c)
	return &out, nil
}

func (m *Memory) ListClaims(_ context.Context, filter models.ClaimFilter, limit int) ([]models.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Claim, 0)
	for _, c := range m.claims {
		if filter.Matches(c) {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	limit = NormalizeLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateClaimStatus applies upd only when the stored version equals expectedVersion.
func (m *Memory) UpdateClaimStatus(_ context.Context, id string, expectedVersion int64, upd ClaimUpdate) (*models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", id, faults.ErrNotFound)
	}
	if c.Version != expectedVersion {
		return nil, fmt.Errorf("claim %s at version %d, expected %d: %w", id, c.Version, expectedVersion, faults.ErrConflict)
	}
	ApplyClaimUpdate(&c, upd)
	m.claims[id] = c
	out := cloneClaim(c)
	return &out, nil
}

func (m *Memory) SaveVerdict(_ context.Context, v models.Verdict) (*models.Verdict, error) {
	if err := models.ValidateVerdict(v); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.claims[v.ClaimID]; !ok {
		return nil, fmt.Errorf("claim %s: %w", v.ClaimID, faults.ErrNotFound)
	}
	out := m.saveVerdictLocked(v)
	return &out, nil
}

// CommitVerdict checks the claim version, applies upd and saves v under one lock.
func (m *Memory) CommitVerdict(_ context.Context, expectedVersion int64, v models.Verdict, upd ClaimUpdate) (*models.Claim, *models.Verdict, error) {
	if err := models.ValidateVerdict(v); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[v.ClaimID]
	if !ok {
		return nil, nil, fmt.Errorf("claim %s: %w", v.ClaimID, faults.ErrNotFound)
	}
	if c.Version != expectedVersion {
		return nil, nil, fmt.Errorf("claim %s at version %d, expected %d: %w", v.ClaimID, c.Version, expectedVersion, faults.ErrConflict)
	}
	ApplyClaimUpdate(&c, upd)
	m.claims[v.ClaimID] = c

	saved := m.saveVerdictLocked(v)
	claim := cloneClaim(c)
	return &claim, &saved, nil
}

func (m *Memory) saveVerdictLocked(v models.Verdict) models.Verdict {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.PublishedAt.IsZero() {
		v.PublishedAt = time.Now().UTC()
	}

	ids := m.verdictsByClaim[v.ClaimID]
	v.Revision = len(ids) + 1
	v.Supersedes = ""
	for _, prevID := range ids {
		prev := m.verdicts[prevID]
		if !prev.Active {
			continue
		}
		at := v.PublishedAt
		prev.Active = false
		prev.SupersededAt = &at
		m.verdicts[prevID] = prev
		v.Supersedes = prevID
	}
	v.Active = true

	m.verdicts[v.ID] = v
	m.verdictsByClaim[v.ClaimID] = append(ids, v.ID)
	return v
}

func (m *Memory) ActiveVerdict(_ context.Context, claimID string) (*models.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.verdictsByClaim[claimID] {
		if v := m.verdicts[id]; v.Active {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("active verdict for claim %s: %w", claimID, faults.ErrNotFound)
}

// ListVerdicts returns every revision of a claim's verdict, oldest first.
func (m *Memory) ListVerdicts(_ context.Context, claimID string) ([]models.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.verdictsByClaim[claimID]
	out := make([]models.Verdict, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.verdicts[id])
	}
	return out, nil
}

func (m *Memory) PutActor(_ context.Context, actor models.Actor) (*models.Actor, error) {
	if err := models.ValidateActor(actor); err != nil {
		return nil, err
	}
	kind, _ := models.ParseActorKind(string(actor.Kind))
	actor.Kind = kind

	m.mu.Lock()
	defer m.mu.Unlock()

	if actor.ID == "" {
		actor.ID = uuid.NewString()
	}
	if existing, ok := m.actors[actor.ID]; ok {
		existing.Name = actor.Name
		existing.Aliases = append([]string(nil), actor.Aliases...)
		existing.Kind = actor.Kind
		actor = existing
	} else {
		if actor.CreatedAt.IsZero() {
			actor.CreatedAt = time.Now().UTC()
		}
		actor.ClaimIDs = append([]string(nil), actor.ClaimIDs...)
	}
	m.actors[actor.ID] = actor
	out := cloneActor(actor)
	return &out, nil
}

func (m *Memory) GetActor(_ context.Context, id string) (*models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actors[id]
	if !ok {
		return nil, fmt.Errorf("actor %s: %w", id, faults.ErrNotFound)
	}
	out := cloneActor(a)
	return &out, nil
}

func (m *Memory) LinkActorClaim(_ context.Context, actorID, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[actorID]
	if !ok {
		return fmt.Errorf("actor %s: %w", actorID, faults.ErrNotFound)
	}
	if _, ok := m.claims[claimID]; !ok {
		return fmt.Errorf("claim %s: %w", claimID, faults.ErrNotFound)
	}
	for _, id := range a.ClaimIDs {
		if id == claimID {
			return nil
		}
	}
	a.ClaimIDs = append(a.ClaimIDs, claimID)
	m.actors[actorID] = a
	return nil
}

func (m *Memory) SaveActorProfile(_ context.Context, actorID string, profile models.RiskProfile, scoredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[actorID]
	if !ok {
		return fmt.Errorf("actor %s: %w", actorID, faults.ErrNotFound)
	}
	a.RiskScore = profile.Score
	a.RiskTier = profile.Tier
	a.Basis = append([]models.BasisEntry(nil), profile.Basis...)
	a.LastScoredAt = &scoredAt
	m.actors[actorID] = a
	return nil
}

func (m *Memory) ActorsByClaim(_ context.Context, claimID string) ([]models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Actor
	for _, a := range m.actors {
		for _, id := range a.ClaimIDs {
			if id == claimID {
				out = append(out, cloneActor(a))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneDocument(d models.Document) models.Document {
	d.Keywords = append([]string(nil), d.Keywords...)
	d.URLs = append([]string(nil), d.URLs...)
	d.Embedding = append([]float32(nil), d.Embedding...)
	d.ClaimIDs = append([]string(nil), d.ClaimIDs...)
	return d
}

func cloneClaim(c models.Claim) models.Claim {
	c.Tags = append([]string(nil), c.Tags...)
	c.DocumentIDs = append([]string(nil), c.DocumentIDs...)
	c.History = append([]models.StatusChange(nil), c.History...)
	return c
}

func cloneActor(a models.Actor) models.Actor {
	a.Aliases = append([]string(nil), a.Aliases...)
	a.ClaimIDs = append([]string(nil), a.ClaimIDs...)
	a.Basis = append([]models.BasisEntry(nil), a.Basis...)
	return a
}

func (m *Memory) ListActors(_ context.Context, limit int) ([]models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, cloneActor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit = NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
