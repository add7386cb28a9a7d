// Package store defines the content store contract shared by the memory and
// Elasticsearch backends. The store is the single serialization point of the
// pipeline: identical content is inserted at most once and claim status
// updates are compare-and-set on a version token.
package store

import (
	"context"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/models"
)

// DefaultListLimit applies when callers pass a non-positive limit.
const DefaultListLimit = 50

// ClaimUpdate is the payload of a versioned claim status change.
type ClaimUpdate struct {
	Status models.ClaimStatus
	Risk   models.RiskLevel
	Note   string
	At     time.Time
}

// NeighborQuery describes a bounded nearest-neighbour search over embedded documents.
type NeighborQuery struct {
	Vector     []float32
	SourceType models.SourceType
	From       time.Time
	To         time.Time
	ExcludeID  string
	K          int
}

// Neighbor is a candidate returned by NearestDocuments.
type Neighbor struct {
	ID          string
	PublishedAt time.Time
	Similarity  float64
}

// DocumentSearch narrows SearchDocuments. Zero values match everything.
type DocumentSearch struct {
	Query       string
	Keywords    []string
	Source      string
	SourceType  models.SourceType
	DedupStatus models.DedupStatus
	Start       *time.Time
	End         *time.Time
	From        int
	Size        int
}

// DocumentPage bundles search hits and the total count.
type DocumentPage struct {
	Total int64             `json:"total"`
	Items []models.Document `json:"items"`
}

// Documents persists ingested documents.
type Documents interface {
	PutDocument(ctx context.Context, doc models.Document) (id string, isNew bool, err error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// FindByHash returns nil, nil when no document carries hash.
	FindByHash(ctx context.Context, hash string) (*models.Document, error)
	UpdateDocumentState(ctx context.Context, id string, state models.DocumentState) error
	SetDocumentEmbedding(ctx context.Context, id string, vector []float32) error
	ListDeferred(ctx context.Context, limit int) ([]models.Document, error)
	ListDocumentsByDedupStatus(ctx context.Context, status models.DedupStatus, limit int) ([]models.Document, error)
	NearestDocuments(ctx context.Context, q NeighborQuery) ([]Neighbor, error)
	// SearchDocuments returns documents newest published first.
	SearchDocuments(ctx context.Context, q DocumentSearch) (*DocumentPage, error)
	// PurgeDuplicates deletes confirmed duplicates ingested before cutoff.
	PurgeDuplicates(ctx context.Context, cutoff time.Time) (int64, error)
}

// Claims persists extracted claims.
type Claims interface {
	SaveClaim(ctx context.Context, claim models.Claim) (id string, isNew bool, err error)
	GetClaim(ctx context.Context, id string) (*models.Claim, error)
	ListClaims(ctx context.Context, filter models.ClaimFilter, limit int) ([]models.Claim, error)
	UpdateClaimStatus(ctx context.Context, id string, expectedVersion int64, upd ClaimUpdate) (*models.Claim, error)
}

// Verdicts persists published verdicts with their audit trail.
type Verdicts interface {
	// SaveVerdict stores v as the active verdict of its claim and deactivates
	// the previous one. Revision and Supersedes are filled by the store.
	SaveVerdict(ctx context.Context, v models.Verdict) (*models.Verdict, error)
	// CommitVerdict applies upd to the claim when it is still at
	// expectedVersion and only then saves v. A stale version returns
	// faults.ErrConflict and stores nothing.
	CommitVerdict(ctx context.Context, expectedVersion int64, v models.Verdict, upd ClaimUpdate) (*models.Claim, *models.Verdict, error)
	ActiveVerdict(ctx context.Context, claimID string) (*models.Verdict, error)
	ListVerdicts(ctx context.Context, claimID string) ([]models.Verdict, error)
}

// Actors persists tracked actors and their risk profiles.
type Actors interface {
	PutActor(ctx context.Context, actor models.Actor) (*models.Actor, error)
	GetActor(ctx context.Context, id string) (*models.Actor, error)
	LinkActorClaim(ctx context.Context, actorID, claimID string) error
	SaveActorProfile(ctx context.Context, actorID string, profile models.RiskProfile, scoredAt time.Time) error
	ActorsByClaim(ctx context.Context, claimID string) ([]models.Actor, error)
	// ListActors returns actors ordered by id.
	ListActors(ctx context.Context, limit int) ([]models.Actor, error)
}

// Store is the full content store.
type Store interface {
	Documents
	Claims
	Verdicts
	Actors
}

// ApplyClaimUpdate mutates c the same way in every backend.
func ApplyClaimUpdate(c *models.Claim, upd ClaimUpdate) {
	c.History = append(c.History, models.StatusChange{
		From: c.Status,
		To:   upd.Status,
		At:   upd.At,
		Note: upd.Note,
	})
	c.Status = upd.Status
	if upd.Risk != "" {
		c.RiskLevel = upd.Risk
	}
	c.LastTransitionAt = upd.At
	c.Version++
}

// NormalizeLimit clamps a caller supplied limit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
