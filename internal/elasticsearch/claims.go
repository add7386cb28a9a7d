package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

// SaveClaim creates claim unless its id is already stored.
func (c *Client) SaveClaim(ctx context.Context, claim models.Claim) (string, bool, error) {
	if err := models.ValidateClaim(claim); err != nil {
		return "", false, err
	}
	if claim.Version == 0 {
		claim.Version = 1
	}
	created, err := c.create(ctx, c.claimsIndex(), claim.ID, claim)
	if err != nil {
		return "", false, err
	}
	return claim.ID, created, nil
}

func (c *Client) GetClaim(ctx context.Context, id string) (*models.Claim, error) {
	var claim models.Claim
	if _, err := c.get(ctx, c.claimsIndex(), id, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

func (c *Client) ListClaims(ctx context.Context, filter models.ClaimFilter, limit int) ([]models.Claim, error) {
	filters := make([]map[string]any, 0, 5)
	if filter.Status != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"status": string(filter.Status)}})
	}
	if filter.Category != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"category": filter.Category}})
	}
	if filter.Risk != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"risk_level": string(filter.Risk)}})
	}
	if filter.Tag != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"tags": filter.Tag}})
	}
	if filter.DocumentID != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"document_ids": filter.DocumentID}})
	}

	query := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": filters}}
	}

	hits, _, err := c.search(ctx, c.claimsIndex(), map[string]any{
		"size":  store.NormalizeLimit(limit),
		"query": query,
		"sort": []map[string]any{
			{"created_at": map[string]any{"order": "desc"}},
			{"id": map[string]any{"order": "asc"}},
		},
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Claim, 0, len(hits))
	for _, h := range hits {
		var claim models.Claim
		if err := json.Unmarshal(h.Source, &claim); err != nil {
			return nil, fmt.Errorf("decode claim: %w", err)
		}
		out = append(out, claim)
	}
	return out, nil
}

// UpdateClaimStatus applies upd when the stored version equals expectedVersion.
// The write is conditional on the sequence number read, so a concurrent
// writer between read and write also yields faults.ErrConflict.
func (c *Client) UpdateClaimStatus(ctx context.Context, id string, expectedVersion int64, upd store.ClaimUpdate) (*models.Claim, error) {
	var claim models.Claim
	token, err := c.get(ctx, c.claimsIndex(), id, &claim)
	if err != nil {
		return nil, err
	}
	if claim.Version != expectedVersion {
		return nil, fmt.Errorf("claim %s at version %d, expected %d: %w", id, claim.Version, expectedVersion, faults.ErrConflict)
	}

	store.ApplyClaimUpdate(&claim, upd)
	if err := c.replace(ctx, c.claimsIndex(), id, claim, &token); err != nil {
		return nil, err
	}
	return &claim, nil
}
