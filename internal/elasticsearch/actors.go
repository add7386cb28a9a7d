package elasticsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/store"
)

const maxLinkAttempts = 5

// PutActor creates an actor or updates the name, aliases and kind of an
// existing one. Claim links and the risk profile are kept.
func (c *Client) PutActor(ctx context.Context, actor models.Actor) (*models.Actor, error) {
	if err := models.ValidateActor(actor); err != nil {
		return nil, err
	}
	kind, _ := models.ParseActorKind(string(actor.Kind))
	actor.Kind = kind

	if actor.ID == "" {
		actor.ID = uuid.NewString()
	} else {
		var existing models.Actor
		token, err := c.get(ctx, c.actorsIndex(), actor.ID, &existing)
		switch {
		case err == nil:
			existing.Name = actor.Name
			existing.Aliases = actor.Aliases
			existing.Kind = actor.Kind
			if err := c.replace(ctx, c.actorsIndex(), actor.ID, existing, &token); err != nil {
				return nil, err
			}
			return &existing, nil
		case !errors.Is(err, faults.ErrNotFound):
			return nil, err
		}
	}

	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = time.Now().UTC()
	}
	created, err := c.create(ctx, c.actorsIndex(), actor.ID, actor)
	if err != nil {
		return nil, err
	}
	if !created {
		return c.GetActor(ctx, actor.ID)
	}
	return &actor, nil
}

func (c *Client) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	var actor models.Actor
	if _, err := c.get(ctx, c.actorsIndex(), id, &actor); err != nil {
		return nil, err
	}
	return &actor, nil
}

// LinkActorClaim appends claimID to the actor with a conditional write,
// retrying when another link landed in between.
func (c *Client) LinkActorClaim(ctx context.Context, actorID, claimID string) error {
	if _, err := c.GetClaim(ctx, claimID); err != nil {
		return err
	}

	for attempt := 0; attempt < maxLinkAttempts; attempt++ {
		var actor models.Actor
		token, err := c.get(ctx, c.actorsIndex(), actorID, &actor)
		if err != nil {
			return err
		}
		for _, id := range actor.ClaimIDs {
			if id == claimID {
				return nil
			}
		}
		actor.ClaimIDs = append(actor.ClaimIDs, claimID)

		err = c.replace(ctx, c.actorsIndex(), actorID, actor, &token)
		if errors.Is(err, faults.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("link actor %s: %w", actorID, faults.ErrConflict)
}

func (c *Client) SaveActorProfile(ctx context.Context, actorID string, profile models.RiskProfile, scoredAt time.Time) error {
	basis := profile.Basis
	if basis == nil {
		basis = []models.BasisEntry{}
	}
	return c.patch(ctx, c.actorsIndex(), actorID, map[string]any{
		"risk_score":     profile.Score,
		"risk_tier":      profile.Tier,
		"basis":          basis,
		"last_scored_at": scoredAt,
	})
}

func (c *Client) ActorsByClaim(ctx context.Context, claimID string) ([]models.Actor, error) {
	return c.searchActors(ctx, map[string]any{"bool": map[string]any{"filter": []map[string]any{{"term": map[string]any{"claim_ids": claimID}}}}}, 1000)
}

func (c *Client) ListActors(ctx context.Context, limit int) ([]models.Actor, error) {
	return c.searchActors(ctx, map[string]any{"match_all": map[string]any{}}, store.NormalizeLimit(limit))
}

func (c *Client) searchActors(ctx context.Context, query map[string]any, size int) ([]models.Actor, error) {
	hits, _, err := c.search(ctx, c.actorsIndex(), map[string]any{
		"size":  size,
		"query": query,
		"sort":  []map[string]any{{"id": map[string]any{"order": "asc"}}},
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Actor, 0, len(hits))
	for _, h := range hits {
		var a models.Actor
		if err := json.Unmarshal(h.Source, &a); err != nil {
			return nil, fmt.Errorf("decode actor: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
